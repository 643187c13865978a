package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/matheus3301/chatterbox/internal/remote"
)

var (
	// ErrSelfConversation rejects a chat with oneself.
	ErrSelfConversation = errors.New("cannot start a conversation with yourself")
	// ErrProfileNotFound is returned when a profile reference matches nothing.
	ErrProfileNotFound = errors.New("profile not found")
	// ErrNotParticipant rejects access to someone else's conversation.
	ErrNotParticipant = errors.New("not a participant of this conversation")
	// ErrNoConversation is returned when a window has nothing open.
	ErrNoConversation = errors.New("no conversation open")
)

// Summary is a conversation as listed: the record plus the other party.
type Summary struct {
	Conversation remote.Conversation `json:"conversation"`
	Other        *remote.Profile     `json:"other,omitempty"`
}

// ListConversations returns me's conversations, most recently active
// first, each with the other participant's profile.
func ListConversations(ctx context.Context, c *remote.Client, me string) ([]Summary, error) {
	mine, err := c.ParticipationsOf(ctx, me)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(mine))
	for _, p := range mine {
		ids = append(ids, p.ConversationID)
	}
	convs, err := c.Conversations(ctx, ids)
	if err != nil {
		return nil, err
	}
	parts, err := c.Participants(ctx, ids)
	if err != nil {
		return nil, err
	}
	others := make(map[string]*remote.Profile, len(parts))
	for _, p := range parts {
		if p.ProfileID != me && p.Profile != nil {
			others[p.ConversationID] = p.Profile
		}
	}
	out := make([]Summary, 0, len(convs))
	for _, cv := range convs {
		out = append(out, Summary{Conversation: cv, Other: others[cv.ID]})
	}
	return out, nil
}

// CreateConversation starts a two-party conversation between me and
// other.
func CreateConversation(ctx context.Context, c *remote.Client, me, other string, at time.Time) (remote.Conversation, error) {
	if other == me {
		return remote.Conversation{}, ErrSelfConversation
	}
	if _, err := c.GetProfile(ctx, other); err != nil {
		if remote.IsNotFound(err) {
			return remote.Conversation{}, ErrProfileNotFound
		}
		return remote.Conversation{}, err
	}
	conv, err := c.CreateConversation(ctx, at, me, other)
	if err != nil {
		return remote.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

// names reports whether ref is p's id or username.
func names(p remote.Profile, ref string) bool {
	ref = strings.TrimSpace(ref)
	return ref != "" && (p.ID == ref || strings.EqualFold(p.Username, ref))
}

// ResolveProfile finds a profile other than me by id or username.
func ResolveProfile(ctx context.Context, c *remote.Client, me, ref string) (remote.Profile, error) {
	ref = strings.TrimSpace(ref)
	profiles, err := c.ListProfiles(ctx, me)
	if err != nil {
		return remote.Profile{}, err
	}
	for _, p := range profiles {
		if names(p, ref) {
			return p, nil
		}
	}
	return remote.Profile{}, fmt.Errorf("%w: %s", ErrProfileNotFound, ref)
}
