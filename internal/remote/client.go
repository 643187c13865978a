package remote

import (
	"context"
	"fmt"
	"time"
)

// Client is the typed view over a Store used by the chat packages.
type Client struct {
	store        Store
	messageOrder []Order
}

// TieBreaker is implemented by stores whose messages table lacks the seq
// column. The returned column orders messages sharing a created_at.
type TieBreaker interface {
	MessageTieBreak() string
}

// NewClient wraps a generic store.
func NewClient(s Store) *Client {
	tie := "seq"
	if tb, ok := s.(TieBreaker); ok {
		tie = tb.MessageTieBreak()
	}
	return &Client{
		store:        s,
		messageOrder: []Order{{Column: "created_at"}, {Column: tie}},
	}
}

// Store returns the underlying generic store.
func (c *Client) Store() Store { return c.store }

var profileEmbed = Embed{As: "profile", Table: TableProfiles, Column: "profile_id"}

// FetchMessages returns a conversation's messages with sender profiles,
// oldest first.
func (c *Client) FetchMessages(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := c.store.Select(ctx, Query{
		Table:   TableMessages,
		Filters: []Filter{Eq("conversation_id", conversationID)},
		Order:   c.messageOrder,
		Embeds:  []Embed{profileEmbed},
	})
	if err != nil {
		return nil, fmt.Errorf("select messages: %w", err)
	}
	return Decode[Message](rows)
}

// InsertMessage stores a new message and returns the stored row.
func (c *Client) InsertMessage(ctx context.Context, m Message) (Message, error) {
	rows, err := c.store.Insert(ctx, TableMessages, []Row{{
		"conversation_id": m.ConversationID,
		"profile_id":      m.ProfileID,
		"content":         m.Content,
		"created_at":      m.CreatedAt.UTC(),
		"is_received":     false,
		"is_delivered":    false,
		"is_read":         false,
	}})
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}
	return DecodeOne[Message](rows)
}

// SetFlagIfUnset sets stage on every id whose flag is still false and
// returns the ids that actually changed.
func (c *Client) SetFlagIfUnset(ctx context.Context, ids []string, stage Stage, at time.Time) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := c.store.Update(ctx, TableMessages,
		Row{stage.FlagColumn(): true, stage.TimeColumn(): at.UTC()},
		[]Filter{In("id", ids), Eq(stage.FlagColumn(), false)},
	)
	if err != nil {
		return nil, fmt.Errorf("set %s: %w", stage, err)
	}
	changed := make([]string, 0, len(rows))
	for _, r := range rows {
		if id, ok := r["id"].(string); ok {
			changed = append(changed, id)
		}
	}
	return changed, nil
}

// TouchConversation refreshes a conversation's latest-message preview.
func (c *Client) TouchConversation(ctx context.Context, conversationID, text string, at time.Time) error {
	_, err := c.store.Update(ctx, TableConversations,
		Row{"last_message": text, "last_message_time": at.UTC(), "updated_at": at.UTC()},
		[]Filter{Eq("id", conversationID)},
	)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return nil
}

// SubscribeMessages delivers inserts and updates of one conversation's
// messages.
func (c *Client) SubscribeMessages(ctx context.Context, conversationID string, fn func(Change)) (Handle, error) {
	f := Eq("conversation_id", conversationID)
	return c.store.Subscribe(ctx, Subscription{
		Table:  TableMessages,
		Events: []EventType{EventInsert, EventUpdate},
		Filter: &f,
	}, fn)
}

// GetProfile returns the profile with id, or a not-found error.
func (c *Client) GetProfile(ctx context.Context, id string) (Profile, error) {
	rows, err := c.store.Select(ctx, Query{
		Table:   TableProfiles,
		Filters: []Filter{Eq("id", id)},
		Limit:   1,
	})
	if err != nil {
		return Profile{}, fmt.Errorf("select profile: %w", err)
	}
	return DecodeOne[Profile](rows)
}

// InsertProfile creates a profile.
func (c *Client) InsertProfile(ctx context.Context, p Profile) (Profile, error) {
	row := Row{"id": p.ID, "username": p.Username, "created_at": p.CreatedAt.UTC()}
	if p.AvatarURL != nil {
		row["avatar_url"] = *p.AvatarURL
	}
	rows, err := c.store.Insert(ctx, TableProfiles, []Row{row})
	if err != nil {
		return Profile{}, fmt.Errorf("insert profile: %w", err)
	}
	return DecodeOne[Profile](rows)
}

// ListProfiles returns every profile except exclude, by username.
func (c *Client) ListProfiles(ctx context.Context, exclude string) ([]Profile, error) {
	q := Query{Table: TableProfiles, Order: []Order{{Column: "username"}}}
	if exclude != "" {
		q.Filters = []Filter{Neq("id", exclude)}
	}
	rows, err := c.store.Select(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("select profiles: %w", err)
	}
	return Decode[Profile](rows)
}

// ParticipationsOf returns the participant rows of profileID.
func (c *Client) ParticipationsOf(ctx context.Context, profileID string) ([]Participant, error) {
	rows, err := c.store.Select(ctx, Query{
		Table:   TableParticipants,
		Filters: []Filter{Eq("profile_id", profileID)},
	})
	if err != nil {
		return nil, fmt.Errorf("select participations: %w", err)
	}
	return Decode[Participant](rows)
}

// Participants returns the participants of the given conversations with
// their profiles.
func (c *Client) Participants(ctx context.Context, conversationIDs []string) ([]Participant, error) {
	if len(conversationIDs) == 0 {
		return nil, nil
	}
	rows, err := c.store.Select(ctx, Query{
		Table:   TableParticipants,
		Filters: []Filter{In("conversation_id", conversationIDs)},
		Embeds:  []Embed{profileEmbed},
	})
	if err != nil {
		return nil, fmt.Errorf("select participants: %w", err)
	}
	return Decode[Participant](rows)
}

// IsParticipant reports whether profileID takes part in conversationID.
func (c *Client) IsParticipant(ctx context.Context, conversationID, profileID string) (bool, error) {
	rows, err := c.store.Select(ctx, Query{
		Table:   TableParticipants,
		Filters: []Filter{Eq("conversation_id", conversationID), Eq("profile_id", profileID)},
		Limit:   1,
	})
	if err != nil {
		return false, fmt.Errorf("select participant: %w", err)
	}
	return len(rows) > 0, nil
}

// OtherParticipant returns the participant of conversationID that is not
// profileID.
func (c *Client) OtherParticipant(ctx context.Context, conversationID, profileID string) (Participant, error) {
	rows, err := c.store.Select(ctx, Query{
		Table:   TableParticipants,
		Filters: []Filter{Eq("conversation_id", conversationID), Neq("profile_id", profileID)},
		Embeds:  []Embed{profileEmbed},
		Limit:   1,
	})
	if err != nil {
		return Participant{}, fmt.Errorf("select other participant: %w", err)
	}
	return DecodeOne[Participant](rows)
}

// Conversations returns the given conversations, most recently active first.
func (c *Client) Conversations(ctx context.Context, ids []string) ([]Conversation, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := c.store.Select(ctx, Query{
		Table:   TableConversations,
		Filters: []Filter{In("id", ids)},
		Order:   []Order{{Column: "updated_at", Desc: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("select conversations: %w", err)
	}
	return Decode[Conversation](rows)
}

// CreateConversation inserts a conversation and its participant rows. If
// the participants cannot be stored the conversation row is removed again.
func (c *Client) CreateConversation(ctx context.Context, at time.Time, profileIDs ...string) (Conversation, error) {
	rows, err := c.store.Insert(ctx, TableConversations, []Row{{
		"created_at": at.UTC(),
		"updated_at": at.UTC(),
	}})
	if err != nil {
		return Conversation{}, fmt.Errorf("insert conversation: %w", err)
	}
	conv, err := DecodeOne[Conversation](rows)
	if err != nil {
		return Conversation{}, err
	}
	parts := make([]Row, 0, len(profileIDs))
	for _, id := range profileIDs {
		parts = append(parts, Row{"conversation_id": conv.ID, "profile_id": id, "created_at": at.UTC()})
	}
	if _, err := c.store.Insert(ctx, TableParticipants, parts); err != nil {
		if derr := c.store.Delete(context.WithoutCancel(ctx), TableConversations,
			[]Filter{Eq("id", conv.ID)}); derr != nil {
			return Conversation{}, fmt.Errorf("insert participants: %w (conversation %s left behind: %v)", err, conv.ID, derr)
		}
		return Conversation{}, fmt.Errorf("insert participants: %w", err)
	}
	return conv, nil
}
