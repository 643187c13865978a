package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/matheus3301/chatterbox/internal/remote"
	"go.uber.org/zap"
)

// UsernameFromEmail derives a display name from an email address.
func UsernameFromEmail(email string) string {
	local, _, _ := strings.Cut(email, "@")
	if local = strings.TrimSpace(local); local == "" {
		return "user"
	}
	return local
}

// EnsureProfile returns the profile of id, creating it on first sign-in.
// When two clients race to create it, the loser re-reads the winner's row.
// If the store refuses the write (row-level security) or the re-read
// still fails, an in-memory profile stands in so the session can go on.
func EnsureProfile(ctx context.Context, c *remote.Client, id remote.Identity, logger *zap.Logger) (remote.Profile, error) {
	p, err := c.GetProfile(ctx, id.UserID)
	if err == nil {
		return p, nil
	}
	if !remote.IsNotFound(err) {
		return remote.Profile{}, fmt.Errorf("check profile: %w", err)
	}

	fresh := remote.Profile{
		ID:        id.UserID,
		Username:  UsernameFromEmail(id.Email),
		CreatedAt: time.Now().UTC(),
	}
	logger.Info("creating profile", zap.String("user_id", id.UserID), zap.String("username", fresh.Username))
	created, err := c.InsertProfile(ctx, fresh)
	switch {
	case err == nil:
		return created, nil
	case remote.IsUniqueViolation(err):
		if p, rerr := c.GetProfile(ctx, id.UserID); rerr == nil {
			return p, nil
		}
		logger.Warn("profile creation raced and re-read failed, using placeholder", zap.Error(err))
		return fresh, nil
	case remote.IsPermissionDenied(err):
		logger.Warn("profile creation denied by row-level security, using placeholder", zap.Error(err))
		return fresh, nil
	}
	return remote.Profile{}, fmt.Errorf("create profile: %w", err)
}
