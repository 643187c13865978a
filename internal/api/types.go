package api

import (
	"github.com/matheus3301/chatterbox/internal/chat"
	"github.com/matheus3301/chatterbox/internal/delivery"
	"github.com/matheus3301/chatterbox/internal/remote"
)

type GetStatusRequest struct{}

type GetStatusResponse struct {
	Session  string          `json:"session"`
	Status   string          `json:"status"`
	UptimeMs int64           `json:"uptime_ms"`
	Backend  string          `json:"backend"`
	Profile  *remote.Profile `json:"profile,omitempty"`
}

type CredentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type SignInResponse struct {
	Profile remote.Profile `json:"profile"`
}

type SignOutRequest struct{}

type ResetPasswordRequest struct {
	Email string `json:"email"`
}

// Ack is the response of operations with nothing to return.
type Ack struct {
	Message string `json:"message,omitempty"`
}

type ListConversationsRequest struct{}

type ListConversationsResponse struct {
	Conversations []chat.Summary `json:"conversations"`
}

type ListProfilesRequest struct{}

type ListProfilesResponse struct {
	Profiles []remote.Profile `json:"profiles"`
}

type CreateConversationRequest struct {
	// Profile is the other participant's id or username.
	Profile string `json:"profile"`
}

type CreateConversationResponse struct {
	Conversation remote.Conversation `json:"conversation"`
}

type ThreadRequest struct {
	ConversationID string `json:"conversation_id"`
}

type ThreadResponse struct {
	ConversationID string         `json:"conversation_id"`
	Rows           []delivery.Row `json:"rows"`
}

type SendMessageRequest struct {
	ConversationID string `json:"conversation_id"`
	Text           string `json:"text"`
}

type SendMessageResponse struct {
	Message remote.Message `json:"message"`
}
