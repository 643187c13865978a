package api

import (
	"context"
	"time"

	"github.com/matheus3301/chatterbox/internal/chat"
	"github.com/matheus3301/chatterbox/internal/delivery"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// ChatService implements the ChatService gRPC service.
type ChatService struct {
	chat *chat.Service
}

// NewChatService creates a new chat service.
func NewChatService(svc *chat.Service) *ChatService {
	return &ChatService{chat: svc}
}

func (s *ChatService) ListConversations(ctx context.Context, _ *ListConversationsRequest) (*ListConversationsResponse, error) {
	list, err := s.chat.Conversations(ctx)
	if err != nil {
		return nil, toStatus("list conversations", err)
	}
	return &ListConversationsResponse{Conversations: list}, nil
}

func (s *ChatService) ListProfiles(ctx context.Context, _ *ListProfilesRequest) (*ListProfilesResponse, error) {
	profiles, err := s.chat.Profiles(ctx)
	if err != nil {
		return nil, toStatus("list profiles", err)
	}
	return &ListProfilesResponse{Profiles: profiles}, nil
}

func (s *ChatService) CreateConversation(ctx context.Context, req *CreateConversationRequest) (*CreateConversationResponse, error) {
	if req.Profile == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "profile is required")
	}
	conv, err := s.chat.StartConversation(ctx, req.Profile)
	if err != nil {
		return nil, toStatus("create conversation", err)
	}
	return &CreateConversationResponse{Conversation: conv}, nil
}

func (s *ChatService) GetThread(ctx context.Context, req *ThreadRequest) (*ThreadResponse, error) {
	if req.ConversationID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "conversation_id is required")
	}
	rows, err := s.chat.Thread(ctx, req.ConversationID)
	if err != nil {
		return nil, toStatus("get thread", err)
	}
	return &ThreadResponse{ConversationID: req.ConversationID, Rows: rows}, nil
}

func (s *ChatService) SendMessage(ctx context.Context, req *SendMessageRequest) (*SendMessageResponse, error) {
	if req.ConversationID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "conversation_id is required")
	}
	m, err := s.chat.Send(ctx, req.ConversationID, req.Text)
	if err != nil {
		return nil, toStatus("send message", err)
	}
	return &SendMessageResponse{Message: m}, nil
}

// WatchThread streams the thread after every change. Bursts are sent at
// most every 100ms.
func (s *ChatService) WatchThread(req *ThreadRequest, stream grpc.ServerStreamingServer[ThreadResponse]) error {
	if req.ConversationID == "" {
		return grpcstatus.Error(codes.InvalidArgument, "conversation_id is required")
	}
	var last time.Time
	err := s.chat.Watch(stream.Context(), req.ConversationID, func(rows []delivery.Row) error {
		if wait := 100*time.Millisecond - time.Since(last); wait > 0 {
			time.Sleep(wait)
		}
		last = time.Now()
		return stream.Send(&ThreadResponse{ConversationID: req.ConversationID, Rows: rows})
	})
	if err != nil {
		return toStatus("watch thread", err)
	}
	return nil
}
