package api

import (
	"context"
	"time"

	"github.com/matheus3301/chatterbox/internal/chat"
	"github.com/matheus3301/chatterbox/internal/status"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// SessionService implements the SessionService gRPC service.
type SessionService struct {
	sessionName string
	backend     string
	startedAt   time.Time
	machine     *status.Machine
	chat        *chat.Service
}

// NewSessionService creates a new session service.
func NewSessionService(sessionName, backend string, machine *status.Machine, svc *chat.Service) *SessionService {
	return &SessionService{
		sessionName: sessionName,
		backend:     backend,
		startedAt:   time.Now(),
		machine:     machine,
		chat:        svc,
	}
}

func (s *SessionService) GetStatus(_ context.Context, _ *GetStatusRequest) (*GetStatusResponse, error) {
	resp := &GetStatusResponse{
		Session:  s.sessionName,
		Status:   string(s.machine.Current()),
		UptimeMs: time.Since(s.startedAt).Milliseconds(),
		Backend:  s.backend,
	}
	if me, err := s.chat.Me(); err == nil {
		resp.Profile = &me
	}
	return resp, nil
}

func (s *SessionService) SignIn(ctx context.Context, req *CredentialsRequest) (*SignInResponse, error) {
	return s.signIn(ctx, "sign in", func(ctx context.Context) (*SignInResponse, error) {
		p, err := s.chat.SignIn(ctx, req.Email, req.Password)
		if err != nil {
			return nil, err
		}
		return &SignInResponse{Profile: p}, nil
	})
}

func (s *SessionService) SignUp(ctx context.Context, req *CredentialsRequest) (*SignInResponse, error) {
	return s.signIn(ctx, "sign up", func(ctx context.Context) (*SignInResponse, error) {
		p, err := s.chat.SignUp(ctx, req.Email, req.Password)
		if err != nil {
			return nil, err
		}
		return &SignInResponse{Profile: p}, nil
	})
}

// signIn runs fn inside the AUTH_REQUIRED → CONNECTING → READY walk,
// falling back to AUTH_REQUIRED when it fails.
func (s *SessionService) signIn(ctx context.Context, op string, fn func(context.Context) (*SignInResponse, error)) (*SignInResponse, error) {
	if cur := s.machine.Current(); cur != status.AuthRequired {
		return nil, grpcstatus.Errorf(codes.FailedPrecondition, "%s: session is %s; sign out first", op, cur)
	}
	if err := s.machine.Transition(status.Connecting); err != nil {
		return nil, grpcstatus.Errorf(codes.FailedPrecondition, "%s: %v", op, err)
	}
	resp, err := fn(ctx)
	if err != nil {
		_ = s.machine.Transition(status.AuthRequired)
		return nil, toStatus(op, err)
	}
	if err := s.machine.SignedIn(); err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "%s: %v", op, err)
	}
	return resp, nil
}

func (s *SessionService) SignOut(ctx context.Context, _ *SignOutRequest) (*Ack, error) {
	if err := s.chat.SignOut(ctx); err != nil {
		return nil, toStatus("sign out", err)
	}
	switch s.machine.Current() {
	case status.Ready, status.Degraded:
		_ = s.machine.Transition(status.AuthRequired)
	}
	return &Ack{Message: "signed out"}, nil
}

func (s *SessionService) ResetPassword(ctx context.Context, req *ResetPasswordRequest) (*Ack, error) {
	if err := s.chat.ResetPassword(ctx, req.Email); err != nil {
		return nil, toStatus("reset password", err)
	}
	return &Ack{Message: "if the address is registered, a reset link is on its way"}, nil
}
