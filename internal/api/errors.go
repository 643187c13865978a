package api

import (
	"context"
	"errors"

	"github.com/matheus3301/chatterbox/internal/chat"
	"github.com/matheus3301/chatterbox/internal/delivery"
	"github.com/matheus3301/chatterbox/internal/remote"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// toStatus maps a domain error to a gRPC status error.
func toStatus(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return grpcstatus.FromContextError(err).Err()
	}
	return grpcstatus.Errorf(codeOf(err), "%s: %v", op, err)
}

func codeOf(err error) codes.Code {
	switch {
	case errors.Is(err, chat.ErrSignedOut), errors.Is(err, remote.ErrNoSession):
		return codes.Unauthenticated
	case errors.Is(err, delivery.ErrEmptyMessage), errors.Is(err, chat.ErrSelfConversation):
		return codes.InvalidArgument
	case errors.Is(err, chat.ErrProfileNotFound):
		return codes.NotFound
	case errors.Is(err, chat.ErrNotParticipant):
		return codes.PermissionDenied
	case errors.Is(err, remote.ErrConfirmationPending):
		return codes.FailedPrecondition
	case errors.Is(err, errors.ErrUnsupported):
		return codes.Unimplemented
	}
	switch remote.Code(err) {
	case remote.CodeNotFound:
		return codes.NotFound
	case remote.CodeUniqueViolation:
		return codes.AlreadyExists
	case remote.CodePermissionDenied:
		return codes.PermissionDenied
	case remote.CodeUnauthorized:
		return codes.Unauthenticated
	case remote.CodeNetwork:
		return codes.Unavailable
	}
	return codes.Internal
}
