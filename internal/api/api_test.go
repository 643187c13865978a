package api

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/chatterbox/internal/bus"
	"github.com/matheus3301/chatterbox/internal/chat"
	"github.com/matheus3301/chatterbox/internal/delivery"
	"github.com/matheus3301/chatterbox/internal/remote"
	"github.com/matheus3301/chatterbox/internal/status"
	"github.com/matheus3301/chatterbox/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type fixture struct {
	db      *store.DB
	feed    *store.JournalFeed
	machine *status.Machine
	svc     *chat.Service
	session *SessionServiceClient
	chat    *ChatServiceClient
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	b := bus.New()
	db, err := store.Open(filepath.Join(t.TempDir(), "api.db"), b, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Migrate()
	require.NoError(t, err)

	feed := store.NewJournalFeed(db)
	require.NoError(t, feed.Rewind(context.Background()))
	require.NoError(t, feed.Start(context.Background()))
	t.Cleanup(feed.Stop)

	machine := status.NewMachine(b)
	require.NoError(t, machine.Transition(status.AuthRequired))
	svc := chat.NewService(remote.NewClient(db), store.NewLocalAuth(db, nil), zap.NewNop(), time.UTC)

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	RegisterSessionServiceServer(srv, NewSessionService("test", "sqlite", machine, svc))
	RegisterChatServiceServer(srv, NewChatService(svc))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		CallOption(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return &fixture{
		db:      db,
		feed:    feed,
		machine: machine,
		svc:     svc,
		session: NewSessionServiceClient(conn),
		chat:    NewChatServiceClient(conn),
	}
}

func codeOfErr(err error) codes.Code {
	return grpcstatus.Code(err)
}

func TestStatusBeforeSignIn(t *testing.T) {
	f := newFixture(t)
	resp, err := f.session.GetStatus(context.Background(), &GetStatusRequest{})
	require.NoError(t, err)
	assert.Equal(t, "test", resp.Session)
	assert.Equal(t, string(status.AuthRequired), resp.Status)
	assert.Equal(t, "sqlite", resp.Backend)
	assert.Nil(t, resp.Profile)

	_, err = f.chat.ListConversations(context.Background(), &ListConversationsRequest{})
	assert.Equal(t, codes.Unauthenticated, codeOfErr(err))
}

func TestSignUpMovesToReady(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.session.SignUp(ctx, &CredentialsRequest{Email: "ana@example.com", Password: "secret123"})
	require.NoError(t, err)
	assert.Equal(t, "ana", resp.Profile.Username)
	assert.Equal(t, status.Ready, f.machine.Current())

	st, err := f.session.GetStatus(ctx, &GetStatusRequest{})
	require.NoError(t, err)
	require.NotNil(t, st.Profile)
	assert.Equal(t, resp.Profile.ID, st.Profile.ID)

	_, err = f.session.SignIn(ctx, &CredentialsRequest{Email: "ana@example.com", Password: "secret123"})
	assert.Equal(t, codes.FailedPrecondition, codeOfErr(err), "signing in twice must be refused")

	_, err = f.session.SignOut(ctx, &SignOutRequest{})
	require.NoError(t, err)
	assert.Equal(t, status.AuthRequired, f.machine.Current())
}

func TestBadCredentialsReturnToAuthRequired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.session.SignUp(ctx, &CredentialsRequest{Email: "ana@example.com", Password: "secret123"})
	require.NoError(t, err)
	_, err = f.session.SignOut(ctx, &SignOutRequest{})
	require.NoError(t, err)

	_, err = f.session.SignIn(ctx, &CredentialsRequest{Email: "ana@example.com", Password: "wrong-password"})
	assert.Equal(t, codes.Unauthenticated, codeOfErr(err))
	assert.Equal(t, status.AuthRequired, f.machine.Current())
}

func TestConversationFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	other := chat.NewService(remote.NewClient(f.db), store.NewLocalAuth(f.db, nil), zap.NewNop(), time.UTC)
	_, err := other.SignUp(ctx, "bo@example.com", "secret123")
	require.NoError(t, err)

	_, err = f.session.SignUp(ctx, &CredentialsRequest{Email: "ana@example.com", Password: "secret123"})
	require.NoError(t, err)

	_, err = f.chat.CreateConversation(ctx, &CreateConversationRequest{Profile: "nobody"})
	assert.Equal(t, codes.NotFound, codeOfErr(err))
	_, err = f.chat.CreateConversation(ctx, &CreateConversationRequest{Profile: "ana"})
	assert.Equal(t, codes.InvalidArgument, codeOfErr(err))

	created, err := f.chat.CreateConversation(ctx, &CreateConversationRequest{Profile: "bo"})
	require.NoError(t, err)
	convID := created.Conversation.ID

	_, err = f.chat.SendMessage(ctx, &SendMessageRequest{ConversationID: convID, Text: "   "})
	assert.Equal(t, codes.InvalidArgument, codeOfErr(err))

	sent, err := f.chat.SendMessage(ctx, &SendMessageRequest{ConversationID: convID, Text: "hi bo"})
	require.NoError(t, err)
	assert.Equal(t, "hi bo", sent.Message.Content)

	thread, err := f.chat.GetThread(ctx, &ThreadRequest{ConversationID: convID})
	require.NoError(t, err)
	require.Len(t, thread.Rows, 1)
	assert.True(t, thread.Rows[0].Own)
	assert.Equal(t, delivery.StatusSent, thread.Rows[0].Status)

	list, err := f.chat.ListConversations(ctx, &ListConversationsRequest{})
	require.NoError(t, err)
	require.Len(t, list.Conversations, 1)
	assert.Equal(t, "bo", list.Conversations[0].Other.Username)
}

func TestWatchThreadStreamsChanges(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	other := chat.NewService(remote.NewClient(f.db), store.NewLocalAuth(f.db, nil), zap.NewNop(), time.UTC)
	_, err := other.SignUp(ctx, "bo@example.com", "secret123")
	require.NoError(t, err)
	_, err = f.session.SignUp(ctx, &CredentialsRequest{Email: "ana@example.com", Password: "secret123"})
	require.NoError(t, err)
	created, err := f.chat.CreateConversation(ctx, &CreateConversationRequest{Profile: "bo"})
	require.NoError(t, err)
	convID := created.Conversation.ID

	stream, err := f.chat.WatchThread(ctx, &ThreadRequest{ConversationID: convID})
	require.NoError(t, err)
	first, err := stream.Recv()
	require.NoError(t, err)
	assert.Empty(t, first.Rows)

	_, err = other.Send(ctx, convID, "hello ana")
	require.NoError(t, err)

	for {
		next, err := stream.Recv()
		require.NoError(t, err)
		if len(next.Rows) == 1 {
			assert.False(t, next.Rows[0].Own)
			assert.Equal(t, "hello ana", next.Rows[0].Message.Content)
			return
		}
	}
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{chat.ErrSignedOut, codes.Unauthenticated},
		{remote.ErrConfirmationPending, codes.FailedPrecondition},
		{chat.ErrNotParticipant, codes.PermissionDenied},
		{&remote.Error{Code: remote.CodeUniqueViolation}, codes.AlreadyExists},
		{&remote.Error{Code: remote.CodeNetwork}, codes.Unavailable},
		{&remote.Error{Code: remote.CodeNotFound}, codes.NotFound},
		{assert.AnError, codes.Internal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, codeOf(tt.err), "%v", tt.err)
	}
	assert.Equal(t, codes.Canceled, grpcstatus.Code(toStatus("op", context.Canceled)))
}
