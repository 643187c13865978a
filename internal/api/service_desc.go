package api

import (
	"context"

	"google.golang.org/grpc"
)

// Full method names.
const (
	SessionServiceName = "chatterbox.v1.SessionService"
	ChatServiceName    = "chatterbox.v1.ChatService"

	SessionService_GetStatus_FullMethodName     = "/" + SessionServiceName + "/GetStatus"
	SessionService_SignIn_FullMethodName        = "/" + SessionServiceName + "/SignIn"
	SessionService_SignUp_FullMethodName        = "/" + SessionServiceName + "/SignUp"
	SessionService_SignOut_FullMethodName       = "/" + SessionServiceName + "/SignOut"
	SessionService_ResetPassword_FullMethodName = "/" + SessionServiceName + "/ResetPassword"

	ChatService_ListConversations_FullMethodName  = "/" + ChatServiceName + "/ListConversations"
	ChatService_ListProfiles_FullMethodName       = "/" + ChatServiceName + "/ListProfiles"
	ChatService_CreateConversation_FullMethodName = "/" + ChatServiceName + "/CreateConversation"
	ChatService_GetThread_FullMethodName          = "/" + ChatServiceName + "/GetThread"
	ChatService_SendMessage_FullMethodName        = "/" + ChatServiceName + "/SendMessage"
	ChatService_WatchThread_FullMethodName        = "/" + ChatServiceName + "/WatchThread"
)

// SessionServiceServer is the account half of the control API.
type SessionServiceServer interface {
	GetStatus(context.Context, *GetStatusRequest) (*GetStatusResponse, error)
	SignIn(context.Context, *CredentialsRequest) (*SignInResponse, error)
	SignUp(context.Context, *CredentialsRequest) (*SignInResponse, error)
	SignOut(context.Context, *SignOutRequest) (*Ack, error)
	ResetPassword(context.Context, *ResetPasswordRequest) (*Ack, error)
}

// ChatServiceServer is the conversation half of the control API.
type ChatServiceServer interface {
	ListConversations(context.Context, *ListConversationsRequest) (*ListConversationsResponse, error)
	ListProfiles(context.Context, *ListProfilesRequest) (*ListProfilesResponse, error)
	CreateConversation(context.Context, *CreateConversationRequest) (*CreateConversationResponse, error)
	GetThread(context.Context, *ThreadRequest) (*ThreadResponse, error)
	SendMessage(context.Context, *SendMessageRequest) (*SendMessageResponse, error)
	WatchThread(*ThreadRequest, grpc.ServerStreamingServer[ThreadResponse]) error
}

func unary[S, Req, Resp any](fullMethod string, call func(S, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(S), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(S), ctx, req.(*Req))
		})
	}
}

var sessionServiceDesc = grpc.ServiceDesc{
	ServiceName: SessionServiceName,
	HandlerType: (*SessionServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetStatus", Handler: unary(SessionService_GetStatus_FullMethodName, SessionServiceServer.GetStatus)},
		{MethodName: "SignIn", Handler: unary(SessionService_SignIn_FullMethodName, SessionServiceServer.SignIn)},
		{MethodName: "SignUp", Handler: unary(SessionService_SignUp_FullMethodName, SessionServiceServer.SignUp)},
		{MethodName: "SignOut", Handler: unary(SessionService_SignOut_FullMethodName, SessionServiceServer.SignOut)},
		{MethodName: "ResetPassword", Handler: unary(SessionService_ResetPassword_FullMethodName, SessionServiceServer.ResetPassword)},
	},
	Metadata: "chatterbox/v1/api",
}

var chatServiceDesc = grpc.ServiceDesc{
	ServiceName: ChatServiceName,
	HandlerType: (*ChatServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListConversations", Handler: unary(ChatService_ListConversations_FullMethodName, ChatServiceServer.ListConversations)},
		{MethodName: "ListProfiles", Handler: unary(ChatService_ListProfiles_FullMethodName, ChatServiceServer.ListProfiles)},
		{MethodName: "CreateConversation", Handler: unary(ChatService_CreateConversation_FullMethodName, ChatServiceServer.CreateConversation)},
		{MethodName: "GetThread", Handler: unary(ChatService_GetThread_FullMethodName, ChatServiceServer.GetThread)},
		{MethodName: "SendMessage", Handler: unary(ChatService_SendMessage_FullMethodName, ChatServiceServer.SendMessage)},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchThread",
			ServerStreams: true,
			Handler: func(srv any, stream grpc.ServerStream) error {
				in := new(ThreadRequest)
				if err := stream.RecvMsg(in); err != nil {
					return err
				}
				return srv.(ChatServiceServer).WatchThread(in, &grpc.GenericServerStream[ThreadRequest, ThreadResponse]{ServerStream: stream})
			},
		},
	},
	Metadata: "chatterbox/v1/api",
}

// RegisterSessionServiceServer registers srv on s.
func RegisterSessionServiceServer(s grpc.ServiceRegistrar, srv SessionServiceServer) {
	s.RegisterService(&sessionServiceDesc, srv)
}

// RegisterChatServiceServer registers srv on s.
func RegisterChatServiceServer(s grpc.ServiceRegistrar, srv ChatServiceServer) {
	s.RegisterService(&chatServiceDesc, srv)
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	if err := cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// SessionServiceClient calls SessionService.
type SessionServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewSessionServiceClient creates a client over cc.
func NewSessionServiceClient(cc grpc.ClientConnInterface) *SessionServiceClient {
	return &SessionServiceClient{cc: cc}
}

func (c *SessionServiceClient) GetStatus(ctx context.Context, in *GetStatusRequest, opts ...grpc.CallOption) (*GetStatusResponse, error) {
	return invoke[GetStatusResponse](ctx, c.cc, SessionService_GetStatus_FullMethodName, in, opts)
}

func (c *SessionServiceClient) SignIn(ctx context.Context, in *CredentialsRequest, opts ...grpc.CallOption) (*SignInResponse, error) {
	return invoke[SignInResponse](ctx, c.cc, SessionService_SignIn_FullMethodName, in, opts)
}

func (c *SessionServiceClient) SignUp(ctx context.Context, in *CredentialsRequest, opts ...grpc.CallOption) (*SignInResponse, error) {
	return invoke[SignInResponse](ctx, c.cc, SessionService_SignUp_FullMethodName, in, opts)
}

func (c *SessionServiceClient) SignOut(ctx context.Context, in *SignOutRequest, opts ...grpc.CallOption) (*Ack, error) {
	return invoke[Ack](ctx, c.cc, SessionService_SignOut_FullMethodName, in, opts)
}

func (c *SessionServiceClient) ResetPassword(ctx context.Context, in *ResetPasswordRequest, opts ...grpc.CallOption) (*Ack, error) {
	return invoke[Ack](ctx, c.cc, SessionService_ResetPassword_FullMethodName, in, opts)
}

// ChatServiceClient calls ChatService.
type ChatServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewChatServiceClient creates a client over cc.
func NewChatServiceClient(cc grpc.ClientConnInterface) *ChatServiceClient {
	return &ChatServiceClient{cc: cc}
}

func (c *ChatServiceClient) ListConversations(ctx context.Context, in *ListConversationsRequest, opts ...grpc.CallOption) (*ListConversationsResponse, error) {
	return invoke[ListConversationsResponse](ctx, c.cc, ChatService_ListConversations_FullMethodName, in, opts)
}

func (c *ChatServiceClient) ListProfiles(ctx context.Context, in *ListProfilesRequest, opts ...grpc.CallOption) (*ListProfilesResponse, error) {
	return invoke[ListProfilesResponse](ctx, c.cc, ChatService_ListProfiles_FullMethodName, in, opts)
}

func (c *ChatServiceClient) CreateConversation(ctx context.Context, in *CreateConversationRequest, opts ...grpc.CallOption) (*CreateConversationResponse, error) {
	return invoke[CreateConversationResponse](ctx, c.cc, ChatService_CreateConversation_FullMethodName, in, opts)
}

func (c *ChatServiceClient) GetThread(ctx context.Context, in *ThreadRequest, opts ...grpc.CallOption) (*ThreadResponse, error) {
	return invoke[ThreadResponse](ctx, c.cc, ChatService_GetThread_FullMethodName, in, opts)
}

func (c *ChatServiceClient) SendMessage(ctx context.Context, in *SendMessageRequest, opts ...grpc.CallOption) (*SendMessageResponse, error) {
	return invoke[SendMessageResponse](ctx, c.cc, ChatService_SendMessage_FullMethodName, in, opts)
}

func (c *ChatServiceClient) WatchThread(ctx context.Context, in *ThreadRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[ThreadResponse], error) {
	stream, err := c.cc.NewStream(ctx, &chatServiceDesc.Streams[0], ChatService_WatchThread_FullMethodName, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[ThreadRequest, ThreadResponse]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
