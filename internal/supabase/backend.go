package supabase

import (
	"net/http"

	"github.com/matheus3301/chatterbox/internal/bus"
	"github.com/matheus3301/chatterbox/internal/remote"
	"go.uber.org/zap"
)

var _ remote.Store = (*Backend)(nil)

// Backend is a remote.Store over a hosted project: records through REST,
// change events through realtime.
type Backend struct {
	*REST
	*Realtime
	Auth *Auth
}

// Options configures New.
type Options struct {
	URL        string
	AnonKey    string
	Tokens     remote.TokenStore
	Bus        *bus.Bus
	Logger     *zap.Logger
	HTTPClient *http.Client
}

// New wires the REST, auth and realtime clients of one project. Requests
// carry the signed-in user's token so row-level security applies.
func New(opts Options) (*Backend, error) {
	auth := NewAuth(opts.URL, opts.AnonKey, opts.Tokens, opts.HTTPClient)
	rt, err := NewRealtime(opts.URL, opts.AnonKey, auth, opts.Bus, opts.Logger)
	if err != nil {
		return nil, err
	}
	return &Backend{
		REST:     NewREST(opts.URL, opts.AnonKey, auth, opts.HTTPClient),
		Realtime: rt,
		Auth:     auth,
	}, nil
}
