package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/matheus3301/chatterbox/internal/bus"
	"github.com/matheus3301/chatterbox/internal/remote"
	"go.uber.org/zap"
)

const (
	heartbeatInterval = 30 * time.Second
	channelBuffer     = 256
)

// Phoenix protocol events.
const (
	phxJoin         = "phx_join"
	phxLeave        = "phx_leave"
	phxReply        = "phx_reply"
	phxError        = "phx_error"
	phxClose        = "phx_close"
	phxHeartbeat    = "heartbeat"
	phxAccessToken  = "access_token"
	postgresChanges = "postgres_changes"
)

type frame struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     *string         `json:"ref"`
}

type changeConfig struct {
	Event  string `json:"event"`
	Schema string `json:"schema"`
	Table  string `json:"table"`
	Filter string `json:"filter,omitempty"`
}

type joinPayload struct {
	Config struct {
		PostgresChanges []changeConfig `json:"postgres_changes"`
	} `json:"config"`
	AccessToken string `json:"access_token,omitempty"`
}

type tokenPayload struct {
	AccessToken string `json:"access_token"`
}

type replyPayload struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

type changePayload struct {
	Data struct {
		Type            string         `json:"type"`
		Table           string         `json:"table"`
		Record          map[string]any `json:"record"`
		OldRecord       map[string]any `json:"old_record"`
		CommitTimestamp time.Time      `json:"commit_timestamp"`
	} `json:"data"`
}

// channel is one joined topic and its delivery queue. A channel the server
// rejects or closes is rejoined on the same connection with backoff.
type channel struct {
	topic     string
	sub       remote.Subscription
	queue     chan remote.Change
	done      chan struct{}
	joined    bool
	rejoining bool
	retry     *backoff.ExponentialBackOff
}

func newRejoinBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// Realtime keeps one websocket to the realtime server and multiplexes a
// channel per subscription over it. It reconnects with exponential
// backoff and rejoins every channel.
type Realtime struct {
	endpoint string
	apiKey   string
	tokens   TokenSource
	bus      *bus.Bus
	logger   *zap.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	channels map[string]*channel
	ref      uint64
	topicSeq uint64
	token    string
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewRealtime creates a realtime client for the project at baseURL.
// Connection state changes are published on b as feed.down and feed.up.
func NewRealtime(baseURL, apiKey string, tokens TokenSource, b *bus.Bus, logger *zap.Logger) (*Realtime, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/") + "/realtime/v1/websocket")
	if err != nil {
		return nil, fmt.Errorf("parse realtime url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	q := u.Query()
	q.Set("apikey", apiKey)
	q.Set("vsn", "1.0.0")
	u.RawQuery = q.Encode()

	if logger == nil {
		logger = zap.NewNop()
	}
	if b == nil {
		b = bus.New()
	}
	return &Realtime{
		endpoint: u.String(),
		apiKey:   apiKey,
		tokens:   tokens,
		bus:      b,
		logger:   logger.With(zap.String("component", "realtime")),
		channels: make(map[string]*channel),
	}, nil
}

// Start begins connecting in the background.
func (r *Realtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.done = make(chan struct{})
	r.mu.Unlock()
	go r.run(ctx)
	return nil
}

// Stop closes the connection and waits for the background loop.
func (r *Realtime) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Subscribe joins a channel for sub. Events are delivered to fn in order
// from a dedicated goroutine. Close must not be called from fn.
func (r *Realtime) Subscribe(ctx context.Context, sub remote.Subscription, fn func(remote.Change)) (remote.Handle, error) {
	r.mu.Lock()
	r.topicSeq++
	ch := &channel{
		topic: "realtime:chatterbox-" + sub.Table + "-" + strconv.FormatUint(r.topicSeq, 10),
		sub:   sub,
		queue: make(chan remote.Change, channelBuffer),
		done:  make(chan struct{}),
		retry: newRejoinBackOff(),
	}
	r.channels[ch.topic] = ch
	conn := r.conn
	r.mu.Unlock()

	if conn != nil {
		if err := r.join(ctx, conn, ch); err != nil {
			r.logger.Warn("channel join failed, will retry on reconnect", zap.String("topic", ch.topic), zap.Error(err))
		}
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		for {
			select {
			case c := <-ch.queue:
				fn(c)
			case <-ch.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	var once sync.Once
	return remote.HandleFunc(func() error {
		var err error
		once.Do(func() {
			r.mu.Lock()
			delete(r.channels, ch.topic)
			conn := r.conn
			r.mu.Unlock()
			if conn != nil {
				err = r.send(context.Background(), conn, ch.topic, phxLeave, struct{}{})
			}
			close(ch.done)
			<-stopped
		})
		return err
	}), nil
}

func (r *Realtime) nextRef() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ref++
	return strconv.FormatUint(r.ref, 10)
}

func (r *Realtime) send(ctx context.Context, conn *websocket.Conn, topic, event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	ref := r.nextRef()
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return wsjson.Write(ctx, conn, frame{Topic: topic, Event: event, Payload: raw, Ref: &ref})
}

func joinConfig(sub remote.Subscription) []changeConfig {
	filter := ""
	if sub.Filter != nil {
		filter = fmt.Sprintf("%s=%s.%s", sub.Filter.Column, sub.Filter.Op, remote.FormatValue(sub.Filter.Value))
	}
	events := sub.Events
	if len(events) == 0 {
		return []changeConfig{{Event: "*", Schema: "public", Table: sub.Table, Filter: filter}}
	}
	out := make([]changeConfig, 0, len(events))
	for _, e := range events {
		out = append(out, changeConfig{Event: string(e), Schema: "public", Table: sub.Table, Filter: filter})
	}
	return out
}

func (r *Realtime) join(ctx context.Context, conn *websocket.Conn, ch *channel) error {
	var p joinPayload
	p.Config.PostgresChanges = joinConfig(ch.sub)
	if r.tokens != nil {
		token, err := r.tokens.AccessToken(ctx)
		if err != nil {
			return err
		}
		p.AccessToken = token
		r.mu.Lock()
		r.token = token
		r.mu.Unlock()
	}
	return r.send(ctx, conn, ch.topic, phxJoin, p)
}

// rejoin joins ch again on conn after its backoff delay, unless the
// channel was closed or the connection replaced in the meantime. Each
// attempt asks for a fresh token.
func (r *Realtime) rejoin(ctx context.Context, conn *websocket.Conn, ch *channel) {
	r.mu.Lock()
	if ch.rejoining {
		r.mu.Unlock()
		return
	}
	ch.rejoining = true
	ch.joined = false
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		ch.rejoining = false
		r.mu.Unlock()
	}()

	for {
		r.mu.Lock()
		wait := ch.retry.NextBackOff()
		r.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ch.done:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		}

		r.mu.Lock()
		live := r.conn == conn && r.channels[ch.topic] == ch
		r.mu.Unlock()
		if !live {
			return
		}
		r.logger.Info("rejoining realtime channel", zap.String("topic", ch.topic), zap.Duration("after", wait))
		err := r.join(ctx, conn, ch)
		if err == nil {
			return
		}
		r.logger.Warn("realtime rejoin failed", zap.String("topic", ch.topic), zap.Error(err))
	}
}

// RefreshToken pushes the current access token to every joined channel
// when it differs from the one they joined with, so row-level security
// keeps applying after the session is refreshed.
func (r *Realtime) RefreshToken(ctx context.Context) error {
	if r.tokens == nil {
		return nil
	}
	token, err := r.tokens.AccessToken(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	conn := r.conn
	if conn == nil || token == r.token {
		r.mu.Unlock()
		return nil
	}
	r.token = token
	var topics []string
	for topic, ch := range r.channels {
		if ch.joined {
			topics = append(topics, topic)
		}
	}
	r.mu.Unlock()

	for _, topic := range topics {
		if err := r.send(ctx, conn, topic, phxAccessToken, tokenPayload{AccessToken: token}); err != nil {
			return fmt.Errorf("push token to %s: %w", topic, err)
		}
	}
	r.logger.Debug("realtime token refreshed", zap.Int("channels", len(topics)))
	return nil
}

func (r *Realtime) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, r.endpoint, nil)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(1 << 20)
	return conn, nil
}

func (r *Realtime) run(ctx context.Context) {
	defer close(r.done)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0

	connected := false
	for {
		var conn *websocket.Conn
		err := backoff.RetryNotify(func() error {
			c, err := r.dial(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return backoff.Permanent(ctx.Err())
				}
				return err
			}
			conn = c
			return nil
		}, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
			r.logger.Warn("realtime connect failed", zap.Error(err), zap.Duration("retry_in", wait))
		})
		if err != nil {
			return
		}
		b.Reset()
		if connected {
			r.logger.Info("realtime reconnected")
			r.bus.Emit(bus.KindFeedUp, nil)
		}
		connected = true

		err = r.serve(ctx, conn)
		if ctx.Err() != nil {
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return
		}
		r.logger.Warn("realtime connection lost", zap.Error(err))
		r.bus.Emit(bus.KindFeedDown, err)
		_ = conn.CloseNow()
	}
}

// serve joins every channel on conn and reads frames until it fails.
func (r *Realtime) serve(ctx context.Context, conn *websocket.Conn) error {
	r.mu.Lock()
	r.conn = conn
	channels := make([]*channel, 0, len(r.channels))
	for _, ch := range r.channels {
		ch.joined = false
		channels = append(channels, ch)
	}
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.conn = nil
		r.mu.Unlock()
	}()

	for _, ch := range channels {
		if err := r.join(ctx, conn, ch); err != nil {
			return fmt.Errorf("join %s: %w", ch.topic, err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go r.heartbeat(ctx, conn)

	for {
		var f frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			return err
		}
		r.dispatch(ctx, conn, f)
	}
}

func (r *Realtime) heartbeat(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := r.send(ctx, conn, "phoenix", phxHeartbeat, struct{}{}); err != nil {
				r.logger.Warn("realtime heartbeat failed", zap.Error(err))
				_ = conn.CloseNow()
				return
			}
			if err := r.RefreshToken(ctx); err != nil {
				r.logger.Warn("realtime token refresh failed", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

func (r *Realtime) dispatch(ctx context.Context, conn *websocket.Conn, f frame) {
	r.mu.Lock()
	ch := r.channels[f.Topic]
	r.mu.Unlock()
	if ch == nil {
		return
	}

	switch f.Event {
	case phxReply:
		var reply replyPayload
		if err := json.Unmarshal(f.Payload, &reply); err != nil {
			return
		}
		if reply.Status != "ok" {
			r.logger.Warn("realtime channel rejected", zap.String("topic", f.Topic), zap.ByteString("response", reply.Response))
			go r.rejoin(ctx, conn, ch)
			return
		}
		r.mu.Lock()
		if !ch.joined {
			ch.joined = true
			ch.retry.Reset()
			r.logger.Debug("realtime channel joined", zap.String("topic", f.Topic))
		}
		r.mu.Unlock()
	case phxError, phxClose:
		r.logger.Warn("realtime channel closed by server", zap.String("topic", f.Topic), zap.String("event", f.Event))
		go r.rejoin(ctx, conn, ch)
	case postgresChanges:
		c, err := decodeChange(f.Payload)
		if err != nil {
			r.logger.Warn("dropping malformed realtime change", zap.Error(err))
			return
		}
		if !ch.sub.Matches(c) {
			return
		}
		select {
		case ch.queue <- c:
		default:
			r.logger.Warn("realtime subscriber is full, dropping change", zap.String("topic", f.Topic))
		}
	}
}

func decodeChange(raw json.RawMessage) (remote.Change, error) {
	var p changePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return remote.Change{}, err
	}
	if p.Data.Table == "" || p.Data.Type == "" {
		return remote.Change{}, errors.New("change without table or type")
	}
	return remote.Change{
		Table:       p.Data.Table,
		Type:        remote.EventType(p.Data.Type),
		Record:      p.Data.Record,
		Old:         p.Data.OldRecord,
		CommittedAt: p.Data.CommitTimestamp.UTC(),
	}, nil
}
