package supabase

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/matheus3301/chatterbox/internal/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticToken string

func (s staticToken) AccessToken(context.Context) (string, error) { return string(s), nil }

func TestSelectEncodesQuery(t *testing.T) {
	var got *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		_, _ = w.Write([]byte(`[{"id":"m1","seq":7}]`))
	}))
	defer srv.Close()

	c := NewREST(srv.URL, "anon", staticToken("user-jwt"), nil)
	rows, err := c.Select(context.Background(), remote.Query{
		Table: remote.TableMessages,
		Filters: []remote.Filter{
			remote.Eq("conversation_id", "c1"),
			remote.Eq("read_at", nil),
			remote.In("id", []string{"a", "b"}),
		},
		Order:  []remote.Order{{Column: "created_at"}, {Column: "seq", Desc: true}},
		Embeds: []remote.Embed{{As: "profile", Table: remote.TableProfiles, Column: "profile_id"}},
		Limit:  10,
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "m1", rows[0]["id"])

	require.NotNil(t, got)
	assert.Equal(t, http.MethodGet, got.Method)
	assert.Equal(t, "/rest/v1/messages", got.URL.Path)
	q := got.URL.Query()
	assert.Equal(t, "*,profile:profiles!profile_id(*)", q.Get("select"))
	assert.Equal(t, "eq.c1", q.Get("conversation_id"))
	assert.Equal(t, "is.null", q.Get("read_at"))
	assert.Equal(t, `in.("a","b")`, q.Get("id"))
	assert.Equal(t, "created_at.asc,seq.desc", q.Get("order"))
	assert.Equal(t, "10", q.Get("limit"))
	assert.Equal(t, "anon", got.Header.Get("apikey"))
	assert.Equal(t, "Bearer user-jwt", got.Header.Get("Authorization"))
}

func TestUpdateSendsPatchWithRepresentation(t *testing.T) {
	var body map[string]any
	var prefer, method string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, prefer = r.Method, r.Header.Get("Prefer")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		assert.Equal(t, "eq.false", r.URL.Query().Get("is_read"))
		_, _ = w.Write([]byte(`[{"id":"m1","is_read":true}]`))
	}))
	defer srv.Close()

	c := NewREST(srv.URL, "anon", nil, nil)
	at := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	rows, err := c.Update(context.Background(), remote.TableMessages,
		remote.Row{"is_read": true, "read_at": at},
		[]remote.Filter{remote.Eq("is_read", false), remote.In("id", []string{"m1"})})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, http.MethodPatch, method)
	assert.Equal(t, "return=representation", prefer)
	assert.Equal(t, true, body["is_read"])
	assert.Equal(t, "2025-06-01T09:00:00Z", body["read_at"])
}

func TestUpdateRefusesUnfiltered(t *testing.T) {
	c := NewREST("http://unused", "anon", nil, nil)
	_, err := c.Update(context.Background(), remote.TableMessages, remote.Row{"is_read": true}, nil)
	assert.Error(t, err)
}

func TestErrorsCarryBackendCodes(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		code   string
	}{
		{"unique violation", http.StatusConflict, `{"code":"23505","message":"duplicate key"}`, remote.CodeUniqueViolation},
		{"row level security", http.StatusForbidden, `{"code":"42501","message":"new row violates row-level security policy"}`, remote.CodePermissionDenied},
		{"expired jwt", http.StatusUnauthorized, `{"code":"PGRST301","message":"JWT expired"}`, remote.CodeUnauthorized},
		{"bare 401", http.StatusUnauthorized, `not json`, remote.CodeUnauthorized},
		{"gotrue", http.StatusBadRequest, `{"error":"invalid_grant","error_description":"Invalid login credentials"}`, remote.CodeUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewREST(srv.URL, "anon", nil, nil).Insert(context.Background(), remote.TableProfiles,
				[]remote.Row{{"id": "u1"}})
			require.Error(t, err)
			assert.Equal(t, tt.code, remote.Code(err))
		})
	}
}

func TestNetworkErrorIsClassified(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewREST(url, "anon", nil, nil).Select(context.Background(), remote.Query{Table: remote.TableProfiles})
	assert.Equal(t, remote.CodeNetwork, remote.Code(err))
}

func TestFetchMessagesOrdersByIDOnHostedSchema(t *testing.T) {
	var order string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = r.URL.Query().Get("order")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := remote.NewClient(NewREST(srv.URL, "anon", nil, nil))
	_, err := c.FetchMessages(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "created_at.asc,id.asc", order)
	assert.NotContains(t, order, "seq")
}

func TestDeleteSendsFilters(t *testing.T) {
	var method, id string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, id = r.Method, r.URL.Query().Get("id")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := NewREST(srv.URL, "anon", nil, nil)
	require.NoError(t, c.Delete(context.Background(), remote.TableConversations, []remote.Filter{remote.Eq("id", "c1")}))
	assert.Equal(t, http.MethodDelete, method)
	assert.Equal(t, "eq.c1", id)

	assert.Error(t, c.Delete(context.Background(), remote.TableConversations, nil))
}
