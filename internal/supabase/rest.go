// Package supabase is the hosted backend: PostgREST for records, GoTrue
// for accounts and the realtime server for change events.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/matheus3301/chatterbox/internal/remote"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("github.com/matheus3301/chatterbox/internal/supabase")

// TokenSource yields the bearer token for a request.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// REST talks to the PostgREST endpoint of a project.
type REST struct {
	baseURL    string
	apiKey     string
	tokens     TokenSource
	httpClient *http.Client
}

// NewREST creates a REST client. tokens may be nil, in which case every
// request is made with the anon key.
func NewREST(baseURL, apiKey string, tokens TokenSource, httpClient *http.Client) *REST {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &REST{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		tokens:     tokens,
		httpClient: httpClient,
	}
}

// Select reads rows matching q.
func (c *REST) Select(ctx context.Context, q remote.Query) ([]remote.Row, error) {
	params := url.Values{}
	params.Set("select", selectClause(q.Embeds))
	if err := encodeFilters(params, q.Filters); err != nil {
		return nil, err
	}
	if len(q.Order) > 0 {
		parts := make([]string, 0, len(q.Order))
		for _, o := range q.Order {
			dir := "asc"
			if o.Desc {
				dir = "desc"
			}
			parts = append(parts, o.Column+"."+dir)
		}
		params.Set("order", strings.Join(parts, ","))
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	return c.do(ctx, http.MethodGet, q.Table, params, nil)
}

// Insert creates rows and returns them as stored.
func (c *REST) Insert(ctx context.Context, table string, rows []remote.Row) ([]remote.Row, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	return c.do(ctx, http.MethodPost, table, nil, rows)
}

// Update patches every row matching filters and returns the rows that
// changed.
func (c *REST) Update(ctx context.Context, table string, patch remote.Row, filters []remote.Filter) ([]remote.Row, error) {
	if len(patch) == 0 {
		return nil, errors.New("empty patch")
	}
	if len(filters) == 0 {
		return nil, errors.New("refusing unfiltered update")
	}
	params := url.Values{}
	if err := encodeFilters(params, filters); err != nil {
		return nil, err
	}
	return c.do(ctx, http.MethodPatch, table, params, patch)
}

// Delete removes every row matching filters.
func (c *REST) Delete(ctx context.Context, table string, filters []remote.Filter) error {
	if len(filters) == 0 {
		return errors.New("refusing unfiltered delete")
	}
	params := url.Values{}
	if err := encodeFilters(params, filters); err != nil {
		return err
	}
	_, err := c.do(ctx, http.MethodDelete, table, params, nil)
	return err
}

// MessageTieBreak orders messages sharing a created_at by id; the hosted
// schema has no seq column.
func (c *REST) MessageTieBreak() string { return "id" }

func selectClause(embeds []remote.Embed) string {
	parts := []string{"*"}
	for _, e := range embeds {
		// profile:profiles!profile_id(*)
		parts = append(parts, fmt.Sprintf("%s:%s!%s(*)", e.As, e.Table, e.Column))
	}
	return strings.Join(parts, ",")
}

func encodeFilters(params url.Values, filters []remote.Filter) error {
	for _, f := range filters {
		switch f.Op {
		case remote.OpEq:
			if f.Value == nil {
				params.Add(f.Column, "is.null")
				continue
			}
			params.Add(f.Column, "eq."+remote.FormatValue(f.Value))
		case remote.OpNeq:
			if f.Value == nil {
				params.Add(f.Column, "not.is.null")
				continue
			}
			params.Add(f.Column, "neq."+remote.FormatValue(f.Value))
		case remote.OpLt:
			params.Add(f.Column, "lt."+remote.FormatValue(f.Value))
		case remote.OpGt:
			params.Add(f.Column, "gt."+remote.FormatValue(f.Value))
		case remote.OpIn:
			values, ok := f.Value.([]string)
			if !ok {
				return fmt.Errorf("filter %s: in needs []string, got %T", f.Column, f.Value)
			}
			quoted := make([]string, len(values))
			for i, v := range values {
				quoted[i] = strconv.Quote(v)
			}
			params.Add(f.Column, "in.("+strings.Join(quoted, ",")+")")
		default:
			return fmt.Errorf("filter %s: unsupported operator %q", f.Column, f.Op)
		}
	}
	return nil
}

func (c *REST) bearer(ctx context.Context) (string, error) {
	if c.tokens == nil {
		return c.apiKey, nil
	}
	return c.tokens.AccessToken(ctx)
}

func (c *REST) do(ctx context.Context, method, table string, params url.Values, body any) (rows []remote.Row, err error) {
	ctx, span := tracer.Start(ctx, "supabase.rest."+strings.ToLower(method))
	span.SetAttributes(attribute.String("db.table", table))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	endpoint := fmt.Sprintf("%s/rest/v1/%s", c.baseURL, table)
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	token, err := c.bearer(ctx)
	if err != nil {
		return nil, err
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=representation")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &remote.Error{Code: remote.CodeNetwork, Message: err.Error()}
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &remote.Error{Code: remote.CodeNetwork, Message: err.Error()}
	}
	if resp.StatusCode >= 400 {
		return nil, decodeError(resp.StatusCode, raw)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, &remote.Error{Code: remote.CodeShape, Message: fmt.Sprintf("parse response: %v", err)}
	}
	return rows, nil
}
