package chat

import (
	"context"
	"errors"
	"testing"

	"github.com/matheus3301/chatterbox/internal/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// scriptedStore answers profile reads and inserts from canned results.
type scriptedStore struct {
	selects   [][]remote.Row
	selectErr []error
	insertErr error
	inserted  []remote.Row
}

func (s *scriptedStore) Select(_ context.Context, _ remote.Query) ([]remote.Row, error) {
	var rows []remote.Row
	var err error
	if len(s.selects) > 0 {
		rows, s.selects = s.selects[0], s.selects[1:]
	}
	if len(s.selectErr) > 0 {
		err, s.selectErr = s.selectErr[0], s.selectErr[1:]
	}
	return rows, err
}

func (s *scriptedStore) Insert(_ context.Context, _ string, rows []remote.Row) ([]remote.Row, error) {
	s.inserted = append(s.inserted, rows...)
	if s.insertErr != nil {
		return nil, s.insertErr
	}
	return rows, nil
}

func (s *scriptedStore) Update(context.Context, string, remote.Row, []remote.Filter) ([]remote.Row, error) {
	return nil, errors.New("not implemented")
}

func (s *scriptedStore) Delete(context.Context, string, []remote.Filter) error {
	return errors.New("not implemented")
}

func (s *scriptedStore) Subscribe(context.Context, remote.Subscription, func(remote.Change)) (remote.Handle, error) {
	return nil, errors.New("not implemented")
}

var alex = remote.Identity{UserID: "u1", Email: "alex@example.com"}

func TestUsernameFromEmail(t *testing.T) {
	assert.Equal(t, "alex", UsernameFromEmail("alex@example.com"))
	assert.Equal(t, "alex", UsernameFromEmail("alex"))
	assert.Equal(t, "user", UsernameFromEmail("@example.com"))
}

func TestEnsureProfileReturnsExisting(t *testing.T) {
	s := &scriptedStore{selects: [][]remote.Row{{{"id": "u1", "username": "alexandra"}}}}
	p, err := EnsureProfile(context.Background(), remote.NewClient(s), alex, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "alexandra", p.Username)
	assert.Empty(t, s.inserted)
}

func TestEnsureProfileCreatesMissing(t *testing.T) {
	s := &scriptedStore{}
	p, err := EnsureProfile(context.Background(), remote.NewClient(s), alex, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "alex", p.Username)
	require.Len(t, s.inserted, 1)
	assert.Equal(t, "u1", s.inserted[0]["id"])
}

func TestEnsureProfileRaceRereadsWinner(t *testing.T) {
	s := &scriptedStore{
		selects:   [][]remote.Row{nil, {{"id": "u1", "username": "winner"}}},
		insertErr: &remote.Error{Code: remote.CodeUniqueViolation},
	}
	p, err := EnsureProfile(context.Background(), remote.NewClient(s), alex, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "winner", p.Username)
}

func TestEnsureProfileRaceFallsBackWhenRereadFails(t *testing.T) {
	s := &scriptedStore{
		selectErr: []error{nil, errors.New("connection reset")},
		insertErr: &remote.Error{Code: remote.CodeUniqueViolation},
	}
	p, err := EnsureProfile(context.Background(), remote.NewClient(s), alex, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "u1", p.ID)
	assert.Equal(t, "alex", p.Username)
}

func TestEnsureProfileRowLevelSecurityUsesPlaceholder(t *testing.T) {
	s := &scriptedStore{insertErr: &remote.Error{Code: remote.CodePermissionDenied}}
	p, err := EnsureProfile(context.Background(), remote.NewClient(s), alex, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "alex", p.Username)
}

func TestEnsureProfileOtherErrorsFail(t *testing.T) {
	s := &scriptedStore{insertErr: &remote.Error{Code: remote.CodeNetwork, Message: "timeout"}}
	_, err := EnsureProfile(context.Background(), remote.NewClient(s), alex, zap.NewNop())
	require.Error(t, err)
	assert.Equal(t, remote.CodeNetwork, remote.Code(err))
}
