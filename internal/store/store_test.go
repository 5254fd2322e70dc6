package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/consent-audit/api/schemas"
)

type mockPool struct {
	mock.Mock
}

func (m *mockPool) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockPool) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	callArgs := m.Called(ctx, sql, args)
	return callArgs.Get(0).(pgconn.CommandTag), callArgs.Error(1)
}

func (m *mockPool) Close() {
	m.Called()
}

func sampleMeta() schemas.RunMeta {
	now := time.Now()
	return schemas.RunMeta{
		TraceID:    "trace-1",
		TargetURL:  "https://example.com",
		PathMode:   schemas.PathAccept,
		Status:     "completed",
		Partial:    false,
		StartedAt:  now.Add(-30 * time.Second),
		FinishedAt: now,
		PreMs:      12000,
		PostMs:     15000,
		Requests:   42,
		Cookies:    7,
	}
}

func TestStore_SaveRunMeta(t *testing.T) {
	pool := new(mockPool)
	pool.On("Exec", mock.Anything, insertRunMeta, mock.MatchedBy(func(args []any) bool {
		return len(args) == 11 && args[0] == "trace-1"
	})).Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	s := New(pool, zaptest.NewLogger(t))
	require.NoError(t, s.SaveRunMeta(context.Background(), sampleMeta()))
	pool.AssertExpectations(t)
}

func TestStore_SaveRunMetaError(t *testing.T) {
	pool := new(mockPool)
	pool.On("Exec", mock.Anything, insertRunMeta, mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("connection reset"))

	s := New(pool, zaptest.NewLogger(t))
	err := s.SaveRunMeta(context.Background(), sampleMeta())
	assert.ErrorContains(t, err, "failed to insert run metadata")
}

func TestStore_EnsureSchema(t *testing.T) {
	pool := new(mockPool)
	pool.On("Exec", mock.Anything, schemaDDL, mock.Anything).
		Return(pgconn.NewCommandTag("CREATE TABLE"), nil)

	s := New(pool, zaptest.NewLogger(t))
	require.NoError(t, s.ensureSchema(context.Background()))
	pool.AssertExpectations(t)
}

func TestStore_Close(t *testing.T) {
	pool := new(mockPool)
	pool.On("Close").Return()

	New(pool, zaptest.NewLogger(t)).Close()
	pool.AssertExpectations(t)
}
