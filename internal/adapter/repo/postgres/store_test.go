package postgres_test

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/jobflow/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/jobflow/internal/domain"
)

type rowStub struct{ scan func(dest ...any) error }

func (r rowStub) Scan(dest ...any) error { return r.scan(dest...) }

type fakePool struct {
	execTag  pgconn.CommandTag
	execErr  error
	lastSQL  string
	lastArgs []any
	row      rowStub
	pingErr  error
}

func (p *fakePool) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	p.lastSQL = sql
	p.lastArgs = args
	return p.execTag, p.execErr
}

func (p *fakePool) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	p.lastSQL = sql
	p.lastArgs = args
	return p.row
}

func (p *fakePool) Ping(_ context.Context) error { return p.pingErr }

func TestAddJob_Inserted(t *testing.T) {
	pool := &fakePool{execTag: pgconn.NewCommandTag("INSERT 0 1")}
	store := postgres.NewJobStore(pool)

	out, err := store.AddJob(context.Background(), domain.Job{Title: "X", Company: "Y", URL: "u4"})
	require.NoError(t, err)
	assert.Equal(t, domain.AddInserted, out)
	assert.Contains(t, pool.lastSQL, "ON CONFLICT (content_hash) DO NOTHING")
	// First arg is the dedup key.
	job := domain.Job{Title: "X", Company: "Y", URL: "u4"}
	assert.Equal(t, job.ContentHash(), pool.lastArgs[0])
}

func TestAddJob_Duplicate(t *testing.T) {
	pool := &fakePool{execTag: pgconn.NewCommandTag("INSERT 0 0")}
	store := postgres.NewJobStore(pool)

	out, err := store.AddJob(context.Background(), domain.Job{Title: "X", Company: "Y", URL: "u4"})
	require.NoError(t, err)
	assert.Equal(t, domain.AddDuplicate, out)
}

func TestAddJob_Error(t *testing.T) {
	pool := &fakePool{execErr: errors.New("connection reset")}
	store := postgres.NewJobStore(pool)

	out, err := store.AddJob(context.Background(), domain.Job{Title: "X", Company: "Y"})
	assert.Error(t, err)
	assert.Equal(t, domain.AddFailed, out)
}

func TestCount(t *testing.T) {
	pool := &fakePool{row: rowStub{scan: func(dest ...any) error {
		*(dest[0].(*int64)) = 42
		return nil
	}}}
	store := postgres.NewJobStore(pool)

	n, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
}

func TestStats(t *testing.T) {
	pool := &fakePool{row: rowStub{scan: func(dest ...any) error {
		vals := []int64{100, 10, 5, 85, 7}
		for i, v := range vals {
			*(dest[i].(*int64)) = v
		}
		return nil
	}}}
	store := postgres.NewJobStore(pool)

	st, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(100), st.TotalJobs)
	assert.Equal(t, int64(10), st.AppliedJobs)
	assert.Equal(t, int64(5), st.FailedJobs)
	assert.Equal(t, int64(85), st.PendingJobs)
	assert.Equal(t, int64(7), st.JobsToday)
}

func TestLookupByHash_NotFound(t *testing.T) {
	pool := &fakePool{row: rowStub{scan: func(...any) error { return pgx.ErrNoRows }}}
	store := postgres.NewJobStore(pool)

	_, err := store.LookupByHash(context.Background(), "deadbeef")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestEnsureSchema_PropagatesError(t *testing.T) {
	pool := &fakePool{execErr: errors.New("permission denied")}
	store := postgres.NewJobStore(pool)
	assert.Error(t, store.EnsureSchema(context.Background()))
}
