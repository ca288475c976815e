package postgres_test

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"example.com/userexports/internal/domain"
	"example.com/userexports/internal/export"
	"example.com/userexports/internal/jobs"
	"example.com/userexports/internal/storage/postgres"
	"example.com/userexports/internal/testcontainers"
)

func TestWatermarkStore(t *testing.T) {
	db := testcontainers.NewDB(t)
	ctx := context.Background()
	store := db.Store()

	wm, err := store.GetWatermark(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, wm)

	ts := time.Date(2025, 4, 1, 12, 30, 0, 123456000, time.UTC)
	require.NoError(t, store.UpsertWatermark(ctx, "wm-consumer", ts))
	require.NoError(t, store.UpsertWatermark(ctx, "wm-consumer", ts))

	wm, err = store.GetWatermark(ctx, "wm-consumer")
	require.NoError(t, err)
	require.NotNil(t, wm)
	assert.Equal(t, "wm-consumer", wm.ConsumerID)
	assert.True(t, wm.LastExportedAt.Equal(ts))

	later := ts.Add(time.Hour)
	require.NoError(t, store.UpsertWatermark(ctx, "wm-consumer", later))
	wm, err = store.GetWatermark(ctx, "wm-consumer")
	require.NoError(t, err)
	assert.True(t, wm.LastExportedAt.Equal(later))
}

func TestSessionRollbackDiscardsWatermark(t *testing.T) {
	db := testcontainers.NewDB(t)
	ctx := context.Background()

	sess, err := db.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, sess.UpsertWatermark(ctx, "rolled-back", time.Now().UTC()))
	require.NoError(t, sess.Rollback(ctx))

	wm, err := db.Store().GetWatermark(ctx, "rolled-back")
	require.NoError(t, err)
	assert.Nil(t, wm)

	sess, err = db.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, sess.UpsertWatermark(ctx, "committed", time.Now().UTC()))
	require.NoError(t, sess.Commit(ctx))
	require.NoError(t, sess.Rollback(ctx))

	wm, err = db.Store().GetWatermark(ctx, "committed")
	require.NoError(t, err)
	assert.NotNil(t, wm)
}

func TestSelectAndCountUsers(t *testing.T) {
	db := testcontainers.NewDB(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	testcontainers.InsertUser(t, db, "c", "c@example.com", base, base.Add(3*time.Hour), false)
	testcontainers.InsertUser(t, db, "a", "a@example.com", base, base.Add(1*time.Hour), false)
	testcontainers.InsertUser(t, db, "d", "d@example.com", base, base.Add(2*time.Hour), true)
	testcontainers.InsertUser(t, db, "b", "b@example.com", base, base.Add(2*time.Hour), false)

	store := db.Store()

	all, err := store.SelectUsers(ctx, domain.SelectionFor(domain.ExportFull, nil))
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{all[0].Name, all[1].Name, all[2].Name})

	wm := &domain.Watermark{LastExportedAt: base.Add(2 * time.Hour)}
	inc, err := store.SelectUsers(ctx, domain.SelectionFor(domain.ExportIncremental, wm))
	require.NoError(t, err)
	require.Len(t, inc, 1)
	assert.Equal(t, "c", inc[0].Name)

	wm.LastExportedAt = base.Add(time.Hour)
	delta, err := store.SelectUsers(ctx, domain.SelectionFor(domain.ExportDelta, wm))
	require.NoError(t, err)
	require.Len(t, delta, 3)
	assert.True(t, delta[0].UpdatedAt.Equal(base.Add(2*time.Hour)))
	assert.True(t, delta[2].UpdatedAt.Equal(base.Add(3*time.Hour)))

	n, err := store.CountUsers(ctx, domain.SelectionFor(domain.ExportDelta, wm))
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}

func sessionBegin(db *postgres.DB) jobs.BeginFunc {
	return func(ctx context.Context) (jobs.Session, error) {
		s, err := db.Begin(ctx)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

func runJob(t *testing.T, r *jobs.Runner, typ domain.ExportType, consumer string, at time.Time) export.Result {
	t.Helper()
	res, err := r.Run(context.Background(), domain.Job{
		ID:             "job-" + string(typ),
		ConsumerID:     consumer,
		Type:           typ,
		OutputFilename: domain.OutputFilename(typ, consumer, at),
	})
	require.NoError(t, err)
	return res
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return records
}

func TestRunnerExportsThroughTransactions(t *testing.T) {
	db := testcontainers.NewDB(t)
	ctx := context.Background()
	r := jobs.NewRunner(sessionBegin(db), export.New(t.TempDir()), jobs.NewLogSink(zap.NewNop()))
	store := db.Store()

	base := time.Date(2025, 3, 1, 10, 0, 0, 123456000, time.UTC)
	a := testcontainers.InsertUser(t, db, "a", "a@example.com", base, base, false)
	b := testcontainers.InsertUser(t, db, "b", "b@example.com", base, base.Add(time.Minute+789*time.Microsecond), false)
	c := testcontainers.InsertUser(t, db, "c", "c@example.com", base, base.Add(2*time.Minute+1*time.Microsecond), false)

	res := runJob(t, r, domain.ExportFull, "lake", base.Add(3*time.Minute))
	assert.Equal(t, 3, res.Rows)
	wm, err := store.GetWatermark(ctx, "lake")
	require.NoError(t, err)
	require.NotNil(t, wm)
	assert.True(t, wm.LastExportedAt.Equal(base.Add(2*time.Minute+time.Microsecond)), "got %s", wm.LastExportedAt)
	assert.Len(t, readCSV(t, res.Path), 4)

	touched := base.Add(5*time.Minute + 42*time.Microsecond)
	_, err = db.Pool.Exec(ctx, `UPDATE users SET updated_at = $1 WHERE id = $2`, touched, a)
	require.NoError(t, err)

	res = runJob(t, r, domain.ExportIncremental, "lake", base.Add(6*time.Minute))
	assert.Equal(t, 1, res.Rows)
	wm, err = store.GetWatermark(ctx, "lake")
	require.NoError(t, err)
	assert.True(t, wm.LastExportedAt.Equal(touched))

	inserted := base.Add(10 * time.Minute)
	testcontainers.InsertUser(t, db, "d", "d@example.com", inserted, inserted, false)
	_, err = db.Pool.Exec(ctx, `UPDATE users SET updated_at = $1 WHERE id = $2`, base.Add(11*time.Minute), b)
	require.NoError(t, err)
	deletedAt := base.Add(12*time.Minute + 7*time.Microsecond)
	_, err = db.Pool.Exec(ctx, `UPDATE users SET is_deleted = true, updated_at = $1 WHERE id = $2`, deletedAt, c)
	require.NoError(t, err)

	res = runJob(t, r, domain.ExportDelta, "lake", base.Add(13*time.Minute))
	assert.Equal(t, 3, res.Rows)
	records := readCSV(t, res.Path)
	require.Len(t, records, 4)
	assert.Equal(t, "operation", records[0][0])
	assert.Equal(t, []string{"INSERT", "UPDATE", "DELETE"}, []string{records[1][0], records[2][0], records[3][0]})

	wm, err = store.GetWatermark(ctx, "lake")
	require.NoError(t, err)
	assert.True(t, wm.LastExportedAt.Equal(deletedAt))
}

// failAfterUpsert writes the watermark inside the transaction, then fails.
type failAfterUpsert struct {
	*postgres.Session
}

func (s failAfterUpsert) UpsertWatermark(ctx context.Context, consumerID string, ts time.Time) error {
	if err := s.Session.UpsertWatermark(ctx, consumerID, ts); err != nil {
		return err
	}
	return errors.New("connection lost after upsert")
}

func TestRunnerRollbackLeavesNoWatermark(t *testing.T) {
	db := testcontainers.NewDB(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	testcontainers.InsertUser(t, db, "a", "a@example.com", base, base, false)

	begin := func(ctx context.Context) (jobs.Session, error) {
		s, err := db.Begin(ctx)
		if err != nil {
			return nil, err
		}
		return failAfterUpsert{s}, nil
	}
	r := jobs.NewRunner(begin, export.New(t.TempDir()), jobs.NewLogSink(zap.NewNop()))

	_, err := r.Run(ctx, domain.Job{
		ID:             "job-full",
		ConsumerID:     "fragile",
		Type:           domain.ExportFull,
		OutputFilename: domain.OutputFilename(domain.ExportFull, "fragile", base),
	})
	require.ErrorContains(t, err, "connection lost after upsert")

	wm, err := db.Store().GetWatermark(ctx, "fragile")
	require.NoError(t, err)
	assert.Nil(t, wm)

	var n int
	require.NoError(t, db.Pool.QueryRow(ctx, `SELECT count(*) FROM watermarks`).Scan(&n))
	assert.Zero(t, n)
}
