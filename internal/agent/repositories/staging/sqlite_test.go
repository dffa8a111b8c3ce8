package staging

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/propcheck/internal/agent/migrations"
	"github.com/dmitrijs2005/propcheck/internal/agent/models"
	"github.com/dmitrijs2005/propcheck/internal/common"
	"github.com/dmitrijs2005/propcheck/internal/dbx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func setupRepo(t *testing.T) (*SQLiteRepository, *sql.DB) {
	t.Helper()
	db, err := dbx.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "agent.db"), migrations.Migrations)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewSQLiteRepository(db), db
}

func TestStoreRetrieve_RoundTrip(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()

	blob := models.Blob{Name: "photo.jpg", ContentType: "image/jpeg", Data: []byte("jpeg-bytes")}
	id, err := repo.Store(ctx, "job-1", "Flooring", blob)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "job-1_Flooring_"), "id %q must be keyed by job and attribute", id)

	got, err := repo.Retrieve(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, blob, got)
}

func TestStore_FreshIDs(t *testing.T) {
	repo, _ := setupRepo(t)
	repo.now = func() time.Time { return time.UnixMilli(1700000000000) }
	ctx := context.Background()

	a, err := repo.Store(ctx, "j", "a", models.Blob{Name: "x"})
	require.NoError(t, err)
	b, err := repo.Store(ctx, "j", "a", models.Blob{Name: "x"})
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "same timestamp must still produce distinct ids")
}

func TestRetrieve_NotFound(t *testing.T) {
	repo, _ := setupRepo(t)

	_, err := repo.Retrieve(context.Background(), "missing")
	require.ErrorIs(t, err, common.ErrorNotFound)
}

func TestDelete_Idempotent(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()

	id, err := repo.Store(ctx, "j", "a", models.Blob{Name: "x", Data: []byte("1")})
	require.NoError(t, err)

	require.NoError(t, repo.Delete(ctx, id))
	require.NoError(t, repo.Delete(ctx, id), "second delete must not fail")
	require.NoError(t, repo.Delete(ctx, "never-existed"))

	_, err = repo.Retrieve(ctx, id)
	require.ErrorIs(t, err, common.ErrorNotFound)
}

func TestRetrieve_ChecksumMismatch(t *testing.T) {
	repo, db := setupRepo(t)
	ctx := context.Background()

	id, err := repo.Store(ctx, "j", "a", models.Blob{Name: "x", Data: []byte("original")})
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, `UPDATE staged_blobs SET data = ? WHERE local_id = ?`, []byte("flipped"), id)
	require.NoError(t, err)

	_, err = repo.Retrieve(ctx, id)
	require.ErrorIs(t, err, common.ErrStaging)
}

func TestStore_UnavailableDatabase(t *testing.T) {
	repo, db := setupRepo(t)
	require.NoError(t, db.Close())

	_, err := repo.Store(context.Background(), "j", "a", models.Blob{Name: "x"})
	require.ErrorIs(t, err, common.ErrStaging)
}

func TestListByJob(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()

	a, err := repo.Store(ctx, "job-1", "a", models.Blob{Name: "1"})
	require.NoError(t, err)
	_, err = repo.Store(ctx, "job-2", "a", models.Blob{Name: "2"})
	require.NoError(t, err)

	ids, err := repo.ListByJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, []string{a}, ids)
}
