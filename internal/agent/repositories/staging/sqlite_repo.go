package staging

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/propcheck/internal/agent/models"
	"github.com/dmitrijs2005/propcheck/internal/common"
	"github.com/dmitrijs2005/propcheck/internal/cryptox"
	"github.com/dmitrijs2005/propcheck/internal/dbx"
)

type SQLiteRepository struct {
	db  dbx.DBTX
	now func() time.Time
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

func (r *SQLiteRepository) newLocalID(jobID, attributeID string) (string, error) {
	suffix, err := cryptox.RandomSuffix(4)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s_%s_%d-%s", jobID, attributeID, r.now().UnixMilli(), suffix), nil
}

func (r *SQLiteRepository) Store(ctx context.Context, jobID, attributeID string, blob models.Blob) (string, error) {

	localID, err := r.newLocalID(jobID, attributeID)
	if err != nil {
		return "", common.Wrap(common.ErrStaging, "staging.store", err)
	}

	data := blob.Data
	if data == nil {
		data = []byte{}
	}

	query := `INSERT INTO staged_blobs (local_id, job_id, attribute_id, filename, content_type, data, checksum, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query, localID, jobID, attributeID, blob.Name, blob.ContentType,
		data, cryptox.Checksum(data), r.now().UnixMilli())
	if err != nil {
		return "", common.Wrap(common.ErrStaging, "staging.store", err)
	}

	return localID, nil
}

func (r *SQLiteRepository) Retrieve(ctx context.Context, localID string) (models.Blob, error) {

	query := `SELECT filename, content_type, data, checksum FROM staged_blobs WHERE local_id = ?`
	row := r.db.QueryRowContext(ctx, query, localID)

	var b models.Blob
	var sum []byte
	err := row.Scan(&b.Name, &b.ContentType, &b.Data, &sum)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Blob{}, common.ErrorNotFound
		}
		return models.Blob{}, common.Wrap(common.ErrStaging, "staging.retrieve", err)
	}

	if !cryptox.VerifyChecksum(b.Data, sum) {
		return models.Blob{}, common.Wrap(common.ErrStaging, "staging.retrieve",
			fmt.Errorf("checksum mismatch for %s", localID))
	}

	return b, nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, localID string) error {

	_, err := r.db.ExecContext(ctx, `DELETE FROM staged_blobs WHERE local_id = ?`, localID)
	if err != nil {
		return common.Wrap(common.ErrStaging, "staging.delete", err)
	}

	return nil
}

func (r *SQLiteRepository) ListByJob(ctx context.Context, jobID string) ([]string, error) {

	rows, err := r.db.QueryContext(ctx, `SELECT local_id FROM staged_blobs WHERE job_id = ? ORDER BY created_at, local_id`, jobID)
	if err != nil {
		return nil, common.Wrap(common.ErrStaging, "staging.list", err)
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, common.Wrap(common.ErrStaging, "staging.list", err)
		}
		result = append(result, id)
	}

	if err := rows.Err(); err != nil {
		return nil, common.Wrap(common.ErrStaging, "staging.list", err)
	}

	return result, nil
}
