package drafts

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/propcheck/internal/agent/models"
	"github.com/dmitrijs2005/propcheck/internal/common"
	"github.com/dmitrijs2005/propcheck/internal/dbx"
)

type SQLiteRepository struct {
	db  dbx.DBTX
	now func() time.Time
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

func (r *SQLiteRepository) Save(ctx context.Context, d *models.Draft) error {

	d.UpdatedAt = r.now().UTC()

	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to encode draft: %w", err)
	}

	query := `INSERT INTO drafts (job_id, stage, payload, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(job_id) DO UPDATE SET
				stage = excluded.stage,
				payload = excluded.payload,
				updated_at = excluded.updated_at`

	_, err = r.db.ExecContext(ctx, query, d.JobID, string(d.Stage), payload, d.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to upsert draft: %w", err)
	}

	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, jobID string) (*models.Draft, error) {

	var payload []byte
	err := r.db.QueryRowContext(ctx, `SELECT payload FROM drafts WHERE job_id = ?`, jobID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("failed to select draft: %w", err)
	}

	d := &models.Draft{}
	if err := json.Unmarshal(payload, d); err != nil {
		return nil, fmt.Errorf("failed to decode draft: %w", err)
	}

	return d, nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, jobID string) error {

	if _, err := r.db.ExecContext(ctx, `DELETE FROM drafts WHERE job_id = ?`, jobID); err != nil {
		return fmt.Errorf("failed to delete draft: %w", err)
	}

	return nil
}

func (r *SQLiteRepository) List(ctx context.Context) ([]string, error) {

	rows, err := r.db.QueryContext(ctx, `SELECT job_id FROM drafts ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("error selecting drafts: %w", err)
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		result = append(result, id)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}
