package remote

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/dmitrijs2005/propcheck/internal/agent/models"
	"github.com/dmitrijs2005/propcheck/internal/common"
	"github.com/dmitrijs2005/propcheck/internal/dbx"
	"github.com/dmitrijs2005/propcheck/internal/resilience"
)

// upsertBatchSize keeps a statement well below the 65535 parameter limit.
const upsertBatchSize = 500

// assignable are the job columns a stage may record its assignee in.
var assignable = map[string]bool{
	models.StageInspector.AssigneeField():  true,
	models.StageTechnician.AssigneeField(): true,
	models.StageQA.AssigneeField():         true,
}

type PostgresRepository struct {
	db       *sql.DB
	breakers *resilience.Breakers
}

func NewPostgresRepository(db *sql.DB, breakers *resilience.Breakers) *PostgresRepository {
	return &PostgresRepository{db: db, breakers: breakers}
}

// PingContext makes the repository usable as a connectivity prober.
func (r *PostgresRepository) PingContext(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// UpsertChecklist writes rows in one transaction. Rows are keyed by
// (job_id, location_id, attribute_id); an existing row is overwritten and the
// last of several rows with the same key wins.
func (r *PostgresRepository) UpsertChecklist(ctx context.Context, rows []models.ChecklistRow) error {
	rows = dedupe(rows)
	if len(rows) == 0 {
		return nil
	}

	return r.breakers.Execute(ctx, "pg.upsert_checklist", func(ctx context.Context) error {
		return dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
			for start := 0; start < len(rows); start += upsertBatchSize {
				end := min(start+upsertBatchSize, len(rows))
				query, args, err := upsertStatement(rows[start:end])
				if err != nil {
					return err
				}
				if _, err := tx.ExecContext(ctx, query, args...); err != nil {
					return fmt.Errorf("error performing sql request: %w", err)
				}
			}
			return nil
		})
	})
}

func upsertStatement(rows []models.ChecklistRow) (string, []any, error) {
	var sb strings.Builder
	sb.WriteString(`INSERT INTO checklist_rows (job_id, location_id, attribute_id, status_id, images, notes, updated_at) VALUES `)

	args := make([]any, 0, len(rows)*6)
	for i, row := range rows {
		images := row.Images
		if images == nil {
			images = []string{}
		}
		imagesJSON, err := json.Marshal(images)
		if err != nil {
			return "", nil, fmt.Errorf("encode images: %w", err)
		}

		if i > 0 {
			sb.WriteString(", ")
		}
		n := i * 6
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d::jsonb, $%d, now())", n+1, n+2, n+3, n+4, n+5, n+6)
		args = append(args, row.JobID, row.LocationID, row.AttributeID, nullString(row.StatusID), string(imagesJSON), nullString(row.Notes))
	}

	sb.WriteString(` ON CONFLICT (job_id, location_id, attribute_id) DO UPDATE SET
		status_id = EXCLUDED.status_id,
		images = EXCLUDED.images,
		notes = EXCLUDED.notes,
		updated_at = EXCLUDED.updated_at`)

	return sb.String(), args, nil
}

func dedupe(rows []models.ChecklistRow) []models.ChecklistRow {
	type key struct{ job, loc, attr string }
	pos := make(map[key]int, len(rows))
	out := make([]models.ChecklistRow, 0, len(rows))
	for _, row := range rows {
		k := key{row.JobID, row.LocationID, row.AttributeID}
		if i, ok := pos[k]; ok {
			out[i] = row
			continue
		}
		pos[k] = len(out)
		out = append(out, row)
	}
	return out
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// UpdateJob sets the job status and assignee columns in one statement.
func (r *PostgresRepository) UpdateJob(ctx context.Context, jobID string, upd models.JobUpdate) error {
	set := []string{"status = $2", "updated_at = now()"}
	args := []any{jobID, upd.Status}

	for _, field := range sortedKeys(upd.Assignments) {
		if !assignable[field] {
			return fmt.Errorf("unknown assignment field %q: %w", field, common.ErrInvalidState)
		}
		args = append(args, upd.Assignments[field])
		set = append(set, fmt.Sprintf("%s = $%d", field, len(args)))
	}

	query := `UPDATE jobs SET ` + strings.Join(set, ", ") + ` WHERE id = $1`

	return r.breakers.Execute(ctx, "pg.update_job", func(ctx context.Context) error {
		res, err := r.db.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("error performing sql request: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("job %s: %w", jobID, common.ErrorNotFound)
		}
		return nil
	})
}

func (r *PostgresRepository) Locations(ctx context.Context) ([]models.NamedID, error) {
	return r.namedIDs(ctx, `SELECT id, name FROM locations ORDER BY name, id`)
}

func (r *PostgresRepository) Attributes(ctx context.Context) ([]models.NamedID, error) {
	return r.namedIDs(ctx, `SELECT id, name FROM attributes ORDER BY name, id`)
}

func (r *PostgresRepository) Statuses(ctx context.Context) ([]models.NamedID, error) {
	return r.namedIDs(ctx, `SELECT id, name FROM checklist_statuses ORDER BY name, id`)
}

func (r *PostgresRepository) namedIDs(ctx context.Context, query string) ([]models.NamedID, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error performing sql request: %w", err)
	}
	defer rows.Close()

	var out []models.NamedID
	for rows.Next() {
		var n models.NamedID
		if err := rows.Scan(&n.ID, &n.Name); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
