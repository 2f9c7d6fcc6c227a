package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/codeguides/internal/apperror"
	"github.com/sakif/codeguides/internal/model"
	"github.com/sakif/codeguides/internal/repository"
)

var _ repository.StepRepository = (*StepStore)(nil)

// StepStore handles single-step reads and writes. Bulk replacement of a
// guide's steps lives on GuideStore so it can share the guide's transaction.
type StepStore struct {
	db *DB
}

const stepColumns = `id, guide_id, step_number, title, description, start_line, end_line, created_at`

func (s *StepStore) ListByGuide(ctx context.Context, guideID string) ([]model.Step, error) {
	rows, err := s.db.query(ctx,
		`SELECT `+stepColumns+` FROM steps
		 WHERE guide_id = ?
		 ORDER BY step_number ASC, created_at ASC, id ASC`,
		guideID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqldb: listing steps for guide %s: %w", guideID, err)
	}
	defer rows.Close()

	steps := []model.Step{}
	for rows.Next() {
		st, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("sqldb: scanning step: %w", err)
		}
		steps = append(steps, *st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqldb: iterating steps: %w", err)
	}
	return steps, nil
}

func (s *StepStore) GetByID(ctx context.Context, id string) (*model.Step, error) {
	row := s.db.queryRow(ctx, `SELECT `+stepColumns+` FROM steps WHERE id = ?`, id)
	st, err := scanStep(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("step", id)
		}
		return nil, fmt.Errorf("sqldb: getting step %s: %w", id, err)
	}
	return st, nil
}

// Create inserts a single step. A guide_id that does not exist is reported
// as a missing guide.
func (s *StepStore) Create(ctx context.Context, st *model.Step) error {
	st.ID = xid.New().String()
	st.CreatedAt = timestamp(time.Now())

	_, err := s.db.exec(ctx,
		`INSERT INTO steps (`+stepColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		st.ID, st.GuideID, st.StepNumber, st.Title, st.Description,
		st.StartLine, st.EndLine, st.CreatedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return apperror.NotFound("guide", st.GuideID)
		}
		return fmt.Errorf("sqldb: creating step: %w", err)
	}
	return nil
}

// Update rewrites a step's editable columns. guide_id is never moved.
func (s *StepStore) Update(ctx context.Context, st *model.Step) error {
	res, err := s.db.exec(ctx,
		`UPDATE steps
		 SET step_number = ?, title = ?, description = ?, start_line = ?, end_line = ?
		 WHERE id = ?`,
		st.StepNumber, st.Title, st.Description, st.StartLine, st.EndLine, st.ID,
	)
	if err != nil {
		return fmt.Errorf("sqldb: updating step %s: %w", st.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqldb: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound("step", st.ID)
	}
	return nil
}

func (s *StepStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.exec(ctx, `DELETE FROM steps WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqldb: deleting step %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqldb: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound("step", id)
	}
	return nil
}

func scanStep(sc scanner) (*model.Step, error) {
	var st model.Step
	if err := sc.Scan(
		&st.ID,
		&st.GuideID,
		&st.StepNumber,
		&st.Title,
		&st.Description,
		&st.StartLine,
		&st.EndLine,
		&st.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &st, nil
}
