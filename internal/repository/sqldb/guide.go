package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/codeguides/internal/apperror"
	"github.com/sakif/codeguides/internal/model"
	"github.com/sakif/codeguides/internal/repository"
)

var _ repository.GuideRepository = (*GuideStore)(nil)

// GuideStore persists guides, their tags and their steps.
//
// READ SHAPE:
// Readers always get a model.GuideAggregate, assembled in three queries
// regardless of how many guides match:
//  1. guides LEFT JOIN users            → guide rows + author summary
//  2. guide_tags WHERE guide_id IN (...) → tags, in their original order
//  3. steps WHERE guide_id IN (...)      → steps, ORDER BY step_number
//
// WRITE SHAPE:
// Every write that spans tables runs inside db.withTx, so readers never see
// a guide without its steps or steps without their guide.
type GuideStore struct {
	db *DB
}

const guideSelect = `
	SELECT g.id, g.title, g.description, g.author_id, g.code_snippet,
	       g.code_language, g.category, g.created_at, g.updated_at,
	       u.id, u.name, u.email, u.profile_picture
	FROM guides g
	LEFT JOIN users u ON u.id = g.author_id`

// CreateWithSteps inserts g (assigning its id and timestamps), its tags and
// steps in one transaction, then reads back the full aggregate.
func (s *GuideStore) CreateWithSteps(ctx context.Context, g *model.Guide, steps []model.StepInput) (*model.GuideAggregate, error) {
	now := timestamp(time.Now())
	g.ID = xid.New().String()
	g.CreatedAt = now
	g.UpdatedAt = now

	err := s.db.withTx(ctx, func(r runner) error {
		_, err := r.exec(ctx,
			`INSERT INTO guides (id, title, description, author_id, code_snippet,
			                     code_language, category, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			g.ID, g.Title, g.Description, g.AuthorID, g.CodeSnippet,
			g.CodeLanguage, g.Category, g.CreatedAt, g.UpdatedAt,
		)
		if err != nil {
			if isForeignKeyViolation(err) {
				return apperror.NotFound("user", g.AuthorID)
			}
			return fmt.Errorf("inserting guide: %w", err)
		}
		if err := insertTags(ctx, r, g.ID, g.Tags); err != nil {
			return err
		}
		return insertSteps(ctx, r, g.ID, steps, now)
	})
	if err != nil {
		return nil, wrapErr("creating guide", err)
	}

	return s.GetByID(ctx, g.ID)
}

// UpdateWithSteps rewrites g's columns and tags. When steps is non-nil the
// guide's current steps are deleted and replaced with steps, inside the same
// transaction. g.AuthorID and g.CreatedAt are never written.
func (s *GuideStore) UpdateWithSteps(ctx context.Context, g *model.Guide, steps *[]model.StepInput) (*model.GuideAggregate, error) {
	now := timestamp(time.Now())
	g.UpdatedAt = now

	err := s.db.withTx(ctx, func(r runner) error {
		res, err := r.exec(ctx,
			`UPDATE guides
			 SET title = ?, description = ?, code_snippet = ?, code_language = ?,
			     category = ?, updated_at = ?
			 WHERE id = ?`,
			g.Title, g.Description, g.CodeSnippet, g.CodeLanguage,
			g.Category, g.UpdatedAt, g.ID,
		)
		if err != nil {
			return fmt.Errorf("updating guide: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("checking rows affected: %w", err)
		} else if n == 0 {
			return apperror.NotFound("guide", g.ID)
		}

		if _, err := r.exec(ctx, `DELETE FROM guide_tags WHERE guide_id = ?`, g.ID); err != nil {
			return fmt.Errorf("clearing tags: %w", err)
		}
		if err := insertTags(ctx, r, g.ID, g.Tags); err != nil {
			return err
		}

		if steps == nil {
			return nil
		}
		// Full replace, not a merge: the stored set ends up equal to *steps.
		if _, err := r.exec(ctx, `DELETE FROM steps WHERE guide_id = ?`, g.ID); err != nil {
			return fmt.Errorf("clearing steps: %w", err)
		}
		return insertSteps(ctx, r, g.ID, *steps, now)
	})
	if err != nil {
		return nil, wrapErr("updating guide "+g.ID, err)
	}

	return s.GetByID(ctx, g.ID)
}

// DeleteWithSteps removes the guide's steps, then its tags, then the guide
// row, in one transaction.
func (s *GuideStore) DeleteWithSteps(ctx context.Context, id string) error {
	err := s.db.withTx(ctx, func(r runner) error {
		if _, err := r.exec(ctx, `DELETE FROM steps WHERE guide_id = ?`, id); err != nil {
			return fmt.Errorf("deleting steps: %w", err)
		}
		if _, err := r.exec(ctx, `DELETE FROM guide_tags WHERE guide_id = ?`, id); err != nil {
			return fmt.Errorf("deleting tags: %w", err)
		}
		res, err := r.exec(ctx, `DELETE FROM guides WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("deleting guide: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("checking rows affected: %w", err)
		}
		if n == 0 {
			return apperror.NotFound("guide", id)
		}
		return nil
	})
	if err != nil {
		return wrapErr("deleting guide "+id, err)
	}
	return nil
}

func (s *GuideStore) GetByID(ctx context.Context, id string) (*model.GuideAggregate, error) {
	aggs, err := s.list(ctx, guideSelect+` WHERE g.id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("sqldb: getting guide %s: %w", id, err)
	}
	if len(aggs) == 0 {
		return nil, apperror.NotFound("guide", id)
	}
	return &aggs[0], nil
}

// List applies the optional filters:
//   - Search matches a case-insensitive substring of the title OR an exact
//     (case-insensitive) tag
//   - Category and CodeLanguage are lowercased exact matches
//
// Results are ordered by created_at, newest first unless Order is asc.
func (s *GuideStore) List(ctx context.Context, filter model.GuideFilter) ([]model.GuideAggregate, error) {
	var (
		where []string
		args  []any
	)

	if search := strings.TrimSpace(filter.Search); search != "" {
		where = append(where, `(LOWER(g.title) LIKE ? ESCAPE '\'
			OR EXISTS (SELECT 1 FROM guide_tags t WHERE t.guide_id = g.id AND LOWER(t.tag) = ?))`)
		args = append(args, likePattern(search), strings.ToLower(search))
	}
	if category := strings.TrimSpace(filter.Category); category != "" {
		where = append(where, `g.category = ?`)
		args = append(args, strings.ToLower(category))
	}
	if lang := strings.TrimSpace(filter.CodeLanguage); lang != "" {
		where = append(where, `g.code_language = ?`)
		args = append(args, strings.ToLower(lang))
	}

	query := guideSelect
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += orderClause(filter.Order)

	aggs, err := s.list(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqldb: listing guides: %w", err)
	}
	return aggs, nil
}

func (s *GuideStore) ListByAuthor(ctx context.Context, authorID string) ([]model.GuideAggregate, error) {
	aggs, err := s.list(ctx, guideSelect+` WHERE g.author_id = ?`+orderClause(model.OrderDesc), authorID)
	if err != nil {
		return nil, fmt.Errorf("sqldb: listing guides by author %s: %w", authorID, err)
	}
	return aggs, nil
}

func orderClause(order model.SortOrder) string {
	if order == model.OrderAsc {
		return ` ORDER BY g.created_at ASC, g.id ASC`
	}
	return ` ORDER BY g.created_at DESC, g.id DESC`
}

// list runs a guideSelect query and attaches tags and steps to each row.
func (s *GuideStore) list(ctx context.Context, query string, args ...any) ([]model.GuideAggregate, error) {
	rows, err := s.db.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	aggs := []model.GuideAggregate{}
	index := map[string]int{}
	for rows.Next() {
		var (
			a                    model.GuideAggregate
			authorID, authorName sql.NullString
			authorEmail          sql.NullString
			authorPic            sql.NullString
		)
		if err := rows.Scan(
			&a.ID, &a.Title, &a.Description, &a.AuthorID, &a.CodeSnippet,
			&a.CodeLanguage, &a.Category, &a.CreatedAt, &a.UpdatedAt,
			&authorID, &authorName, &authorEmail, &authorPic,
		); err != nil {
			return nil, fmt.Errorf("scanning guide: %w", err)
		}
		if authorID.Valid {
			a.Author = &model.AuthorSummary{
				ID:             authorID.String,
				Name:           authorName.String,
				Email:          authorEmail.String,
				ProfilePicture: stringPtr(authorPic),
			}
		}
		a.Tags = model.Tags{}
		a.Steps = []model.Step{}
		index[a.ID] = len(aggs)
		aggs = append(aggs, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating guides: %w", err)
	}
	rows.Close()

	if len(aggs) == 0 {
		return aggs, nil
	}

	ids := make([]any, len(aggs))
	for i, a := range aggs {
		ids[i] = a.ID
	}

	if err := s.attachTags(ctx, aggs, index, ids); err != nil {
		return nil, err
	}
	if err := s.attachSteps(ctx, aggs, index, ids); err != nil {
		return nil, err
	}
	return aggs, nil
}

func (s *GuideStore) attachTags(ctx context.Context, aggs []model.GuideAggregate, index map[string]int, ids []any) error {
	rows, err := s.db.query(ctx,
		`SELECT guide_id, tag FROM guide_tags
		 WHERE guide_id IN (`+placeholders(len(ids))+`)
		 ORDER BY guide_id, position`,
		ids...,
	)
	if err != nil {
		return fmt.Errorf("loading tags: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var guideID, tag string
		if err := rows.Scan(&guideID, &tag); err != nil {
			return fmt.Errorf("scanning tag: %w", err)
		}
		if i, ok := index[guideID]; ok {
			aggs[i].Tags = append(aggs[i].Tags, tag)
		}
	}
	return rows.Err()
}

func (s *GuideStore) attachSteps(ctx context.Context, aggs []model.GuideAggregate, index map[string]int, ids []any) error {
	rows, err := s.db.query(ctx,
		`SELECT `+stepColumns+` FROM steps
		 WHERE guide_id IN (`+placeholders(len(ids))+`)
		 ORDER BY guide_id, step_number ASC, created_at ASC, id ASC`,
		ids...,
	)
	if err != nil {
		return fmt.Errorf("loading steps: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		st, err := scanStep(rows)
		if err != nil {
			return fmt.Errorf("scanning step: %w", err)
		}
		if i, ok := index[st.GuideID]; ok {
			aggs[i].Steps = append(aggs[i].Steps, *st)
		}
	}
	return rows.Err()
}

func insertTags(ctx context.Context, r runner, guideID string, tags model.Tags) error {
	for i, tag := range tags {
		if _, err := r.exec(ctx,
			`INSERT INTO guide_tags (guide_id, position, tag) VALUES (?, ?, ?)`,
			guideID, i, tag,
		); err != nil {
			return fmt.Errorf("inserting tag %q: %w", tag, err)
		}
	}
	return nil
}

func insertSteps(ctx context.Context, r runner, guideID string, steps []model.StepInput, now time.Time) error {
	for _, in := range steps {
		if _, err := r.exec(ctx,
			`INSERT INTO steps (`+stepColumns+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			xid.New().String(), guideID, in.StepNumber, in.Title, in.Description,
			in.StartLine, in.EndLine, now,
		); err != nil {
			return fmt.Errorf("inserting step %d: %w", in.StepNumber, err)
		}
	}
	return nil
}

// wrapErr passes AppErrors through untouched and prefixes the rest.
func wrapErr(op string, err error) error {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return fmt.Errorf("sqldb: %s: %w", op, err)
}
