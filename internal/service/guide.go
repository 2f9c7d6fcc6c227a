// Package service contains the business logic layer of the application.
//
// THE THREE-LAYER ARCHITECTURE:
// In a well-structured Go web app, code is organised into three layers:
//
//	Handler (HTTP layer)     → parses requests, writes responses
//	Service (Business layer) → validates, enforces rules, orchestrates
//	Repository (Data layer)  → reads/writes to the database
//
// THE DEPENDENCY CHAIN:
//
//	server.New creates: DB → Repositories → Services → Handlers
//	At runtime:         Handler calls Service calls Repository calls DB
//
// DEPENDENCY INJECTION:
// Services take repository interfaces (repository.GuideRepository), NOT
// *sqldb.GuideStore. In tests we pass in-memory fakes (see guide_test.go);
// in production server.New passes the sqldb stores.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/codeguides/internal/apperror"
	"github.com/sakif/codeguides/internal/langdetect"
	"github.com/sakif/codeguides/internal/model"
	"github.com/sakif/codeguides/internal/repository"
)

// Validation limits for guides.
const (
	MaxTitleLength = 200
	MaxCodeLength  = 100000 // ~100KB of code
	MaxTags        = 20
	MaxTagLength   = 40
)

// GuideService owns the guide/step aggregate.
//
// OWNERSHIP:
// Every mutation loads the guide first and compares its author with the
// caller. Step mutations go step → guide → author. A mismatch is
// apperror.ErrForbidden before anything is written.
type GuideService struct {
	guides repository.GuideRepository
	steps  repository.StepRepository
	logger *slog.Logger
}

func NewGuideService(guides repository.GuideRepository, steps repository.StepRepository, logger *slog.Logger) *GuideService {
	return &GuideService{
		guides: guides,
		steps:  steps,
		logger: logger,
	}
}

// List returns guides matching filter. Category and language compare
// against the lowercased stored values.
func (s *GuideService) List(ctx context.Context, filter model.GuideFilter) ([]model.GuideAggregate, error) {
	filter.Search = strings.TrimSpace(filter.Search)
	filter.Category = strings.ToLower(strings.TrimSpace(filter.Category))
	filter.CodeLanguage = langdetect.Normalize(filter.CodeLanguage)
	if filter.Order != model.OrderAsc {
		filter.Order = model.OrderDesc
	}

	guides, err := s.guides.List(ctx, filter)
	if err != nil {
		s.logger.Error("failed to list guides", slog.String("error", err.Error()))
		return nil, fmt.Errorf("listing guides: %w", err)
	}
	return guides, nil
}

// GetByID returns one aggregate, or apperror.ErrNotFound.
func (s *GuideService) GetByID(ctx context.Context, id string) (*model.GuideAggregate, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperror.ValidationFailed("id", "guide ID is required")
	}
	return s.guides.GetByID(ctx, id)
}

// GetByAuthorID lists one author's guides, newest first.
func (s *GuideService) GetByAuthorID(ctx context.Context, authorID string) ([]model.GuideAggregate, error) {
	authorID = strings.TrimSpace(authorID)
	if authorID == "" {
		return nil, apperror.ValidationFailed("author_id", "author ID is required")
	}

	guides, err := s.guides.ListByAuthor(ctx, authorID)
	if err != nil {
		return nil, fmt.Errorf("listing guides by author %s: %w", authorID, err)
	}
	return guides, nil
}

// Create validates in and stores the guide with its steps, atomically,
// authored by authorID.
func (s *GuideService) Create(ctx context.Context, authorID string, in model.GuideInput) (*model.GuideAggregate, error) {
	if authorID == "" {
		return nil, apperror.Unauthenticated("User not authenticated")
	}

	g := &model.Guide{
		Title:        in.Title,
		Description:  in.Description,
		AuthorID:     authorID,
		Tags:         in.Tags,
		CodeSnippet:  in.CodeSnippet,
		CodeLanguage: in.CodeLanguage,
		Category:     in.Category,
	}
	normalizeGuide(g)
	steps := normalizeSteps(in.Steps)

	msgs := validateGuide(g)
	msgs = append(msgs, validateSteps(steps, g.CodeSnippet)...)
	if len(msgs) > 0 {
		return nil, apperror.Validation(msgs...)
	}

	agg, err := s.guides.CreateWithSteps(ctx, g, steps)
	if err != nil {
		s.logger.Error("failed to create guide",
			slog.String("authorID", authorID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("creating guide: %w", err)
	}

	s.logger.Info("guide created",
		slog.String("id", agg.ID),
		slog.String("authorID", authorID),
		slog.Int("steps", len(agg.Steps)),
	)
	return agg, nil
}

// Update applies the fields present in patch. A present steps list replaces
// all existing steps (an empty list clears them); an absent one keeps them,
// and kept steps must still fit a changed code snippet.
func (s *GuideService) Update(ctx context.Context, callerID, id string, patch model.GuidePatch) (*model.GuideAggregate, error) {
	current, err := s.ownedGuide(ctx, callerID, id)
	if err != nil {
		return nil, err
	}

	g := current.Guide
	patch.Apply(&g)
	normalizeGuide(&g)

	msgs := validateGuide(&g)
	switch {
	case patch.Steps != nil:
		steps := normalizeSteps(*patch.Steps)
		patch.Steps = &steps
		msgs = append(msgs, validateSteps(steps, g.CodeSnippet)...)
	case g.CodeSnippet != current.CodeSnippet:
		for i := range current.Steps {
			st := &current.Steps[i]
			msgs = append(msgs, validateStep(fmt.Sprintf("Step %d: ", st.StepNumber), st, g.CodeSnippet)...)
		}
	}
	if len(msgs) > 0 {
		return nil, apperror.Validation(msgs...)
	}

	agg, err := s.guides.UpdateWithSteps(ctx, &g, patch.Steps)
	if err != nil {
		s.logger.Error("failed to update guide",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("updating guide: %w", err)
	}

	s.logger.Info("guide updated",
		slog.String("id", id),
		slog.Bool("stepsReplaced", patch.Steps != nil),
	)
	return agg, nil
}

// Delete removes the guide and all of its steps.
func (s *GuideService) Delete(ctx context.Context, callerID, id string) error {
	if _, err := s.ownedGuide(ctx, callerID, id); err != nil {
		return err
	}

	if err := s.guides.DeleteWithSteps(ctx, id); err != nil {
		return fmt.Errorf("deleting guide: %w", err)
	}

	s.logger.Info("guide deleted", slog.String("id", id))
	return nil
}

// StepsForGuide returns the guide's steps sorted by step_number. An unknown
// guide has no steps, so the result is an empty list rather than an error.
func (s *GuideService) StepsForGuide(ctx context.Context, guideID string) ([]model.Step, error) {
	guideID = strings.TrimSpace(guideID)
	if guideID == "" {
		return nil, apperror.ValidationFailed("guide_id", "guide ID is required")
	}

	steps, err := s.steps.ListByGuide(ctx, guideID)
	if err != nil {
		return nil, fmt.Errorf("listing steps: %w", err)
	}
	return steps, nil
}

// CreateStep adds a single step to a guide the caller owns.
func (s *GuideService) CreateStep(ctx context.Context, callerID string, in model.NewStep) (*model.Step, error) {
	if strings.TrimSpace(in.GuideID) == "" {
		return nil, apperror.ValidationFailed("guide_id", "guide_id is required")
	}
	guide, err := s.ownedGuide(ctx, callerID, in.GuideID)
	if err != nil {
		return nil, err
	}

	st := &model.Step{
		GuideID:     guide.ID,
		StepNumber:  in.StepNumber,
		Title:       strings.TrimSpace(in.Title),
		Description: strings.TrimSpace(in.Description),
		StartLine:   in.StartLine,
		EndLine:     in.EndLine,
	}
	if msgs := validateStep("", st, guide.CodeSnippet); len(msgs) > 0 {
		return nil, apperror.Validation(msgs...)
	}

	if err := s.steps.Create(ctx, st); err != nil {
		return nil, fmt.Errorf("creating step: %w", err)
	}

	s.logger.Info("step created", slog.String("id", st.ID), slog.String("guideID", st.GuideID))
	return st, nil
}

// UpdateStep applies the fields present in patch to one step.
func (s *GuideService) UpdateStep(ctx context.Context, callerID, id string, patch model.StepPatch) (*model.Step, error) {
	st, guide, err := s.ownedStep(ctx, callerID, id)
	if err != nil {
		return nil, err
	}

	patch.Apply(st)
	st.Title = strings.TrimSpace(st.Title)
	st.Description = strings.TrimSpace(st.Description)
	if msgs := validateStep("", st, guide.CodeSnippet); len(msgs) > 0 {
		return nil, apperror.Validation(msgs...)
	}

	if err := s.steps.Update(ctx, st); err != nil {
		return nil, fmt.Errorf("updating step: %w", err)
	}

	s.logger.Info("step updated", slog.String("id", id))
	return st, nil
}

// DeleteStep removes one step.
func (s *GuideService) DeleteStep(ctx context.Context, callerID, id string) error {
	if _, _, err := s.ownedStep(ctx, callerID, id); err != nil {
		return err
	}

	if err := s.steps.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting step: %w", err)
	}

	s.logger.Info("step deleted", slog.String("id", id))
	return nil
}

// ownedGuide loads guide id and checks that callerID wrote it.
func (s *GuideService) ownedGuide(ctx context.Context, callerID, id string) (*model.GuideAggregate, error) {
	if callerID == "" {
		return nil, apperror.Unauthenticated("User not authenticated")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperror.ValidationFailed("id", "guide ID is required")
	}

	guide, err := s.guides.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if guide.AuthorID != callerID {
		s.logger.Warn("rejected write to a guide owned by someone else",
			slog.String("guideID", id),
			slog.String("callerID", callerID),
		)
		return nil, apperror.Forbidden("You can only modify your own guides")
	}
	return guide, nil
}

// ownedStep loads step id and its guide, and checks the guide's author.
func (s *GuideService) ownedStep(ctx context.Context, callerID, id string) (*model.Step, *model.GuideAggregate, error) {
	if callerID == "" {
		return nil, nil, apperror.Unauthenticated("User not authenticated")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil, apperror.ValidationFailed("id", "step ID is required")
	}

	st, err := s.steps.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	guide, err := s.ownedGuide(ctx, callerID, st.GuideID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			// The step outlived its guide; nobody can own it.
			return nil, nil, apperror.NotFound("step", id)
		}
		return nil, nil, err
	}
	return st, guide, nil
}

// normalizeGuide trims text fields, lowercases category, canonicalises the
// language name, and detects the language of a snippet that came without one.
func normalizeGuide(g *model.Guide) {
	g.Title = strings.TrimSpace(g.Title)
	g.Description = strings.TrimSpace(g.Description)
	g.Category = strings.ToLower(strings.TrimSpace(g.Category))
	g.CodeLanguage = langdetect.Normalize(g.CodeLanguage)
	if g.CodeLanguage == "" && strings.TrimSpace(g.CodeSnippet) != "" {
		g.CodeLanguage = langdetect.Detect(g.CodeSnippet)
	}
	if g.Tags == nil {
		g.Tags = model.Tags{}
	}
}

func validateGuide(g *model.Guide) []string {
	var msgs []string
	if g.Title == "" {
		msgs = append(msgs, "Title is required")
	} else if len(g.Title) > MaxTitleLength {
		msgs = append(msgs, fmt.Sprintf("Title must be %d characters or less", MaxTitleLength))
	}
	if g.Description == "" {
		msgs = append(msgs, "Description is required")
	}
	if len(g.CodeSnippet) > MaxCodeLength {
		msgs = append(msgs, fmt.Sprintf("Code snippet must be %d characters or less", MaxCodeLength))
	}
	if len(g.Tags) > MaxTags {
		msgs = append(msgs, fmt.Sprintf("At most %d tags are allowed", MaxTags))
	}
	for _, tag := range g.Tags {
		if len(tag) > MaxTagLength {
			msgs = append(msgs, fmt.Sprintf("Tag %q must be %d characters or less", tag, MaxTagLength))
		}
	}
	return msgs
}

// normalizeSteps returns a copy of steps with text fields trimmed. A nil
// slice stays nil and an empty one stays empty.
func normalizeSteps(steps []model.StepInput) []model.StepInput {
	if steps == nil {
		return nil
	}
	out := make([]model.StepInput, len(steps))
	for i, in := range steps {
		in.Title = strings.TrimSpace(in.Title)
		in.Description = strings.TrimSpace(in.Description)
		out[i] = in
	}
	return out
}

// validateSteps checks every step and that no step_number repeats.
func validateSteps(steps []model.StepInput, snippet string) []string {
	var msgs []string
	seen := make(map[int]bool, len(steps))
	for i, in := range steps {
		st := &model.Step{
			StepNumber: in.StepNumber,
			Title:      in.Title,
			StartLine:  in.StartLine,
			EndLine:    in.EndLine,
		}
		msgs = append(msgs, validateStep(fmt.Sprintf("Step %d: ", i+1), st, snippet)...)
		if seen[in.StepNumber] {
			msgs = append(msgs, fmt.Sprintf("Step %d: step_number %d is used more than once", i+1, in.StepNumber))
		}
		seen[in.StepNumber] = true
	}
	return msgs
}

// validateStep checks one step. Line ranges are 1-based and inclusive;
// when the guide has a snippet the range must fall inside it.
func validateStep(prefix string, st *model.Step, snippet string) []string {
	var msgs []string
	if st.StepNumber < 1 {
		msgs = append(msgs, prefix+"step_number must be at least 1")
	}
	if st.Title == "" {
		msgs = append(msgs, prefix+"title is required")
	}
	if st.StartLine < 1 {
		msgs = append(msgs, prefix+"start_line must be at least 1")
	}
	if st.EndLine < st.StartLine {
		msgs = append(msgs, prefix+"end_line must not be before start_line")
	}
	if n := lineCount(snippet); n > 0 && st.EndLine > n {
		msgs = append(msgs, fmt.Sprintf("%send_line %d is past the end of the code (%d lines)", prefix, st.EndLine, n))
	}
	return msgs
}

// lineCount counts lines the way an editor numbers them; a trailing newline
// does not start a new line.
func lineCount(s string) int {
	if s == "" {
		return 0
	}
	n := strings.Count(s, "\n") + 1
	if strings.HasSuffix(s, "\n") {
		n--
	}
	return n
}
