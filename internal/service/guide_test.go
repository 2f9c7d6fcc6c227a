package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/sakif/codeguides/internal/apperror"
	"github.com/sakif/codeguides/internal/model"
)

const sampleCode = "package main\n\nimport \"fmt\"\n\nfunc main() {\n\tfmt.Println(\"hi\")\n}\n"

func newTestGuideService(t *testing.T) (*GuideService, *mockGuideStore) {
	t.Helper()
	store := newMockGuideStore()
	svc := NewGuideService(store, mockStepRepo{store}, quietLogger())
	return svc, store
}

func validGuide() model.GuideInput {
	return model.GuideInput{
		Title:        "  Hello, Go  ",
		Description:  "Printing a line",
		Tags:         model.Tags{"go", "basics"},
		CodeSnippet:  sampleCode,
		CodeLanguage: "Golang",
		Category:     " Backend ",
		Steps: []model.StepInput{
			{StepNumber: 2, Title: "Print", StartLine: 5, EndLine: 7},
			{StepNumber: 1, Title: "Package", StartLine: 1, EndLine: 1},
		},
	}
}

func ptr[T any](v T) *T { return &v }

// =========================================================================
// CREATE TESTS
// =========================================================================

func TestGuideCreate_Success(t *testing.T) {
	svc, _ := newTestGuideService(t)

	agg, err := svc.Create(context.Background(), "author-1", validGuide())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if agg.ID == "" {
		t.Error("expected guide to have an ID")
	}
	if agg.Title != "Hello, Go" {
		t.Errorf("Title = %q, want trimmed", agg.Title)
	}
	if agg.AuthorID != "author-1" {
		t.Errorf("AuthorID = %q, want %q", agg.AuthorID, "author-1")
	}
	if agg.CodeLanguage != "go" {
		t.Errorf("CodeLanguage = %q, want %q", agg.CodeLanguage, "go")
	}
	if agg.Category != "backend" {
		t.Errorf("Category = %q, want %q", agg.Category, "backend")
	}

	var numbers []int
	for _, st := range agg.Steps {
		numbers = append(numbers, st.StepNumber)
	}
	if diff := cmp.Diff([]int{1, 2}, numbers); diff != "" {
		t.Errorf("step order mismatch (-want +got):\n%s", diff)
	}
}

func TestGuideCreate_DetectsLanguage(t *testing.T) {
	svc, _ := newTestGuideService(t)

	in := validGuide()
	in.CodeLanguage = ""
	agg, err := svc.Create(context.Background(), "author-1", in)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if agg.CodeLanguage != "go" {
		t.Errorf("CodeLanguage = %q, want detected %q", agg.CodeLanguage, "go")
	}
}

func TestGuideCreate_NoSnippetNoSteps(t *testing.T) {
	svc, _ := newTestGuideService(t)

	agg, err := svc.Create(context.Background(), "author-1", model.GuideInput{Title: "Notes", Description: "Just text"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if len(agg.Steps) != 0 || agg.CodeLanguage != "" {
		t.Errorf("got %+v", agg)
	}
	if agg.Tags == nil {
		t.Error("Tags should be an empty list, not nil")
	}
}

func TestGuideCreate_Unauthenticated(t *testing.T) {
	svc, _ := newTestGuideService(t)

	_, err := svc.Create(context.Background(), "", validGuide())
	if !errors.Is(err, apperror.ErrUnauthenticated) {
		t.Errorf("error = %v, want ErrUnauthenticated", err)
	}
}

func TestGuideCreate_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*model.GuideInput)
		want   string
	}{
		{"missing title", func(in *model.GuideInput) { in.Title = "  " }, "Title is required"},
		{"long title", func(in *model.GuideInput) { in.Title = strings.Repeat("a", MaxTitleLength+1) }, "Title must be 200 characters or less"},
		{"missing description", func(in *model.GuideInput) { in.Description = "" }, "Description is required"},
		{"too many tags", func(in *model.GuideInput) {
			in.Tags = make(model.Tags, MaxTags+1)
			for i := range in.Tags {
				in.Tags[i] = "t"
			}
		}, "At most 20 tags are allowed"},
		{"step zero", func(in *model.GuideInput) { in.Steps[0].StepNumber = 0 }, "Step 1: step_number must be at least 1"},
		{"duplicate number", func(in *model.GuideInput) { in.Steps[1].StepNumber = 2 }, "Step 2: step_number 2 is used more than once"},
		{"reversed range", func(in *model.GuideInput) { in.Steps[0].EndLine = 4 }, "Step 1: end_line must not be before start_line"},
		{"past the code", func(in *model.GuideInput) { in.Steps[0].EndLine = 8 }, "Step 1: end_line 8 is past the end of the code (7 lines)"},
		{"untitled step", func(in *model.GuideInput) { in.Steps[1].Title = "" }, "Step 2: title is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store := newTestGuideService(t)
			in := validGuide()
			tt.mutate(&in)

			_, err := svc.Create(context.Background(), "author-1", in)
			if !errors.Is(err, apperror.ErrValidation) {
				t.Fatalf("error = %v, want ErrValidation", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("message = %q, want it to contain %q", err.Error(), tt.want)
			}
			if len(store.guides) != 0 {
				t.Error("an invalid guide must not be stored")
			}
		})
	}
}

func TestGuideCreate_ReportsEveryProblem(t *testing.T) {
	svc, _ := newTestGuideService(t)

	_, err := svc.Create(context.Background(), "author-1", model.GuideInput{})
	if err == nil || err.Error() != "Title is required, Description is required" {
		t.Errorf("error = %v", err)
	}
}

// =========================================================================
// READ TESTS
// =========================================================================

func TestGuideList_NormalisesFilter(t *testing.T) {
	svc, store := newTestGuideService(t)

	_, err := svc.List(context.Background(), model.GuideFilter{
		Search:       "  hello ",
		Category:     "Backend",
		CodeLanguage: "JS",
	})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}

	want := model.GuideFilter{Search: "hello", Category: "backend", CodeLanguage: "javascript", Order: model.OrderDesc}
	if diff := cmp.Diff(want, store.lastFilter); diff != "" {
		t.Errorf("filter mismatch (-want +got):\n%s", diff)
	}
}

func TestGuideList_StoreError(t *testing.T) {
	svc, store := newTestGuideService(t)
	store.listErr = errors.New("db down")

	if _, err := svc.List(context.Background(), model.GuideFilter{}); err == nil {
		t.Fatal("List() should surface the store error")
	}
}

func TestGuideGetByID(t *testing.T) {
	svc, _ := newTestGuideService(t)
	created, _ := svc.Create(context.Background(), "author-1", validGuide())

	found, err := svc.GetByID(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if len(found.Steps) != 2 {
		t.Errorf("Steps = %d, want 2", len(found.Steps))
	}

	if _, err := svc.GetByID(context.Background(), "missing"); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
	if _, err := svc.GetByID(context.Background(), " "); !errors.Is(err, apperror.ErrValidation) {
		t.Errorf("error = %v, want ErrValidation", err)
	}
}

func TestGuideGetByAuthorID(t *testing.T) {
	svc, _ := newTestGuideService(t)
	svc.Create(context.Background(), "author-1", validGuide())
	svc.Create(context.Background(), "author-2", validGuide())

	guides, err := svc.GetByAuthorID(context.Background(), "author-1")
	if err != nil {
		t.Fatalf("GetByAuthorID() error = %v", err)
	}
	if len(guides) != 1 || guides[0].AuthorID != "author-1" {
		t.Errorf("got %d guides", len(guides))
	}
}

// =========================================================================
// UPDATE TESTS
// =========================================================================

func TestGuideUpdate_KeepsStepsWhenAbsent(t *testing.T) {
	svc, _ := newTestGuideService(t)
	created, _ := svc.Create(context.Background(), "author-1", validGuide())

	updated, err := svc.Update(context.Background(), "author-1", created.ID, model.GuidePatch{Title: ptr("Renamed")})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.Title != "Renamed" {
		t.Errorf("Title = %q", updated.Title)
	}
	if updated.Description != "Printing a line" {
		t.Errorf("Description = %q, absent fields must not change", updated.Description)
	}
	if len(updated.Steps) != 2 {
		t.Errorf("Steps = %d, want the original 2", len(updated.Steps))
	}
}

func TestGuideUpdate_ReplacesSteps(t *testing.T) {
	svc, _ := newTestGuideService(t)
	created, _ := svc.Create(context.Background(), "author-1", validGuide())

	steps := []model.StepInput{{StepNumber: 1, Title: "All of it", StartLine: 1, EndLine: 7}}
	updated, err := svc.Update(context.Background(), "author-1", created.ID, model.GuidePatch{Steps: &steps})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if len(updated.Steps) != 1 || updated.Steps[0].Title != "All of it" {
		t.Errorf("Steps = %+v", updated.Steps)
	}

	empty := []model.StepInput{}
	updated, err = svc.Update(context.Background(), "author-1", created.ID, model.GuidePatch{Steps: &empty})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if len(updated.Steps) != 0 {
		t.Errorf("Steps = %d, want an empty list to clear them", len(updated.Steps))
	}
}

func TestGuideUpdate_ShorterCodeInvalidatesSteps(t *testing.T) {
	tests := []struct {
		name    string
		patch   model.GuidePatch
		wantErr string
	}{
		{
			name: "supplied steps",
			patch: model.GuidePatch{
				CodeSnippet: ptr("one line"),
				Steps:       &[]model.StepInput{{StepNumber: 1, Title: "Gone", StartLine: 1, EndLine: 3}},
			},
			wantErr: "Step 1: end_line 3 is past the end of the code (1 lines)",
		},
		{
			name:    "kept steps",
			patch:   model.GuidePatch{CodeSnippet: ptr("one line")},
			wantErr: "Step 2: end_line 7 is past the end of the code (1 lines)",
		},
		{
			name:  "kept steps that still fit",
			patch: model.GuidePatch{CodeSnippet: ptr("a\nb\nc\nd\ne\nf\ng")},
		},
		{
			name:  "code cleared",
			patch: model.GuidePatch{CodeSnippet: ptr("")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store := newTestGuideService(t)
			created, _ := svc.Create(context.Background(), "author-1", validGuide())

			_, err := svc.Update(context.Background(), "author-1", created.ID, tt.patch)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Update() error = %v", err)
				}
				return
			}
			if !errors.Is(err, apperror.ErrValidation) {
				t.Fatalf("error = %v, want ErrValidation", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to mention %q", err, tt.wantErr)
			}
			if store.guides[created.ID].CodeSnippet != sampleCode {
				t.Error("a rejected update must not write")
			}
		})
	}
}

func TestGuide_TrimsStepText(t *testing.T) {
	svc, store := newTestGuideService(t)
	in := validGuide()
	in.Steps[1].Title = "  Package  "
	in.Steps[1].Description = "\tDeclares the package.\n"

	created, err := svc.Create(context.Background(), "author-1", in)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if got := created.Steps[0]; got.Title != "Package" || got.Description != "Declares the package." {
		t.Errorf("created step = %+v, want trimmed text", got)
	}
	if in.Steps[1].Title != "  Package  " {
		t.Error("the caller's input must not be modified")
	}

	steps := []model.StepInput{{StepNumber: 1, Title: " Everything ", Description: " all ", StartLine: 1, EndLine: 7}}
	updated, err := svc.Update(context.Background(), "author-1", created.ID, model.GuidePatch{Steps: &steps})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	want := []string{"Everything", "all"}
	got := []string{updated.Steps[0].Title, updated.Steps[0].Description}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("updated step mismatch (-want +got):\n%s", diff)
	}
	for _, st := range store.steps {
		if st.Title != strings.TrimSpace(st.Title) {
			t.Errorf("stored title %q is not trimmed", st.Title)
		}
	}
}

func TestGuideUpdate_WrongOwner(t *testing.T) {
	svc, store := newTestGuideService(t)
	created, _ := svc.Create(context.Background(), "author-1", validGuide())

	_, err := svc.Update(context.Background(), "author-2", created.ID, model.GuidePatch{Title: ptr("hijacked")})
	if !errors.Is(err, apperror.ErrForbidden) {
		t.Fatalf("error = %v, want ErrForbidden", err)
	}
	if store.guides[created.ID].Title != "Hello, Go" {
		t.Error("a forbidden update must not write")
	}
}

func TestGuideUpdate_NotFound(t *testing.T) {
	svc, _ := newTestGuideService(t)

	_, err := svc.Update(context.Background(), "author-1", "missing", model.GuidePatch{})
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

// =========================================================================
// DELETE TESTS
// =========================================================================

func TestGuideDelete(t *testing.T) {
	svc, store := newTestGuideService(t)
	created, _ := svc.Create(context.Background(), "author-1", validGuide())

	if err := svc.Delete(context.Background(), "author-2", created.ID); !errors.Is(err, apperror.ErrForbidden) {
		t.Fatalf("error = %v, want ErrForbidden", err)
	}
	if err := svc.Delete(context.Background(), "author-1", created.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if len(store.guides) != 0 || len(store.steps) != 0 {
		t.Error("guide and its steps should be gone")
	}
	if err := svc.Delete(context.Background(), "author-1", created.ID); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

// =========================================================================
// STEP TESTS
// =========================================================================

func TestStepsForGuide_UnknownGuideIsEmpty(t *testing.T) {
	svc, _ := newTestGuideService(t)

	steps, err := svc.StepsForGuide(context.Background(), "missing")
	if err != nil {
		t.Fatalf("StepsForGuide() error = %v", err)
	}
	if steps == nil || len(steps) != 0 {
		t.Errorf("steps = %v, want an empty list", steps)
	}
}

func TestCreateStep(t *testing.T) {
	svc, _ := newTestGuideService(t)
	created, _ := svc.Create(context.Background(), "author-1", validGuide())

	in := model.NewStep{GuideID: created.ID, StepInput: model.StepInput{StepNumber: 3, Title: " Import ", StartLine: 3, EndLine: 3}}
	st, err := svc.CreateStep(context.Background(), "author-1", in)
	if err != nil {
		t.Fatalf("CreateStep() error = %v", err)
	}
	if st.ID == "" || st.Title != "Import" {
		t.Errorf("step = %+v", st)
	}

	steps, _ := svc.StepsForGuide(context.Background(), created.ID)
	if len(steps) != 3 || steps[2].StepNumber != 3 {
		t.Errorf("steps = %+v", steps)
	}

	if _, err := svc.CreateStep(context.Background(), "author-2", in); !errors.Is(err, apperror.ErrForbidden) {
		t.Errorf("error = %v, want ErrForbidden", err)
	}
	in.EndLine = 99
	if _, err := svc.CreateStep(context.Background(), "author-1", in); !errors.Is(err, apperror.ErrValidation) {
		t.Errorf("error = %v, want ErrValidation", err)
	}
	in.GuideID = ""
	if _, err := svc.CreateStep(context.Background(), "author-1", in); !errors.Is(err, apperror.ErrValidation) {
		t.Errorf("error = %v, want ErrValidation", err)
	}
}

func TestUpdateStep(t *testing.T) {
	svc, _ := newTestGuideService(t)
	created, _ := svc.Create(context.Background(), "author-1", validGuide())
	stepID := created.Steps[0].ID

	st, err := svc.UpdateStep(context.Background(), "author-1", stepID, model.StepPatch{Description: ptr("the package clause")})
	if err != nil {
		t.Fatalf("UpdateStep() error = %v", err)
	}
	if st.Description != "the package clause" || st.Title != "Package" {
		t.Errorf("step = %+v", st)
	}

	if _, err := svc.UpdateStep(context.Background(), "author-2", stepID, model.StepPatch{}); !errors.Is(err, apperror.ErrForbidden) {
		t.Errorf("error = %v, want ErrForbidden", err)
	}
	if _, err := svc.UpdateStep(context.Background(), "author-1", stepID, model.StepPatch{StartLine: ptr(0)}); !errors.Is(err, apperror.ErrValidation) {
		t.Errorf("error = %v, want ErrValidation", err)
	}
	if _, err := svc.UpdateStep(context.Background(), "author-1", "missing", model.StepPatch{}); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestDeleteStep(t *testing.T) {
	svc, store := newTestGuideService(t)
	created, _ := svc.Create(context.Background(), "author-1", validGuide())
	stepID := created.Steps[0].ID

	if err := svc.DeleteStep(context.Background(), "author-2", stepID); !errors.Is(err, apperror.ErrForbidden) {
		t.Fatalf("error = %v, want ErrForbidden", err)
	}
	if err := svc.DeleteStep(context.Background(), "author-1", stepID); err != nil {
		t.Fatalf("DeleteStep() error = %v", err)
	}
	if _, ok := store.steps[stepID]; ok {
		t.Error("step should be gone")
	}
}

func TestLineCount(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"a\n", 1},
		{"a\nb", 2},
		{"a\n\nb\n", 3},
	}
	for _, tt := range tests {
		if got := lineCount(tt.in); got != tt.want {
			t.Errorf("lineCount(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
