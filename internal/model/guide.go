package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// SortOrder is the direction of a created_at sort.
type SortOrder string

const (
	OrderAsc  SortOrder = "asc"
	OrderDesc SortOrder = "desc"
)

// ParseSortOrder maps a query-string value to a SortOrder.
// Anything other than "asc" sorts newest first.
func ParseSortOrder(s string) SortOrder {
	if strings.EqualFold(strings.TrimSpace(s), string(OrderAsc)) {
		return OrderAsc
	}
	return OrderDesc
}

// Tags is a guide's tag list.
//
// Older clients send tags as one string ("go, http") while newer ones send
// a JSON array. UnmarshalJSON accepts both so either client can write guides.
type Tags []string

func (t *Tags) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*t = nil
		return nil
	}

	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*t = cleanTags(list)
		return nil
	}

	var single string
	if err := json.Unmarshal(data, &single); err != nil {
		return fmt.Errorf("tags must be a list of strings or a string")
	}
	*t = cleanTags(strings.Split(single, ","))
	return nil
}

// MarshalJSON always writes a list, never null.
func (t Tags) MarshalJSON() ([]byte, error) {
	if t == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(t))
}

func cleanTags(raw []string) Tags {
	out := make(Tags, 0, len(raw))
	for _, tag := range raw {
		if tag = strings.TrimSpace(tag); tag != "" {
			out = append(out, tag)
		}
	}
	return out
}

// Guide is an authored tutorial: a code snippet plus metadata.
// AuthorID is set once at creation and never changes.
type Guide struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	AuthorID     string    `json:"author_id"`
	Tags         Tags      `json:"tags"`
	CodeSnippet  string    `json:"code_snippet"`
	CodeLanguage string    `json:"code_language"` // lowercased, may be empty
	Category     string    `json:"category"`      // lowercased, may be empty
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Step is one annotated line range of a guide's code.
// Lines are 1-based and inclusive.
type Step struct {
	ID          string    `json:"id"`
	GuideID     string    `json:"guide_id"`
	StepNumber  int       `json:"step_number"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	StartLine   int       `json:"start_line"`
	EndLine     int       `json:"end_line"`
	CreatedAt   time.Time `json:"created_at"`
}

// GuideAggregate is what readers get back: the guide, its author and its
// steps sorted by step_number.
//
// Guide is embedded, so its fields are flattened into the JSON object:
//
//	{"id":"...","title":"...", ..., "author":{...}, "steps":[...]}
type GuideAggregate struct {
	Guide
	Author *AuthorSummary `json:"author"`
	Steps  []Step         `json:"steps"`
}

// GuideFilter narrows List. Empty fields do not filter.
type GuideFilter struct {
	Search       string
	Category     string
	CodeLanguage string
	Order        SortOrder
}

// StepInput is a step as supplied by a client, before it has an id.
type StepInput struct {
	StepNumber  int    `json:"step_number"`
	Title       string `json:"title"`
	Description string `json:"description"`
	StartLine   int    `json:"start_line"`
	EndLine     int    `json:"end_line"`
}

// GuideInput is the body of POST /api/code-guides/guides.
type GuideInput struct {
	Title        string      `json:"title"`
	Description  string      `json:"description"`
	Tags         Tags        `json:"tags"`
	CodeSnippet  string      `json:"code_snippet"`
	CodeLanguage string      `json:"code_language"`
	Category     string      `json:"category"`
	Steps        []StepInput `json:"steps"`
}

// GuidePatch is the body of PUT /api/code-guides/guides/{id}.
//
// Every field is a pointer: nil means "absent from the request, leave it
// alone". A non-nil Steps replaces the whole step list, and a non-nil empty
// list removes every step.
type GuidePatch struct {
	Title        *string      `json:"title"`
	Description  *string      `json:"description"`
	Tags         *Tags        `json:"tags"`
	CodeSnippet  *string      `json:"code_snippet"`
	CodeLanguage *string      `json:"code_language"`
	Category     *string      `json:"category"`
	Steps        *[]StepInput `json:"steps"`
}

// Apply copies the present fields of p onto g.
func (p GuidePatch) Apply(g *Guide) {
	if p.Title != nil {
		g.Title = *p.Title
	}
	if p.Description != nil {
		g.Description = *p.Description
	}
	if p.Tags != nil {
		g.Tags = *p.Tags
	}
	if p.CodeSnippet != nil {
		g.CodeSnippet = *p.CodeSnippet
	}
	if p.CodeLanguage != nil {
		g.CodeLanguage = *p.CodeLanguage
	}
	if p.Category != nil {
		g.Category = *p.Category
	}
}

// StepPatch is the body of PUT /api/code-guides/steps/{id}.
type StepPatch struct {
	StepNumber  *int    `json:"step_number"`
	Title       *string `json:"title"`
	Description *string `json:"description"`
	StartLine   *int    `json:"start_line"`
	EndLine     *int    `json:"end_line"`
}

func (p StepPatch) Apply(s *Step) {
	if p.StepNumber != nil {
		s.StepNumber = *p.StepNumber
	}
	if p.Title != nil {
		s.Title = *p.Title
	}
	if p.Description != nil {
		s.Description = *p.Description
	}
	if p.StartLine != nil {
		s.StartLine = *p.StartLine
	}
	if p.EndLine != nil {
		s.EndLine = *p.EndLine
	}
}

// NewStep is the body of POST /api/code-guides/steps: a step plus the
// guide it belongs to. StepInput is embedded so its fields stay flat in JSON.
type NewStep struct {
	GuideID string `json:"guide_id"`
	StepInput
}
