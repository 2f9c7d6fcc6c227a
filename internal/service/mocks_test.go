package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/sakif/codeguides/internal/apperror"
	"github.com/sakif/codeguides/internal/identity"
	"github.com/sakif/codeguides/internal/model"
)

// =========================================================================
// MOCK REPOSITORIES
// =========================================================================
//
// Hand-written in-memory fakes of the repository interfaces. Each one stores
// copies, never the caller's pointer, so a test cannot change stored state
// by accident. Fields named *Err force the next call to fail.

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type mockUserRepo struct {
	users     map[string]*model.User
	createErr error
	creates   int
	// beforeCreate runs inside Create, before the conflict check.
	beforeCreate func()
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{users: make(map[string]*model.User)}
}

func (m *mockUserRepo) Create(_ context.Context, u *model.User) error {
	m.creates++
	if m.beforeCreate != nil {
		m.beforeCreate()
	}
	if m.createErr != nil {
		return m.createErr
	}
	for _, existing := range m.users {
		if existing.ID == u.ID || existing.Email == u.Email {
			return apperror.Conflict("user", u.ID)
		}
	}
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt
	stored := *u
	m.users[u.ID] = &stored
	return nil
}

func (m *mockUserRepo) GetByID(_ context.Context, id string) (*model.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, apperror.NotFound("user", id)
	}
	result := *u
	return &result, nil
}

func (m *mockUserRepo) GetByEmail(_ context.Context, email string) (*model.User, error) {
	for _, u := range m.users {
		if u.Email == email {
			result := *u
			return &result, nil
		}
	}
	return nil, apperror.NotFound("user", email)
}

func (m *mockUserRepo) List(_ context.Context, filter model.UserFilter) ([]model.User, error) {
	result := make([]model.User, 0, len(m.users))
	for _, u := range m.users {
		if strings.Contains(strings.ToLower(u.Name), strings.ToLower(filter.Search)) {
			result = append(result, *u)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if filter.Order == model.OrderAsc {
			return result[i].Name < result[j].Name
		}
		return result[i].Name > result[j].Name
	})
	return result, nil
}

type mockTempRepo struct {
	rows      []model.TempSignup
	nextID    int
	createErr error
	deleteErr error
}

func (m *mockTempRepo) Create(_ context.Context, t *model.TempSignup) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.nextID++
	t.ID = fmt.Sprintf("temp-%d", m.nextID)
	t.CreatedAt = time.Now()
	m.rows = append(m.rows, *t)
	return nil
}

func (m *mockTempRepo) GetLiveByEmail(_ context.Context, email string, now time.Time) (*model.TempSignup, error) {
	for i := len(m.rows) - 1; i >= 0; i-- {
		if m.rows[i].Email == email && !m.rows[i].Expired(now) {
			result := m.rows[i]
			return &result, nil
		}
	}
	return nil, apperror.NotFound("temp signup", email)
}

func (m *mockTempRepo) DeleteByEmail(_ context.Context, email string) (int64, error) {
	if m.deleteErr != nil {
		return 0, m.deleteErr
	}
	return m.deleteWhere(func(t model.TempSignup) bool { return t.Email == email }), nil
}

func (m *mockTempRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	return m.deleteWhere(func(t model.TempSignup) bool { return t.Expired(now) }), nil
}

func (m *mockTempRepo) deleteWhere(match func(model.TempSignup) bool) int64 {
	kept := m.rows[:0]
	var n int64
	for _, t := range m.rows {
		if match(t) {
			n++
			continue
		}
		kept = append(kept, t)
	}
	m.rows = kept
	return n
}

// mockIDP is an identity.Provider whose links are registered up front.
type mockIDP struct {
	links     map[string]identity.Account // token hash → account
	passwords map[string]string           // email → password
	signUps   []string
	signIns   int
	signUpErr error
	verifyErr error
}

func newMockIDP() *mockIDP {
	return &mockIDP{
		links:     make(map[string]identity.Account),
		passwords: make(map[string]string),
	}
}

func (m *mockIDP) SignUp(_ context.Context, email, password string) error {
	if m.signUpErr != nil {
		return m.signUpErr
	}
	m.signUps = append(m.signUps, email)
	m.passwords[email] = password
	return nil
}

func (m *mockIDP) VerifyOTP(_ context.Context, tokenHash, _ string) (*identity.Session, error) {
	if m.verifyErr != nil {
		return nil, m.verifyErr
	}
	account, ok := m.links[tokenHash]
	if !ok {
		return nil, identity.ErrInvalidLink
	}
	return &identity.Session{
		AccessToken: "token-for-" + account.ID,
		ExpiresAt:   time.Now().Add(time.Hour),
		Account:     account,
	}, nil
}

func (m *mockIDP) SignInWithPassword(_ context.Context, email, password string) (*identity.Session, error) {
	m.signIns++
	want, ok := m.passwords[email]
	if !ok || want != password {
		return nil, identity.ErrInvalidCredentials
	}
	return &identity.Session{
		AccessToken: "token-for-" + email,
		ExpiresAt:   time.Now().Add(time.Hour),
		Account:     identity.Account{ID: "acc-" + email, Email: email},
	}, nil
}

func (m *mockIDP) GetUser(_ context.Context, _ string) (*identity.Account, error) {
	return nil, identity.ErrInvalidToken
}

// mockGuideStore implements both GuideRepository and StepRepository over
// one map, the way the SQL store shares its tables.
type mockGuideStore struct {
	guides  map[string]*model.Guide
	steps   map[string]*model.Step
	nextID  int
	listErr error
	// lastFilter records what List was called with.
	lastFilter model.GuideFilter
}

func newMockGuideStore() *mockGuideStore {
	return &mockGuideStore{
		guides: make(map[string]*model.Guide),
		steps:  make(map[string]*model.Step),
	}
}

func (m *mockGuideStore) id(prefix string) string {
	m.nextID++
	return fmt.Sprintf("%s-%d", prefix, m.nextID)
}

func (m *mockGuideStore) aggregate(g *model.Guide) model.GuideAggregate {
	agg := model.GuideAggregate{Guide: *g, Steps: []model.Step{}}
	for _, st := range m.steps {
		if st.GuideID == g.ID {
			agg.Steps = append(agg.Steps, *st)
		}
	}
	sort.Slice(agg.Steps, func(i, j int) bool { return agg.Steps[i].StepNumber < agg.Steps[j].StepNumber })
	return agg
}

func (m *mockGuideStore) replaceSteps(guideID string, steps []model.StepInput) {
	for id, st := range m.steps {
		if st.GuideID == guideID {
			delete(m.steps, id)
		}
	}
	for _, in := range steps {
		id := m.id("step")
		m.steps[id] = &model.Step{
			ID:          id,
			GuideID:     guideID,
			StepNumber:  in.StepNumber,
			Title:       in.Title,
			Description: in.Description,
			StartLine:   in.StartLine,
			EndLine:     in.EndLine,
		}
	}
}

func (m *mockGuideStore) CreateWithSteps(_ context.Context, g *model.Guide, steps []model.StepInput) (*model.GuideAggregate, error) {
	g.ID = m.id("guide")
	stored := *g
	m.guides[g.ID] = &stored
	m.replaceSteps(g.ID, steps)
	agg := m.aggregate(&stored)
	return &agg, nil
}

func (m *mockGuideStore) GetByID(_ context.Context, id string) (*model.GuideAggregate, error) {
	g, ok := m.guides[id]
	if !ok {
		return nil, apperror.NotFound("guide", id)
	}
	agg := m.aggregate(g)
	return &agg, nil
}

func (m *mockGuideStore) List(_ context.Context, filter model.GuideFilter) ([]model.GuideAggregate, error) {
	m.lastFilter = filter
	if m.listErr != nil {
		return nil, m.listErr
	}
	result := []model.GuideAggregate{}
	for _, g := range m.guides {
		result = append(result, m.aggregate(g))
	}
	return result, nil
}

func (m *mockGuideStore) ListByAuthor(_ context.Context, authorID string) ([]model.GuideAggregate, error) {
	result := []model.GuideAggregate{}
	for _, g := range m.guides {
		if g.AuthorID == authorID {
			result = append(result, m.aggregate(g))
		}
	}
	return result, nil
}

func (m *mockGuideStore) UpdateWithSteps(_ context.Context, g *model.Guide, steps *[]model.StepInput) (*model.GuideAggregate, error) {
	if _, ok := m.guides[g.ID]; !ok {
		return nil, apperror.NotFound("guide", g.ID)
	}
	stored := *g
	m.guides[g.ID] = &stored
	if steps != nil {
		m.replaceSteps(g.ID, *steps)
	}
	agg := m.aggregate(&stored)
	return &agg, nil
}

func (m *mockGuideStore) DeleteWithSteps(_ context.Context, id string) error {
	if _, ok := m.guides[id]; !ok {
		return apperror.NotFound("guide", id)
	}
	delete(m.guides, id)
	m.replaceSteps(id, nil)
	return nil
}

// mockStepRepo is the StepRepository view of a mockGuideStore.
type mockStepRepo struct{ *mockGuideStore }

func (m mockStepRepo) ListByGuide(_ context.Context, guideID string) ([]model.Step, error) {
	g, ok := m.guides[guideID]
	if !ok {
		return []model.Step{}, nil
	}
	return m.aggregate(g).Steps, nil
}

func (m mockStepRepo) GetByID(_ context.Context, id string) (*model.Step, error) {
	st, ok := m.steps[id]
	if !ok {
		return nil, apperror.NotFound("step", id)
	}
	result := *st
	return &result, nil
}

func (m mockStepRepo) Create(_ context.Context, s *model.Step) error {
	s.ID = m.id("step")
	stored := *s
	m.steps[s.ID] = &stored
	return nil
}

func (m mockStepRepo) Update(_ context.Context, s *model.Step) error {
	if _, ok := m.steps[s.ID]; !ok {
		return apperror.NotFound("step", s.ID)
	}
	stored := *s
	m.steps[s.ID] = &stored
	return nil
}

func (m mockStepRepo) Delete(_ context.Context, id string) error {
	if _, ok := m.steps[id]; !ok {
		return apperror.NotFound("step", id)
	}
	delete(m.steps, id)
	return nil
}
