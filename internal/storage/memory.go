package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/formpulse/formpulse/internal/core"
)

// memoryStore is an in-process Store used by tests and by the server when no
// database is configured.
type memoryStore struct {
	mu                  sync.Mutex
	runs                []*core.RunRecord
	accounts            map[string]*core.CreditAccount
	analytics           map[string]*core.FormAnalytics
	analyses            map[string]*core.AnalysisResult
	questions           []*core.DynamicQuestion
	defaultMonthlyLimit float64
}

// NewMemoryStore creates an empty in-memory Store.
func NewMemoryStore() Store {
	return &memoryStore{
		accounts:            make(map[string]*core.CreditAccount),
		analytics:           make(map[string]*core.FormAnalytics),
		analyses:            make(map[string]*core.AnalysisResult),
		defaultMonthlyLimit: DefaultMonthlyCredits,
	}
}

func (s *memoryStore) SaveRun(_ context.Context, run *core.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *run
	stored.Steps = append([]core.StepResult(nil), run.Steps...)
	s.runs = append(s.runs, &stored)
	return nil
}

func (s *memoryStore) LatestRun(_ context.Context, workUnitID string) (*core.RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.runs) - 1; i >= 0; i-- {
		if s.runs[i].WorkUnitID == workUnitID {
			run := *s.runs[i]
			return &run, nil
		}
	}
	return nil, fmt.Errorf("no run found for work unit %s: %w", workUnitID, ErrNotFound)
}

func (s *memoryStore) ListRuns(_ context.Context, limit int) ([]*core.RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}
	runs := make([]*core.RunRecord, len(s.runs))
	for i, r := range s.runs {
		run := *r
		runs[i] = &run
	}
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	if len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (s *memoryStore) CreditAccount(_ context.Context, userID string) (*core.CreditAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[userID]
	if !ok {
		account = &core.CreditAccount{
			UserID:       userID,
			MonthlyLimit: s.defaultMonthlyLimit,
			PeriodStart:  core.MonthStart(time.Now().UTC()),
		}
		s.accounts[userID] = account
	}
	copied := *account
	return &copied, nil
}

func (s *memoryStore) SaveCreditAccount(_ context.Context, account *core.CreditAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *account
	s.accounts[account.UserID] = &copied
	return nil
}

func (s *memoryStore) FormAnalytics(_ context.Context, formID string) (*core.FormAnalytics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	analytics, ok := s.analytics[formID]
	if !ok {
		return nil, fmt.Errorf("no analytics for form %s: %w", formID, ErrNotFound)
	}
	copied := *analytics
	return &copied, nil
}

func (s *memoryStore) UpsertFormAnalytics(_ context.Context, formID string, merge func(*core.FormAnalytics)) (*core.FormAnalytics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	analytics, ok := s.analytics[formID]
	if !ok {
		analytics = &core.FormAnalytics{FormID: formID}
		s.analytics[formID] = analytics
	}
	merge(analytics)
	copied := *analytics
	return &copied, nil
}

func (s *memoryStore) SaveAnalysisResult(_ context.Context, result *core.AnalysisResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *result
	s.analyses[result.ResponseID] = &copied
	return nil
}

func (s *memoryStore) AnalysisResult(_ context.Context, responseID string) (*core.AnalysisResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, ok := s.analyses[responseID]
	if !ok {
		return nil, fmt.Errorf("no analysis for response %s: %w", responseID, ErrNotFound)
	}
	copied := *result
	return &copied, nil
}

func (s *memoryStore) SaveDynamicQuestion(_ context.Context, question *core.DynamicQuestion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *question
	s.questions = append(s.questions, &copied)
	return nil
}
