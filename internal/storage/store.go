// Package storage provides persistence for run records, credit accounts, and
// form analytics. The orchestration core only sees the Store interface; the
// concrete backend is wired at startup.
package storage

import (
	"context"
	"errors"

	"github.com/formpulse/formpulse/internal/core"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Store defines the interface for all database operations.
type Store interface {
	// SaveRun persists a run record together with its step results. Step
	// results from earlier attempts of the same work unit are retained.
	SaveRun(ctx context.Context, run *core.RunRecord) error
	// LatestRun returns the most recent run for a work unit.
	LatestRun(ctx context.Context, workUnitID string) (*core.RunRecord, error)
	// ListRuns returns the most recent runs, newest first.
	ListRuns(ctx context.Context, limit int) ([]*core.RunRecord, error)

	// CreditAccount loads a user's credit account, creating a zero-usage
	// account with the default monthly limit when none exists.
	CreditAccount(ctx context.Context, userID string) (*core.CreditAccount, error)
	// SaveCreditAccount writes a credit account unconditionally.
	SaveCreditAccount(ctx context.Context, account *core.CreditAccount) error

	// FormAnalytics loads the aggregate for a form.
	FormAnalytics(ctx context.Context, formID string) (*core.FormAnalytics, error)
	// UpsertFormAnalytics loads-or-initializes the aggregate for a form,
	// applies merge, and writes the result back.
	UpsertFormAnalytics(ctx context.Context, formID string, merge func(*core.FormAnalytics)) (*core.FormAnalytics, error)

	// SaveAnalysisResult upserts the AI analysis output for a response.
	SaveAnalysisResult(ctx context.Context, result *core.AnalysisResult) error
	// AnalysisResult loads the AI analysis output for a response.
	AnalysisResult(ctx context.Context, responseID string) (*core.AnalysisResult, error)

	// SaveDynamicQuestion records a generated follow-up question.
	SaveDynamicQuestion(ctx context.Context, question *core.DynamicQuestion) error
}
