package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	// import db drivers
	_ "github.com/lib/pq"

	"github.com/formpulse/formpulse/internal/core"
)

// DefaultMonthlyCredits is the allowance granted to accounts created lazily
// on first read.
const DefaultMonthlyCredits = 10.0

type postgresStore struct {
	db                  *sqlx.DB
	defaultMonthlyLimit float64
}

// NewStore creates a postgres-backed Store.
func NewStore(db *sqlx.DB) Store {
	return &postgresStore{db: db, defaultMonthlyLimit: DefaultMonthlyCredits}
}

func (s *postgresStore) SaveRun(ctx context.Context, run *core.RunRecord) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var runID int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO runs (work_unit_id, event_type, attempt_number, overall_status, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		run.WorkUnitID, run.EventType, run.AttemptNumber, run.OverallStatus, run.StartedAt, run.FinishedAt,
	).Scan(&runID)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	for _, step := range run.Steps {
		var category, message sql.NullString
		if step.Error != nil {
			category = sql.NullString{String: string(step.Error.Category), Valid: true}
			message = sql.NullString{String: step.Error.Message, Valid: true}
		}
		sideEffects, err := json.Marshal(step.SideEffects)
		if err != nil {
			return fmt.Errorf("failed to encode side effects for step %s: %w", step.StepName, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO run_steps (run_id, step_name, required, status, error_category, error_message, side_effects, recorded_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			runID, step.StepName, step.Required, step.Status, category, message, sideEffects, step.RecordedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert step result %s: %w", step.StepName, err)
		}
	}

	return tx.Commit()
}

func (s *postgresStore) LatestRun(ctx context.Context, workUnitID string) (*core.RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, work_unit_id, event_type, attempt_number, overall_status, started_at, finished_at
		FROM runs
		WHERE work_unit_id = $1
		ORDER BY started_at DESC, id DESC
		LIMIT 1`, workUnitID)

	run, runID, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("no run found for work unit %s: %w", workUnitID, ErrNotFound)
		}
		return nil, err
	}

	if err := s.loadSteps(ctx, runID, run); err != nil {
		return nil, err
	}
	return run, nil
}

func (s *postgresStore) ListRuns(ctx context.Context, limit int) ([]*core.RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, work_unit_id, event_type, attempt_number, overall_status, started_at, finished_at
		FROM runs
		ORDER BY started_at DESC, id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*core.RunRecord
	var ids []int64
	for rows.Next() {
		run, runID, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
		ids = append(ids, runID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, run := range runs {
		if err := s.loadSteps(ctx, ids[i], run); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*core.RunRecord, int64, error) {
	var run core.RunRecord
	var runID int64
	err := row.Scan(&runID, &run.WorkUnitID, &run.EventType, &run.AttemptNumber,
		&run.OverallStatus, &run.StartedAt, &run.FinishedAt)
	if err != nil {
		return nil, 0, err
	}
	return &run, runID, nil
}

func (s *postgresStore) loadSteps(ctx context.Context, runID int64, run *core.RunRecord) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT step_name, required, status, error_category, error_message, side_effects, recorded_at
		FROM run_steps
		WHERE run_id = $1
		ORDER BY id ASC`, runID)
	if err != nil {
		return fmt.Errorf("failed to load steps for run %d: %w", runID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var step core.StepResult
		var category, message sql.NullString
		var sideEffects []byte
		if err := rows.Scan(&step.StepName, &step.Required, &step.Status,
			&category, &message, &sideEffects, &step.RecordedAt); err != nil {
			return err
		}
		if category.Valid {
			step.Error = &core.ClassifiedError{
				Category: core.ErrorCategory(category.String),
				Message:  message.String,
			}
		}
		if len(sideEffects) > 0 {
			if err := json.Unmarshal(sideEffects, &step.SideEffects); err != nil {
				return fmt.Errorf("failed to decode side effects for step %s: %w", step.StepName, err)
			}
		}
		run.Steps = append(run.Steps, step)
	}
	return rows.Err()
}

func (s *postgresStore) CreditAccount(ctx context.Context, userID string) (*core.CreditAccount, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, used, monthly_limit, period_start
		FROM credit_accounts
		WHERE user_id = $1`, userID)

	var account core.CreditAccount
	err := row.Scan(&account.UserID, &account.Used, &account.MonthlyLimit, &account.PeriodStart)
	if errors.Is(err, sql.ErrNoRows) {
		account = core.CreditAccount{
			UserID:       userID,
			MonthlyLimit: s.defaultMonthlyLimit,
			PeriodStart:  core.MonthStart(time.Now().UTC()),
		}
		if err := s.SaveCreditAccount(ctx, &account); err != nil {
			return nil, err
		}
		return &account, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load credit account for %s: %w", userID, err)
	}
	return &account, nil
}

func (s *postgresStore) SaveCreditAccount(ctx context.Context, account *core.CreditAccount) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credit_accounts (user_id, used, monthly_limit, period_start)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE
		SET used = EXCLUDED.used, monthly_limit = EXCLUDED.monthly_limit, period_start = EXCLUDED.period_start`,
		account.UserID, account.Used, account.MonthlyLimit, account.PeriodStart)
	if err != nil {
		return fmt.Errorf("failed to save credit account for %s: %w", account.UserID, err)
	}
	return nil
}

func (s *postgresStore) FormAnalytics(ctx context.Context, formID string) (*core.FormAnalytics, error) {
	return s.loadAnalytics(ctx, s.db, formID)
}

func (s *postgresStore) UpsertFormAnalytics(ctx context.Context, formID string, merge func(*core.FormAnalytics)) (*core.FormAnalytics, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		SELECT form_id, responses_count, completed_count, avg_completion_seconds, last_response_at
		FROM form_analytics
		WHERE form_id = $1
		FOR UPDATE`, formID)

	analytics := &core.FormAnalytics{FormID: formID}
	err = row.Scan(&analytics.FormID, &analytics.ResponsesCount, &analytics.CompletedCount,
		&analytics.AvgCompletionSeconds, &analytics.LastResponseAt)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to load analytics for form %s: %w", formID, err)
	}

	merge(analytics)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO form_analytics (form_id, responses_count, completed_count, avg_completion_seconds, last_response_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (form_id) DO UPDATE
		SET responses_count = EXCLUDED.responses_count,
		    completed_count = EXCLUDED.completed_count,
		    avg_completion_seconds = EXCLUDED.avg_completion_seconds,
		    last_response_at = EXCLUDED.last_response_at`,
		analytics.FormID, analytics.ResponsesCount, analytics.CompletedCount,
		analytics.AvgCompletionSeconds, analytics.LastResponseAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert analytics for form %s: %w", formID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return analytics, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *postgresStore) loadAnalytics(ctx context.Context, q queryRower, formID string) (*core.FormAnalytics, error) {
	row := q.QueryRowContext(ctx, `
		SELECT form_id, responses_count, completed_count, avg_completion_seconds, last_response_at
		FROM form_analytics
		WHERE form_id = $1`, formID)

	var analytics core.FormAnalytics
	err := row.Scan(&analytics.FormID, &analytics.ResponsesCount, &analytics.CompletedCount,
		&analytics.AvgCompletionSeconds, &analytics.LastResponseAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no analytics for form %s: %w", formID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load analytics for form %s: %w", formID, err)
	}
	return &analytics, nil
}

func (s *postgresStore) SaveAnalysisResult(ctx context.Context, result *core.AnalysisResult) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO analysis_results (response_id, form_id, summary, sentiment, score, model, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (response_id) DO UPDATE
		SET summary = EXCLUDED.summary, sentiment = EXCLUDED.sentiment,
		    score = EXCLUDED.score, model = EXCLUDED.model, updated_at = EXCLUDED.updated_at`,
		result.ResponseID, result.FormID, result.Summary, result.Sentiment,
		result.Score, result.Model, result.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save analysis result for response %s: %w", result.ResponseID, err)
	}
	return nil
}

func (s *postgresStore) AnalysisResult(ctx context.Context, responseID string) (*core.AnalysisResult, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT response_id, form_id, summary, sentiment, score, model, updated_at
		FROM analysis_results
		WHERE response_id = $1`, responseID)

	var result core.AnalysisResult
	err := row.Scan(&result.ResponseID, &result.FormID, &result.Summary,
		&result.Sentiment, &result.Score, &result.Model, &result.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no analysis for response %s: %w", responseID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load analysis for response %s: %w", responseID, err)
	}
	return &result, nil
}

func (s *postgresStore) SaveDynamicQuestion(ctx context.Context, question *core.DynamicQuestion) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dynamic_questions (response_id, form_id, question, model, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		question.ResponseID, question.FormID, question.Question, question.Model, question.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save dynamic question for response %s: %w", question.ResponseID, err)
	}
	return nil
}
