package core

import "time"

// CreditAccount is a per-user consumable AI quota. used <= monthlyLimit is
// deliberately not enforced at write time; remaining is clamped on read.
// Mutated only by the credit ledger.
type CreditAccount struct {
	UserID       string
	Used         float64
	MonthlyLimit float64
	PeriodStart  time.Time
}

// Remaining computes the readable balance, floored at zero.
func (a *CreditAccount) Remaining() float64 {
	remaining := a.MonthlyLimit - a.Used
	if remaining < 0 {
		return 0
	}
	return remaining
}

// MonthStart truncates t to the first instant of its month in UTC. Credit
// periods roll over on this boundary.
func MonthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// FormAnalytics aggregates response metrics for one form. Updated via
// upsert/merge so re-applying the same completion is tolerated.
type FormAnalytics struct {
	FormID               string
	ResponsesCount       int
	CompletedCount       int
	AvgCompletionSeconds float64
	LastResponseAt       time.Time
}

// RecordCompletion merges one completed response into the aggregate using an
// incremental average.
func (f *FormAnalytics) RecordCompletion(completionSeconds float64, at time.Time) {
	f.ResponsesCount++
	f.CompletedCount++
	n := float64(f.CompletedCount)
	f.AvgCompletionSeconds += (completionSeconds - f.AvgCompletionSeconds) / n
	if at.After(f.LastResponseAt) {
		f.LastResponseAt = at
	}
}

// AnalysisResult is the persisted output of one AI response analysis.
type AnalysisResult struct {
	ResponseID string
	FormID     string
	Summary    string
	Sentiment  string
	Score      float64
	Model      string
	UpdatedAt  time.Time
}

// DynamicQuestion is a generated follow-up question for an in-flight response.
type DynamicQuestion struct {
	ResponseID string
	FormID     string
	Question   string
	Model      string
	CreatedAt  time.Time
}
