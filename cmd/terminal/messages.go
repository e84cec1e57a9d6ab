package main

import "time"

// Indicates that the run list has been refreshed from the server.
type runsLoadedMsg struct {
	runs []runView
	err  error
}

// Indicates that one run's detail view has been fetched and rendered.
type runLoadedMsg struct {
	workUnitID string
	rendered   string
	err        error
}

// Indicates that a credit balance lookup finished.
type creditsLoadedMsg struct {
	userID    string
	remaining float64
	err       error
}

// Fires on the polling interval to refresh the run list.
type pollTickMsg time.Time

// A generic error message for reporting failures from commands.
type errorMsg struct{ err error }

func (e errorMsg) Error() string {
	return e.err.Error()
}
