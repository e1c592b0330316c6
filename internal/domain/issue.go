package domain

import "time"

// Issue is a tracker issue as returned by the issue tracker.
type Issue struct {
	ID          string
	Identifier  string // human readable, e.g. PROJ-42
	Title       string
	Description string
	URL         string
}

type Team struct {
	ID   string
	Name string
}

// Recording is a session replay returned by the analytics service.
type Recording struct {
	ID        string
	URL       string
	Duration  time.Duration
	StartTime string
}

// FixResult is the terminal report of the fix command.
type FixResult struct {
	Success    bool
	PRURL      string
	BranchName string
	Error      string
}
