package core

import "context"

// Tracker receives progress from a running pipeline.
// Every call is persisted before it returns so pollers observe it immediately.
type Tracker interface {
	// Stage advances progress and appends one log entry describing what just started.
	Stage(ctx context.Context, stage Stage, message string) error

	// Log appends an entry without changing progress.
	Log(ctx context.Context, level LogLevel, message string) error
}

// NoopTracker discards progress. Useful when running a pipeline outside the engine.
type NoopTracker struct{}

var _ Tracker = NoopTracker{}

func (NoopTracker) Stage(context.Context, Stage, string) error   { return nil }
func (NoopTracker) Log(context.Context, LogLevel, string) error { return nil }
