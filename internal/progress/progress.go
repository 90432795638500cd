// Package progress emits the structured progress events long-running
// operations (today, containers.Create's image-clone step) report: task_started,
// items_progress, and task_finished (§9 design note). Unlike the teacher's
// ANSI terminal messenger, these events are structured for consumption by
// remote callers over the transport bus rather than printed directly.
package progress

import (
	"context"
	"log/slog"
)

// EventKind is the tag of a progress event's tagged union.
type EventKind string

const (
	TaskStarted   EventKind = "task_started"
	ItemsProgress EventKind = "items_progress"
	TaskFinished  EventKind = "task_finished"
)

// Event is one structured progress update.
type Event struct {
	Kind      EventKind `json:"kind"`
	TaskID    string    `json:"taskID"`
	Task      string    `json:"task,omitempty"`
	Completed int64     `json:"completed,omitempty"`
	Total     int64     `json:"total,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Reporter is the sink progress-emitting operations write to. The core
// itself never assumes a terminal exists; a CLI client renders Events.
type Reporter interface {
	Report(ctx context.Context, ev Event)
}

// SlogReporter logs each event at debug level, the default reporter used
// when no remote caller is attached to a task.
type SlogReporter struct{}

// Report implements Reporter.
func (SlogReporter) Report(ctx context.Context, ev Event) {
	slog.DebugContext(ctx, "progress", "kind", ev.Kind, "taskID", ev.TaskID, "task", ev.Task,
		"completed", ev.Completed, "total", ev.Total, "error", ev.Error)
}

// ChannelReporter fans events out over a channel, for a transport handler
// to stream to a connected client. Report drops the event rather than
// blocking if the channel's buffer is full.
type ChannelReporter struct {
	ch chan Event
}

// NewChannelReporter constructs a ChannelReporter with the given buffer size.
func NewChannelReporter(buffer int) *ChannelReporter {
	return &ChannelReporter{ch: make(chan Event, buffer)}
}

// Report implements Reporter.
func (r *ChannelReporter) Report(ctx context.Context, ev Event) {
	select {
	case r.ch <- ev:
	default:
	}
}

// Events returns the channel events are published on.
func (r *ChannelReporter) Events() <-chan Event {
	return r.ch
}

// Close releases the underlying channel. Safe to call once no further
// Report calls are pending.
func (r *ChannelReporter) Close() {
	close(r.ch)
}

// Task is a convenience wrapper pairing a Reporter with a fixed taskID and
// human-readable label, grounded on the teacher's UserMessenger that
// similarly wraps a sink behind a small stateful type.
type Task struct {
	reporter Reporter
	taskID   string
	label    string
}

// NewTask starts a task_started event and returns a Task to report further
// progress against it.
func NewTask(ctx context.Context, reporter Reporter, taskID, label string) *Task {
	t := &Task{reporter: reporter, taskID: taskID, label: label}
	reporter.Report(ctx, Event{Kind: TaskStarted, TaskID: taskID, Task: label})
	return t
}

// Progress reports an items_progress update.
func (t *Task) Progress(ctx context.Context, completed, total int64) {
	t.reporter.Report(ctx, Event{Kind: ItemsProgress, TaskID: t.taskID, Task: t.label, Completed: completed, Total: total})
}

// Finish reports a task_finished event. err is empty-stringed if nil.
func (t *Task) Finish(ctx context.Context, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	t.reporter.Report(ctx, Event{Kind: TaskFinished, TaskID: t.taskID, Task: t.label, Error: msg})
}
