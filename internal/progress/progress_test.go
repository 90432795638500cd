package progress

import (
	"context"
	"errors"
	"testing"

	"gotest.tools/v3/assert"
)

func TestTaskLifecycleEmitsFourEvents(t *testing.T) {
	ctx := context.Background()
	reporter := NewChannelReporter(8)

	task := NewTask(ctx, reporter, "t1", "pulling image")
	task.Progress(ctx, 1, 4)
	task.Progress(ctx, 4, 4)
	task.Finish(ctx, nil)
	reporter.Close()

	var events []Event
	for ev := range reporter.Events() {
		events = append(events, ev)
	}

	assert.Equal(t, len(events), 4)
	assert.Equal(t, events[0].Kind, TaskStarted)
	assert.Equal(t, events[1].Kind, ItemsProgress)
	assert.Equal(t, events[3].Kind, TaskFinished)
	assert.Equal(t, events[3].Error, "")
}

func TestTaskFinishRecordsError(t *testing.T) {
	ctx := context.Background()
	reporter := NewChannelReporter(4)

	task := NewTask(ctx, reporter, "t1", "ingest")
	task.Finish(ctx, errors.New("digest mismatch"))
	reporter.Close()

	var last Event
	for ev := range reporter.Events() {
		last = ev
	}
	assert.Equal(t, last.Kind, TaskFinished)
	assert.Equal(t, last.Error, "digest mismatch")
}

func TestChannelReporterDropsWhenFull(t *testing.T) {
	reporter := NewChannelReporter(1)
	ctx := context.Background()

	reporter.Report(ctx, Event{Kind: TaskStarted, TaskID: "a"})
	reporter.Report(ctx, Event{Kind: TaskStarted, TaskID: "b"}) // dropped, buffer full

	reporter.Close()
	var events []Event
	for ev := range reporter.Events() {
		events = append(events, ev)
	}
	assert.Equal(t, len(events), 1)
}
