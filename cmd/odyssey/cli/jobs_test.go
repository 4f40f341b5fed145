package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

type stubQueue struct {
	payloads []jobs.Payload
}

func (s *stubQueue) Enqueue(_ context.Context, name string, payload jobs.Payload) (*asynq.TaskInfo, error) {
	s.payloads = append(s.payloads, payload)
	return &asynq.TaskInfo{ID: "t-1", Queue: jobs.QueueDefault, Type: name}, nil
}

type stubInspector struct {
	scheduled []*asynq.TaskInfo
}

func (s stubInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	return &asynq.QueueInfo{Queue: queue, Pending: 2, Active: 1}, nil
}

func (s stubInspector) ListScheduledTasks(string, ...asynq.ListOption) ([]*asynq.TaskInfo, error) {
	return s.scheduled, nil
}

func (s stubInspector) Close() error { return nil }

type stubRunner struct{ err error }

func (s stubRunner) Run(_ context.Context, name string) (any, error) {
	return map[string]string{"ran": name}, s.err
}

func TestParseJobsArgs(t *testing.T) {
	opts, err := ParseJobsArgs([]string{"trigger", "--json", jobs.TaskLedgerReconcile})
	require.NoError(t, err)
	require.Equal(t, "trigger", opts.Action)
	require.Equal(t, jobs.TaskLedgerReconcile, opts.Task)
	require.True(t, opts.JSONOutput)

	opts, err = ParseJobsArgs([]string{"scheduled", "--size", "5"})
	require.NoError(t, err)
	require.Equal(t, 5, opts.Size)

	_, err = ParseJobsArgs(nil)
	require.Error(t, err)
	_, err = ParseJobsArgs([]string{"trigger", "mail:send"})
	require.ErrorContains(t, err, "unsupported task")
	_, err = ParseJobsArgs([]string{"trigger"})
	require.Error(t, err)
	_, err = ParseJobsArgs([]string{"purge"})
	require.ErrorContains(t, err, "unknown action")
}

func TestJobsCommandTriggerJSON(t *testing.T) {
	queue := &stubQueue{}
	c := &JobsCLI{queue: queue, inspector: stubInspector{}}
	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)

	code := c.Command(context.Background(), JobsOptions{
		Action: "trigger", Task: jobs.TaskLedgerIntegrity, JSONOutput: true, Stdout: stdout, Stderr: stderr,
	})
	require.Equal(t, 0, code, stderr.String())
	var out map[string]string
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &out))
	require.Equal(t, "t-1", out["id"])
	require.Len(t, queue.payloads, 1)
	require.Equal(t, "cli", queue.payloads[0].RequestedBy)
}

func TestJobsCommandStatsAndScheduled(t *testing.T) {
	next := time.Date(2025, 3, 2, 1, 0, 0, 0, time.UTC)
	c := &JobsCLI{queue: &stubQueue{}, inspector: stubInspector{scheduled: []*asynq.TaskInfo{
		{ID: "s-1", Type: jobs.TaskLedgerReconcile, NextProcessAt: next},
	}}}

	stdout := new(bytes.Buffer)
	code := c.Command(context.Background(), JobsOptions{Action: "stats", JSONOutput: true, Stdout: stdout})
	require.Equal(t, 0, code)
	var stats QueueStats
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &stats))
	require.Equal(t, 2, stats.Pending)
	require.Equal(t, 1, stats.Active)

	stdout.Reset()
	code = c.Command(context.Background(), JobsOptions{Action: "scheduled", JSONOutput: true, Stdout: stdout})
	require.Equal(t, 0, code)
	require.Contains(t, stdout.String(), `"next":"2025-03-02T01:00:00Z"`)
}

func TestRunInlineReportsFailure(t *testing.T) {
	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	code := RunInline(context.Background(), stubRunner{}, JobsOptions{Action: "run", Task: jobs.TaskStockRecalculate, Stdout: stdout, Stderr: stderr})
	require.Equal(t, 0, code)
	require.Contains(t, stdout.String(), jobs.TaskStockRecalculate)

	code = RunInline(context.Background(), stubRunner{err: errors.New("locked")}, JobsOptions{Action: "run", Task: jobs.TaskStockRecalculate, Stdout: stdout, Stderr: stderr})
	require.Equal(t, 1, code)
	require.Contains(t, stderr.String(), "locked")
}

func TestUnconfiguredCLI(t *testing.T) {
	var c *JobsCLI
	_, err := c.Trigger(context.Background(), jobs.TaskLedgerIntegrity)
	require.Error(t, err)
	_, err = c.InspectQueue(context.Background())
	require.Error(t, err)
}
