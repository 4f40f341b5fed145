package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

// QueueInspector is the read side of the queue used by the CLI.
type QueueInspector interface {
	jobs.QueueInspector
	ListScheduledTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	Close() error
}

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    *jobs.Client
	queue     jobs.Enqueuer
	inspector QueueInspector
}

// NewJobsCLI initialises the CLI helpers against the given Redis endpoint.
func NewJobsCLI(opts asynq.RedisClientOpt) *JobsCLI {
	client := jobs.NewClient(opts)
	return &JobsCLI{client: client, queue: client, inspector: asynq.NewInspector(opts)}
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var errs []error
	if c.inspector != nil {
		errs = append(errs, c.inspector.Close())
	}
	if c.client != nil {
		errs = append(errs, c.client.Close())
	}
	return errors.Join(errs...)
}

// Trigger enqueues a maintenance job by name.
func (c *JobsCLI) Trigger(ctx context.Context, name string) (*asynq.TaskInfo, error) {
	if c == nil || c.queue == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	return c.queue.Enqueue(ctx, name, jobs.Payload{RequestedBy: "cli"})
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
}

// InspectQueue reports the queue metrics for the default queue.
func (c *JobsCLI) InspectQueue(ctx context.Context) (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: jobs.QueueDefault}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
	}
	return stats, nil
}

// ListScheduled returns scheduled task infos for observability.
func (c *JobsCLI) ListScheduled(ctx context.Context, size int) ([]*asynq.TaskInfo, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	if size <= 0 {
		size = 10
	}
	return c.inspector.ListScheduledTasks(jobs.QueueDefault, asynq.PageSize(size), asynq.Page(1))
}

// JobsOptions defines the flags of the jobs command.
type JobsOptions struct {
	Action     string
	Task       string
	Size       int
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// ParseJobsArgs parses "jobs <trigger|run|stats|scheduled> [task] [--json] [--size n]".
func ParseJobsArgs(args []string) (JobsOptions, error) {
	var opts JobsOptions
	if len(args) == 0 {
		return opts, errors.New("jobs: action required (trigger, run, stats, scheduled)")
	}
	opts.Action = args[0]
	fs := flag.NewFlagSet("jobs "+opts.Action, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.BoolVar(&opts.JSONOutput, "json", false, "print JSON")
	fs.IntVar(&opts.Size, "size", 10, "page size for scheduled tasks")
	if err := fs.Parse(args[1:]); err != nil {
		return opts, fmt.Errorf("jobs %s: %w", opts.Action, err)
	}
	switch opts.Action {
	case "trigger", "run":
		if fs.NArg() != 1 {
			return opts, fmt.Errorf("jobs %s: exactly one task name required", opts.Action)
		}
		opts.Task = fs.Arg(0)
		if !jobs.KnownTask(opts.Task) {
			return opts, fmt.Errorf("jobs %s: unsupported task %q", opts.Action, opts.Task)
		}
	case "stats", "scheduled":
	default:
		return opts, fmt.Errorf("jobs: unknown action %q", opts.Action)
	}
	return opts, nil
}

// Command executes a queue-backed jobs action and returns the exit code.
func (c *JobsCLI) Command(ctx context.Context, opts JobsOptions) int {
	opts = withWriters(opts)
	var (
		out any
		err error
	)
	switch opts.Action {
	case "trigger":
		var info *asynq.TaskInfo
		info, err = c.Trigger(ctx, opts.Task)
		if err == nil {
			out = map[string]string{"task": opts.Task, "id": info.ID, "queue": info.Queue}
		}
	case "stats":
		out, err = c.InspectQueue(ctx)
	case "scheduled":
		var infos []*asynq.TaskInfo
		infos, err = c.ListScheduled(ctx, opts.Size)
		rows := make([]map[string]string, 0, len(infos))
		for _, info := range infos {
			rows = append(rows, map[string]string{"id": info.ID, "type": info.Type, "next": info.NextProcessAt.UTC().Format("2006-01-02T15:04:05Z")})
		}
		out = rows
	default:
		err = fmt.Errorf("action %q needs the queue-less runner", opts.Action)
	}
	return report(opts, out, err)
}

// RunInline executes a task synchronously through runner.
func RunInline(ctx context.Context, runner jobs.Runner, opts JobsOptions) int {
	opts = withWriters(opts)
	result, err := runner.Run(ctx, opts.Task)
	return report(opts, map[string]any{"task": opts.Task, "result": result}, err)
}

func withWriters(opts JobsOptions) JobsOptions {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	return opts
}

func report(opts JobsOptions, out any, err error) int {
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "jobs %s: %v\n", opts.Action, err)
		return 1
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(out); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "jobs %s: encode json: %v\n", opts.Action, err)
			return 1
		}
		return 0
	}
	_, _ = fmt.Fprintf(opts.Stdout, "%s: %+v\n", opts.Action, out)
	return 0
}
