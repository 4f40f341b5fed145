package jobs

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Worker wraps the Asynq server and optional scheduler.
type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	scheduler *asynq.Scheduler
	logger    *slog.Logger
}

// TaskHandler allows injecting custom Asynq handlers during worker setup.
type TaskHandler struct {
	Type    string
	Handler asynq.HandlerFunc
}

// CronRegistration wires a cron expression to a prepared task.
type CronRegistration struct {
	Spec    string
	Task    *asynq.Task
	Options []asynq.Option
}

// WorkerConfig collects dependencies required to bootstrap the worker.
type WorkerConfig struct {
	RedisOpts   asynq.RedisClientOpt
	Logger      *slog.Logger
	Concurrency int
	Handlers    []TaskHandler
	Cron        []CronRegistration
}

// NewWorker constructs a Worker instance.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Concurrency <= 0 {
		// Recalculations serialize on the store writer lock.
		cfg.Concurrency = 2
	}
	srv := asynq.NewServer(cfg.RedisOpts, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues: map[string]int{
			QueueDefault: 1,
		},
	})
	mux := asynq.NewServeMux()
	for _, h := range cfg.Handlers {
		if h.Type == "" || h.Handler == nil {
			continue
		}
		mux.HandleFunc(h.Type, h.Handler)
	}

	var scheduler *asynq.Scheduler
	if len(cfg.Cron) > 0 {
		scheduler = asynq.NewScheduler(cfg.RedisOpts, &asynq.SchedulerOpts{Location: time.UTC})
		for _, entry := range cfg.Cron {
			if entry.Spec == "" || entry.Task == nil {
				continue
			}
			if _, err := scheduler.Register(entry.Spec, entry.Task, entry.Options...); err != nil {
				return nil, err
			}
		}
	}

	return &Worker{server: srv, mux: mux, scheduler: scheduler, logger: cfg.Logger}, nil
}

// DefaultCron schedules the nightly maintenance runs.
func DefaultCron() ([]CronRegistration, error) {
	schedule := []struct {
		spec string
		name string
	}{
		{"0 1 * * *", TaskLedgerReconcile},
		{"30 1 * * *", TaskStockRevaluation},
		{"0 * * * *", TaskLedgerIntegrity},
	}
	out := make([]CronRegistration, 0, len(schedule))
	for _, s := range schedule {
		task, err := NewTask(s.name, Payload{RequestedBy: "cron"})
		if err != nil {
			return nil, err
		}
		out = append(out, CronRegistration{Spec: s.spec, Task: task})
	}
	return out, nil
}

// Run processes tasks until ctx is cancelled. Shutdown waits for in-flight
// recalculations to finish.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil {
		return errors.New("worker: not configured")
	}
	if err := w.server.Start(w.mux); err != nil {
		return err
	}
	if w.scheduler != nil {
		if err := w.scheduler.Start(); err != nil {
			w.server.Shutdown()
			return err
		}
	}
	w.logger.Info("worker started", slog.String("queue", QueueDefault))

	<-ctx.Done()
	if w.scheduler != nil {
		w.scheduler.Shutdown()
	}
	w.server.Shutdown()
	w.logger.Info("worker stopped")
	return ctx.Err()
}

// Client submits jobs to the queue.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) *Client {
	return &Client{client: asynq.NewClient(redisOpts)}
}

// Enqueue submits a maintenance task by name.
func (c *Client) Enqueue(ctx context.Context, name string, payload Payload) (*asynq.TaskInfo, error) {
	task, err := NewTask(name, payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task)
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}

// Enqueuer submits tasks to a queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, name string, payload Payload) (*asynq.TaskInfo, error)
}

// QueueInspector reports queue state. Satisfied by *asynq.Inspector.
type QueueInspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
}

// Runner executes a task synchronously.
type Runner interface {
	Run(ctx context.Context, name string) (any, error)
}

// HandlerDeps bundles the optional collaborators of Handler. With no queue
// configured, tasks triggered over HTTP run inline through Runner.
type HandlerDeps struct {
	Inspector QueueInspector
	Queue     Enqueuer
	Runner    Runner
	Logger    *slog.Logger
}

// Handler exposes HTTP endpoints for job observability and triggering.
type Handler struct {
	inspector QueueInspector
	queue     Enqueuer
	runner    Runner
	logger    *slog.Logger
}

// NewHandler constructs an HTTP handler for jobs endpoints.
func NewHandler(deps HandlerDeps) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{inspector: deps.Inspector, queue: deps.Queue, runner: deps.Runner, logger: logger}
}

// MountRoutes attaches job routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/jobs", func(r chi.Router) {
		r.Get("/health", h.health)
		r.Get("/tasks", h.tasks)
		r.Post("/tasks/{name}", h.trigger)
	})
}

type queueHealth struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
	Inline    bool   `json:"inline,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if h.inspector == nil {
		httpx.JSON(w, http.StatusOK, queueHealth{Queue: QueueDefault, Inline: h.queue == nil})
		return
	}
	info, err := h.inspector.GetQueueInfo(QueueDefault)
	if err != nil {
		h.logger.Warn("jobs health", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}
	out := queueHealth{Queue: QueueDefault}
	if info != nil {
		out.Queue = info.Queue
		out.Pending = info.Pending
		out.Active = info.Active
		out.Scheduled = info.Scheduled
		out.Retry = info.Retry
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) tasks(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, TaskNames)
}

type triggerResponse struct {
	Task   string `json:"task"`
	ID     string `json:"id,omitempty"`
	Queue  string `json:"queue,omitempty"`
	Result any    `json:"result,omitempty"`
}

func (h *Handler) trigger(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !KnownTask(name) {
		httpx.RespondError(w, shared.NotFound("task", name))
		return
	}
	payload := Payload{RequestedBy: "api"}
	switch {
	case h.queue != nil:
		info, err := h.queue.Enqueue(r.Context(), name, payload)
		if err != nil {
			h.logger.Error("enqueue task", slog.String("job", name), slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
		h.logger.Info("task enqueued", slog.String("job", name), slog.String("id", info.ID))
		httpx.JSON(w, http.StatusAccepted, triggerResponse{Task: name, ID: info.ID, Queue: info.Queue})
	case h.runner != nil:
		result, err := h.runner.Run(r.Context(), name)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, triggerResponse{Task: name, Result: result})
	default:
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
	}
}
