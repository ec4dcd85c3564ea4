package asyncx

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/hibiken/asynq"
)

// HandlerFunc executes one delivered Message.
type HandlerFunc func(ctx context.Context, env Envelope) error

// CallbackFunc is invoked after a handler returns. runErr is the handler's
// error, nil on success.
type CallbackFunc func(ctx context.Context, cb Callback, runErr error) error

const callbackTimeout = 10 * time.Second

// Processor manages background workers, dispatches envelopes to registered
// handlers and runs their completion callbacks.
type Processor struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	methods   map[string]asynq.Handler
	callbacks map[string]CallbackFunc
	logger    *slog.Logger
}

type ProcessorConfig struct {
	Concurrency int
	// Queue is the base queue name; its high/normal/low queues are weighted 6/3/1.
	Queue string
	// Queues overrides the derived weights when set.
	Queues map[string]int
	Logger *slog.Logger
}

func NewProcessor(redisOpt asynq.RedisConnOpt, cfg ProcessorConfig) *Processor {
	con := cfg.Concurrency
	if con <= 0 {
		con = 10
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	qs := cfg.Queues
	if qs == nil {
		base := cfg.Queue
		if base == "" {
			base = "generic"
		}
		qs = map[string]int{
			QueueName(base, PriorityHigh):   6,
			QueueName(base, PriorityNormal): 3,
			QueueName(base, PriorityLow):    1,
		}
	}
	p := &Processor{
		mux:       asynq.NewServeMux(),
		methods:   make(map[string]asynq.Handler),
		callbacks: make(map[string]CallbackFunc),
		logger:    logger,
	}
	p.server = asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: con,
		Queues:      qs,
		Logger:      NewLogger(logger),
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, t *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			logger.Warn("queued task failed",
				"task_type", t.Type(),
				"retry", retried,
				"max_retry", maxRetry,
				"error", err)
		}),
	})
	return p
}

// Handle registers h for messages targeting targetClass.method.
func (p *Processor) Handle(targetClass, method string, h HandlerFunc) {
	p.mux.Handle(TaskType(targetClass, method), p.lifecycle(h))
}

// HandleMethod registers h for method on every target class that has no
// handler of its own.
func (p *Processor) HandleMethod(method string, h HandlerFunc) {
	p.methods[method] = p.lifecycle(h)
}

// RegisterCallback registers fn under target.method.
func (p *Processor) RegisterCallback(target, method string, fn CallbackFunc) {
	p.callbacks[Callback{Target: target, Method: method}.Key()] = fn
}

// lifecycle decodes the envelope, runs the handler and then its callback.
// The handler error is returned unchanged so asynq retry/archive sees it.
func (p *Processor) lifecycle(h HandlerFunc) asynq.Handler {
	return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
		var env Envelope
		if err := json.Unmarshal(t.Payload(), &env); err != nil {
			return fmt.Errorf("decode %s envelope: %v: %w", t.Type(), err, asynq.SkipRetry)
		}
		err := h(ctx, env)
		p.runCallback(ctx, env, err)
		return err
	})
}

func (p *Processor) runCallback(ctx context.Context, env Envelope, runErr error) {
	if env.Callback == nil {
		return
	}
	cb := *env.Callback
	fn, ok := p.callbacks[cb.Key()]
	if !ok {
		p.logger.Warn("no callback registered", "callback", cb.Key(), "task_type", TaskType(env.TargetClass, env.Method))
		return
	}
	// The handler context may already be past its deadline.
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), callbackTimeout)
	defer cancel()
	if err := fn(cctx, cb, runErr); err != nil {
		p.logger.Error("callback failed", "callback", cb.Key(), "instance_id", cb.InstanceID, "error", err)
	}
}

// ProcessTask routes t to the handler of its exact type, then to the
// handler of its method. A message nobody handles still gets its callback
// and is not retried.
func (p *Processor) ProcessTask(ctx context.Context, t *asynq.Task) error {
	if h, pattern := p.mux.Handler(t); pattern != "" {
		return h.ProcessTask(ctx, t)
	}
	if i := strings.LastIndex(t.Type(), ":"); i >= 0 {
		if h, ok := p.methods[t.Type()[i+1:]]; ok {
			return h.ProcessTask(ctx, t)
		}
	}
	return p.unhandled(ctx, t)
}

func (p *Processor) unhandled(ctx context.Context, t *asynq.Task) error {
	err := fmt.Errorf("no handler for task %q: %w", t.Type(), ErrNoHandler)
	var env Envelope
	if derr := json.Unmarshal(t.Payload(), &env); derr == nil {
		p.runCallback(ctx, env, err)
	}
	p.logger.Error("unhandled task", "task_type", t.Type())
	return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
}

// Start runs the workers in the background.
func (p *Processor) Start() error { return p.server.Start(p) }

// Run runs the workers and blocks until a termination signal arrives.
func (p *Processor) Run() error { return p.server.Run(p) }

func (p *Processor) Shutdown() { p.server.Shutdown() }

// Logger adapts slog to asynq.Logger.
type Logger struct {
	l *slog.Logger
}

func NewLogger(l *slog.Logger) *Logger { return &Logger{l: l.With("component", "asynq")} }

func (a *Logger) Debug(args ...interface{}) { a.l.Debug(fmt.Sprint(args...)) }
func (a *Logger) Info(args ...interface{})  { a.l.Info(fmt.Sprint(args...)) }
func (a *Logger) Warn(args ...interface{})  { a.l.Warn(fmt.Sprint(args...)) }
func (a *Logger) Error(args ...interface{}) { a.l.Error(fmt.Sprint(args...)) }
func (a *Logger) Fatal(args ...interface{}) {
	a.l.Error(fmt.Sprint(args...))
	os.Exit(1)
}
