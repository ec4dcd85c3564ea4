package asyncx

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
)

func startMiniRedis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func pollUntil(t *testing.T, timeout time.Duration, f func() (bool, error)) error {
	deadline := time.Now().Add(timeout)
	for {
		ok, err := f()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.New("timeout")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

type callbackCall struct {
	cb     Callback
	runErr error
}

type callbackRecorder struct {
	mu    sync.Mutex
	calls []callbackCall
}

func (r *callbackRecorder) record(_ context.Context, cb Callback, runErr error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, callbackCall{cb: cb, runErr: runErr})
	return nil
}

func (r *callbackRecorder) snapshot() []callbackCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]callbackCall(nil), r.calls...)
}

func envelopeTask(t *testing.T, env Envelope) *asynq.Task {
	t.Helper()
	b, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return asynq.NewTask(TaskType(env.TargetClass, env.Method), b)
}

func TestProcessor_RunsCallbackAfterHandler(t *testing.T) {
	p := NewProcessor(asynq.RedisClientOpt{Addr: "127.0.0.1:0"}, ProcessorConfig{Logger: slog.Default()})
	rec := &callbackRecorder{}
	p.RegisterCallback("Task", "finalize", rec.record)

	boom := errors.New("boom")
	var gotArgs struct {
		TaskID string `json:"task_id"`
	}
	p.Handle("Report", "generate_table", func(_ context.Context, env Envelope) error {
		if err := json.Unmarshal(env.Args, &gotArgs); err != nil {
			return err
		}
		return boom
	})

	cb := &Callback{Target: "Task", InstanceID: "t-1", Method: "finalize", Args: []string{"Finished"}}
	task := envelopeTask(t, Envelope{TargetClass: "Report", Method: "generate_table", Args: json.RawMessage(`{"task_id":"t-1"}`), Callback: cb})

	err := p.ProcessTask(context.Background(), task)
	if !errors.Is(err, boom) {
		t.Fatalf("handler error must be returned unchanged, got %v", err)
	}
	if gotArgs.TaskID != "t-1" {
		t.Fatalf("args not delivered: %#v", gotArgs)
	}
	calls := rec.snapshot()
	if len(calls) != 1 {
		t.Fatalf("want exactly one callback, got %d", len(calls))
	}
	if calls[0].cb.InstanceID != "t-1" || !errors.Is(calls[0].runErr, boom) {
		t.Fatalf("unexpected callback call: %#v", calls[0])
	}
}

func TestProcessor_NoCallbackWithoutDescriptor(t *testing.T) {
	p := NewProcessor(asynq.RedisClientOpt{Addr: "127.0.0.1:0"}, ProcessorConfig{})
	rec := &callbackRecorder{}
	p.RegisterCallback("Task", "finalize", rec.record)
	p.Handle("Report", "generate_tables", func(context.Context, Envelope) error { return nil })

	task := envelopeTask(t, Envelope{TargetClass: "Report", Method: "generate_tables", Args: json.RawMessage(`{}`)})
	if err := p.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("ProcessTask: %v", err)
	}
	if n := len(rec.snapshot()); n != 0 {
		t.Fatalf("want no callback, got %d", n)
	}
}

func TestProcessor_MalformedEnvelopeSkipsRetry(t *testing.T) {
	p := NewProcessor(asynq.RedisClientOpt{Addr: "127.0.0.1:0"}, ProcessorConfig{})
	p.Handle("Report", "generate_table", func(context.Context, Envelope) error {
		t.Fatal("handler must not run")
		return nil
	})
	err := p.ProcessTask(context.Background(), asynq.NewTask("Report:generate_table", []byte("{")))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("want SkipRetry, got %v", err)
	}
}

func TestProcessor_MethodHandlerServesAnyClass(t *testing.T) {
	p := NewProcessor(asynq.RedisClientOpt{Addr: "127.0.0.1:0"}, ProcessorConfig{})
	var classes []string
	p.HandleMethod("generate_table", func(_ context.Context, env Envelope) error {
		classes = append(classes, "any:"+env.TargetClass)
		return nil
	})
	p.Handle("Report", "generate_table", func(_ context.Context, env Envelope) error {
		classes = append(classes, "exact:"+env.TargetClass)
		return nil
	})

	for _, class := range []string{"Report", "Host"} {
		task := envelopeTask(t, Envelope{TargetClass: class, Method: "generate_table", Args: json.RawMessage(`{}`)})
		if err := p.ProcessTask(context.Background(), task); err != nil {
			t.Fatalf("ProcessTask(%s): %v", class, err)
		}
	}
	if len(classes) != 2 || classes[0] != "exact:Report" || classes[1] != "any:Host" {
		t.Fatalf("unexpected routing: %v", classes)
	}
}

func TestProcessor_UnhandledRunsCallbackAndSkipsRetry(t *testing.T) {
	p := NewProcessor(asynq.RedisClientOpt{Addr: "127.0.0.1:0"}, ProcessorConfig{})
	rec := &callbackRecorder{}
	p.RegisterCallback("Task", "finalize", rec.record)

	cb := &Callback{Target: "Task", InstanceID: "t-9", Method: "finalize", Args: []string{"Finished"}}
	task := envelopeTask(t, Envelope{TargetClass: "Host", Method: "rebuild", Args: json.RawMessage(`{}`), Callback: cb})

	err := p.ProcessTask(context.Background(), task)
	if !errors.Is(err, asynq.SkipRetry) || !errors.Is(err, ErrNoHandler) {
		t.Fatalf("want SkipRetry and ErrNoHandler, got %v", err)
	}
	calls := rec.snapshot()
	if len(calls) != 1 || calls[0].cb.InstanceID != "t-9" || !errors.Is(calls[0].runErr, ErrNoHandler) {
		t.Fatalf("unexpected callback calls: %#v", calls)
	}
}

func TestQueueName(t *testing.T) {
	if got := QueueName("generic", PriorityHigh); got != "generic.high" {
		t.Fatalf("got %s", got)
	}
	if got := QueueName("generic", ""); got != "generic.normal" {
		t.Fatalf("got %s", got)
	}
}

func TestProcessor_Integration_SuccessAndFailure(t *testing.T) {
	s := startMiniRedis(t)
	redis := asynq.RedisClientOpt{Addr: s.Addr()}

	processor := NewProcessor(redis, ProcessorConfig{Concurrency: 5, Queue: "generic"})
	rec := &callbackRecorder{}
	processor.RegisterCallback("Task", "finalize", rec.record)

	type P struct {
		N int `json:"n"`
	}
	processor.Handle("it", "ok", func(_ context.Context, env Envelope) error {
		var p P
		if err := json.Unmarshal(env.Args, &p); err != nil {
			return err
		}
		time.Sleep(50 * time.Millisecond)
		return nil
	})
	processor.Handle("it", "fail", func(context.Context, Envelope) error {
		return errors.New("boom")
	})

	if err := processor.Start(); err != nil {
		t.Fatalf("start processor: %v", err)
	}
	defer processor.Shutdown()

	client := NewClient(redis, ClientOptions{Queue: "generic"})
	defer client.Close()

	ctx := context.Background()
	okInfo, err := client.Enqueue(ctx, Message{
		TargetClass: "it", Method: "ok", Args: P{N: 1},
		Priority: PriorityHigh, Timeout: time.Minute,
		Callback: &Callback{Target: "Task", InstanceID: "ok-1", Method: "finalize"},
	})
	if err != nil {
		t.Fatalf("enqueue ok: %v", err)
	}
	if okInfo.Queue != "generic.high" || okInfo.Timeout != time.Minute {
		t.Fatalf("unexpected task info: queue=%s timeout=%s", okInfo.Queue, okInfo.Timeout)
	}
	if _, err := client.Enqueue(ctx, Message{
		TargetClass: "it", Method: "fail", Args: P{N: 2},
		Priority: PriorityHigh,
		Callback: &Callback{Target: "Task", InstanceID: "fail-1", Method: "finalize"},
	}); err != nil {
		t.Fatalf("enqueue fail: %v", err)
	}

	if err := pollUntil(t, 3*time.Second, func() (bool, error) {
		return len(rec.snapshot()) >= 2, nil
	}); err != nil {
		t.Fatalf("callbacks did not run: %v", err)
	}
	for _, c := range rec.snapshot() {
		switch c.cb.InstanceID {
		case "ok-1":
			if c.runErr != nil {
				t.Fatalf("ok task reported error: %v", c.runErr)
			}
		case "fail-1":
			if c.runErr == nil {
				t.Fatalf("failing task reported success")
			}
		}
	}
}
