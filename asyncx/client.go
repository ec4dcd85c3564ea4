package asyncx

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// Priority is the coarse scheduling class of a message. Each priority is a
// separate asynq queue, weighted by the Processor.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// QueueName returns the asynq queue serving queue at priority p.
func QueueName(queue string, p Priority) string {
	if p == "" {
		p = PriorityNormal
	}
	return queue + "." + string(p)
}

// TaskType is the asynq task type for a target method.
func TaskType(targetClass, method string) string {
	return targetClass + ":" + method
}

// Callback names a follow-up invoked by the Processor once the target
// method has returned or failed.
type Callback struct {
	Target     string   `json:"target"`
	InstanceID string   `json:"instance_id,omitempty"`
	Method     string   `json:"method"`
	Args       []string `json:"args,omitempty"`
}

// Key is the registry key of the callback.
func (c Callback) Key() string { return c.Target + "." + c.Method }

// Message is a deferred invocation of Method on TargetClass (or on the
// persisted instance InstanceID).
type Message struct {
	Queue       string
	Role        string
	TargetClass string
	InstanceID  string
	Method      string
	Args        any // JSON encoded into the envelope
	Priority    Priority
	Timeout     time.Duration
	Callback    *Callback
}

// Envelope is the payload written to asynq for every Message.
type Envelope struct {
	Role        string          `json:"role,omitempty"`
	TargetClass string          `json:"target_class"`
	InstanceID  string          `json:"instance_id,omitempty"`
	Method      string          `json:"method"`
	Args        json.RawMessage `json:"args"`
	Callback    *Callback       `json:"callback,omitempty"`
}

// Client wraps asynq.Client and submits Messages.
type Client struct {
	client *asynq.Client
	queue  string
}

type ClientOptions struct {
	// Queue is used for messages that leave Message.Queue empty.
	Queue string
}

func NewClient(redisOpt asynq.RedisConnOpt, opts ClientOptions) *Client {
	q := opts.Queue
	if q == "" {
		q = "generic"
	}
	return &Client{
		client: asynq.NewClient(redisOpt),
		queue:  q,
	}
}

// Enqueue submits msg. The returned TaskInfo carries the asynq id and queue.
func (c *Client) Enqueue(ctx context.Context, msg Message) (*asynq.TaskInfo, error) {
	if c.client == nil {
		return nil, fmt.Errorf("nil asynq client")
	}
	args, err := json.Marshal(msg.Args)
	if err != nil {
		return nil, fmt.Errorf("encode args for %s: %w", TaskType(msg.TargetClass, msg.Method), err)
	}
	payload, err := json.Marshal(Envelope{
		Role:        msg.Role,
		TargetClass: msg.TargetClass,
		InstanceID:  msg.InstanceID,
		Method:      msg.Method,
		Args:        args,
		Callback:    msg.Callback,
	})
	if err != nil {
		return nil, err
	}
	queue := msg.Queue
	if queue == "" {
		queue = c.queue
	}
	opts := []asynq.Option{asynq.Queue(QueueName(queue, msg.Priority))}
	if msg.Timeout > 0 {
		opts = append(opts, asynq.Timeout(msg.Timeout))
	}
	t := asynq.NewTask(TaskType(msg.TargetClass, msg.Method), payload)
	info, err := c.client.EnqueueContext(ctx, t, opts...)
	if err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", t.Type(), err)
	}
	return info, nil
}

func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}
