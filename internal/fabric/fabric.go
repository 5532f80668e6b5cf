// Package fabric connects the activator to an orchestration fabric as a
// worker agent. Tasks arrive on a task stream, run through the same routing
// cascade as HTTP queries, and results are published back on a result
// stream. Three transports are supported: an in-memory bus for tests and
// single-process setups, Redis Streams with a consumer group, and Kafka.
// The Redis transport additionally maintains an agent registry entry with
// heartbeats so fabric masters can discover and monitor the worker.
package fabric

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Priority orders tasks on the fabric. The activator processes tasks in
// arrival order regardless; the field is carried through for masters that
// schedule by it.
type Priority string

// Task priorities.
const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// AgentStatus is the worker lifecycle state published to the agent registry.
type AgentStatus string

// Agent lifecycle states.
const (
	StatusStarting AgentStatus = "starting"
	StatusReady    AgentStatus = "ready"
	StatusBusy     AgentStatus = "busy"
	StatusStopping AgentStatus = "stopping"
	StatusStopped  AgentStatus = "stopped"
)

// Task is a unit of work received from the fabric. Payload carries the
// query fields; Metadata is opaque master-side bookkeeping echoed through
// untouched.
type Task struct {
	MessageID string         `json:"message_id,omitempty"`
	Stream    string         `json:"stream,omitempty"`
	Sender    string         `json:"sender"`
	Recipient string         `json:"recipient"`
	TaskType  string         `json:"task_type"`
	Payload   map[string]any `json:"payload"`
	Priority  Priority       `json:"priority"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata"`
}

// wireValues flattens the task for stream transports. Nested fields travel
// as JSON strings so every value fits a flat string map.
func (t Task) wireValues() (map[string]any, error) {
	payload, err := json.Marshal(t.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	metadata := t.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	meta, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	priority := t.Priority
	if priority == "" {
		priority = PriorityNormal
	}
	ts := t.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return map[string]any{
		"sender":    t.Sender,
		"recipient": t.Recipient,
		"task_type": t.TaskType,
		"payload":   string(payload),
		"priority":  string(priority),
		"timestamp": ts.UTC().Format(time.RFC3339Nano),
		"metadata":  string(meta),
	}, nil
}

// taskFromValues rebuilds a task from a flat stream entry. Malformed
// payload or metadata JSON is an error; missing priority defaults to
// normal and an unparseable timestamp falls back to now.
func taskFromValues(messageID, stream string, values map[string]any) (Task, error) {
	task := Task{
		MessageID: messageID,
		Stream:    stream,
		Sender:    stringValue(values, "sender"),
		Recipient: stringValue(values, "recipient"),
		TaskType:  stringValue(values, "task_type"),
		Payload:   map[string]any{},
		Metadata:  map[string]any{},
	}
	if task.TaskType == "" {
		return Task{}, fmt.Errorf("task %s missing task_type", messageID)
	}

	if raw := stringValue(values, "payload"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &task.Payload); err != nil {
			return Task{}, fmt.Errorf("parse payload: %w", err)
		}
	}
	if raw := stringValue(values, "metadata"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &task.Metadata); err != nil {
			return Task{}, fmt.Errorf("parse metadata: %w", err)
		}
	}

	task.Priority = Priority(stringValue(values, "priority"))
	if task.Priority == "" {
		task.Priority = PriorityNormal
	}

	task.Timestamp = parseWireTime(stringValue(values, "timestamp"))
	return task, nil
}

// stringValue reads a stream field that may arrive as string or bytes.
func stringValue(values map[string]any, key string) string {
	switch v := values[key].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// wireTimeFormats covers RFC3339 producers and ISO timestamps without a
// zone suffix.
var wireTimeFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

func parseWireTime(raw string) time.Time {
	for _, layout := range wireTimeFormats {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts
		}
	}
	return time.Now().UTC()
}

// Result is the flat outcome record published to the result stream after a
// task is processed.
type Result struct {
	TaskID          string    `json:"task_id"`
	Success         bool      `json:"success"`
	Response        string    `json:"response"`
	Fabric          string    `json:"fabric"`
	ToolCalls       int       `json:"tool_calls"`
	ExecutionTimeMs int64     `json:"execution_time_ms"`
	Sender          string    `json:"sender"`
	Timestamp       time.Time `json:"timestamp"`
}

// wireValues flattens the result for stream transports. All fields are
// strings so chat-side consumers can read entries without a schema.
func (r Result) wireValues() map[string]any {
	ts := r.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return map[string]any{
		"task_id":           r.TaskID,
		"success":           strconv.FormatBool(r.Success),
		"response":          r.Response,
		"fabric":            r.Fabric,
		"tool_calls":        strconv.Itoa(r.ToolCalls),
		"execution_time_ms": strconv.FormatInt(r.ExecutionTimeMs, 10),
		"sender":            r.Sender,
		"timestamp":         ts.UTC().Format(time.RFC3339Nano),
	}
}

// resultFromValues rebuilds a result from a flat stream entry. Used by the
// in-memory transport and by tests reading what was published.
func resultFromValues(values map[string]any) Result {
	success, _ := strconv.ParseBool(stringValue(values, "success"))
	toolCalls, _ := strconv.Atoi(stringValue(values, "tool_calls"))
	execMs, _ := strconv.ParseInt(stringValue(values, "execution_time_ms"), 10, 64)
	return Result{
		TaskID:          stringValue(values, "task_id"),
		Success:         success,
		Response:        stringValue(values, "response"),
		Fabric:          stringValue(values, "fabric"),
		ToolCalls:       toolCalls,
		ExecutionTimeMs: execMs,
		Sender:          stringValue(values, "sender"),
		Timestamp:       parseWireTime(stringValue(values, "timestamp")),
	}
}

// responseText extracts the human-readable reply from an execution result.
// Prefers message, then response, then the whole map as JSON.
func responseText(result map[string]any) string {
	if len(result) == 0 {
		return ""
	}
	if msg, ok := result["message"].(string); ok && msg != "" {
		return msg
	}
	if msg, ok := result["response"].(string); ok && msg != "" {
		return msg
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprint(result)
	}
	return string(data)
}

// taskID resolves the identifier a result should answer to: the explicit
// task_id in the payload when the master set one, otherwise the stream
// message ID.
func (t Task) taskID() string {
	if id, ok := t.Payload["task_id"].(string); ok && id != "" {
		return id
	}
	return t.MessageID
}
