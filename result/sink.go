// Package result delivers completed-job records to the analytics
// pipeline. Records are MessagePack-encoded and posted to a collector
// endpoint; deployments without a collector use the no-op sink.
package result

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/Agora-Build/voxgrid/job"
)

// Record is the analytics payload produced for each terminal job
// transition. Field names are stable; the collector indexes on them.
type Record struct {
	JobID      string            `msgpack:"job_id"`
	ScheduleID string            `msgpack:"schedule_id,omitempty"`
	WorkflowID string            `msgpack:"workflow_id"`
	EvalSetID  string            `msgpack:"eval_set_id,omitempty"`
	AgentID    string            `msgpack:"agent_id,omitempty"`
	Region     string            `msgpack:"region"`
	Status     string            `msgpack:"status"`
	Error      string            `msgpack:"error,omitempty"`
	RetryCount int               `msgpack:"retry_count"`
	EnqueuedAt time.Time         `msgpack:"enqueued_at"`
	StartedAt  *time.Time        `msgpack:"started_at,omitempty"`
	FinishedAt *time.Time        `msgpack:"finished_at,omitempty"`
	DurationMS int64             `msgpack:"duration_ms"`
	Labels     map[string]string `msgpack:"labels,omitempty"`
}

// NewRecord builds a Record from a terminal job.
func NewRecord(j *job.Job) *Record {
	r := &Record{
		JobID:      j.ID.String(),
		WorkflowID: j.WorkflowID,
		EvalSetID:  j.EvalSetID,
		Region:     j.Region.String(),
		Status:     string(j.Status),
		Error:      j.Error,
		RetryCount: j.RetryCount,
		EnqueuedAt: j.CreatedAt,
		StartedAt:  j.StartedAt,
		FinishedAt: j.CompletedAt,
	}
	if !j.ScheduleID.IsNil() {
		r.ScheduleID = j.ScheduleID.String()
	}
	if !j.AgentID.IsNil() {
		r.AgentID = j.AgentID.String()
	}
	if j.StartedAt != nil && j.CompletedAt != nil {
		r.DurationMS = j.CompletedAt.Sub(*j.StartedAt).Milliseconds()
	}
	return r
}

// Encode serializes the record as MessagePack.
func (r *Record) Encode() ([]byte, error) {
	return msgpack.Marshal(r)
}

// DecodeRecord deserializes a MessagePack record. The collector side
// and tests use this.
func DecodeRecord(data []byte) (*Record, error) {
	var r Record
	if err := msgpack.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Sink receives terminal job records. Implementations must tolerate
// concurrent Deliver calls.
type Sink interface {
	Deliver(ctx context.Context, r *Record) error
}

// NopSink discards all records.
type NopSink struct{}

func (NopSink) Deliver(context.Context, *Record) error { return nil }

// HTTPOption configures an HTTPSink.
type HTTPOption func(*HTTPSink)

// WithClient sets the HTTP client used for delivery.
func WithClient(c *http.Client) HTTPOption {
	return func(s *HTTPSink) { s.client = c }
}

// WithAuthToken sets a bearer token sent on every delivery.
func WithAuthToken(token string) HTTPOption {
	return func(s *HTTPSink) { s.authToken = token }
}

// HTTPSink posts MessagePack records to a collector endpoint.
type HTTPSink struct {
	endpoint  string
	authToken string
	client    *http.Client
}

// NewHTTPSink creates a sink posting to the given URL.
func NewHTTPSink(endpoint string, opts ...HTTPOption) *HTTPSink {
	s := &HTTPSink{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Deliver posts one record. Any non-2xx response is an error; the
// caller decides whether delivery failures are fatal.
func (s *HTTPSink) Deliver(ctx context.Context, r *Record) error {
	body, err := r.Encode()
	if err != nil {
		return fmt.Errorf("result: encode record: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("result: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/msgpack")
	if s.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.authToken)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("result: deliver record: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("result: collector returned %d", resp.StatusCode)
	}
	return nil
}
