// Package debugsink implements the debug sink (C8): a bounded in-memory
// ring buffer of serialized audit records keyed by trace id, gated by
// config.DebugSinkEnabled. Persistent log storage and a log-export UI are
// out of scope; this is the in-process tee a caller consults while a
// request is still live.
package debugsink

import (
	"bytes"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/antigravity-oss/dispatch-engine/internal/config"
)

// Kind enumerates the payload kinds the dispatch engine records.
type Kind string

const (
	KindOriginalRequest     Kind = "original_request"
	KindV1InternalRequest   Kind = "v1internal_request"
	KindUpstreamResponse    Kind = "upstream_response"
	KindUpstreamResponseErr Kind = "upstream_response_error"
)

// Record is one serialized audit entry.
type Record struct {
	TraceID   string      `json:"traceId"`
	Kind      Kind        `json:"kind"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// Sink is a bounded in-memory debug record buffer. The zero value is not
// usable; construct with New.
type Sink struct {
	cfg *config.Config

	mu      sync.Mutex
	records []Record
	max     int
}

// New builds a Sink gated by cfg.DebugSinkEnabled, keeping at most max
// records before evicting the oldest.
func New(cfg *config.Config, max int) *Sink {
	if max <= 0 {
		max = 500
	}
	return &Sink{cfg: cfg, max: max}
}

// IsEnabled reports whether the sink is currently accepting writes.
func (s *Sink) IsEnabled() bool {
	return s.cfg != nil && s.cfg.DebugSinkEnabled
}

// WritePayload records one audit entry if the sink is enabled; a no-op
// otherwise so callers never need to branch on IsEnabled themselves.
func (s *Sink) WritePayload(traceID, kind string, payload interface{}) {
	if !s.IsEnabled() {
		return
	}
	record := Record{TraceID: traceID, Kind: Kind(kind), Payload: payload, Timestamp: time.Now()}

	s.mu.Lock()
	s.records = append(s.records, record)
	if len(s.records) > s.max {
		s.records = s.records[len(s.records)-s.max:]
	}
	s.mu.Unlock()
}

// ForTrace returns every record captured for traceID, oldest first.
func (s *Sink) ForTrace(traceID string) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Record
	for _, r := range s.records {
		if r.TraceID == traceID {
			out = append(out, r)
		}
	}
	return out
}

// All returns every currently buffered record, oldest first.
func (s *Sink) All() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// teeReader tees everything read from r into buf, flushing a WritePayload
// call to sink once the stream is exhausted or closed.
type teeReader struct {
	r         io.ReadCloser
	buf       bytes.Buffer
	sink      *Sink
	traceID   string
	kind      string
	meta      interface{}
	flushOnce sync.Once
}

func (t *teeReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if n > 0 {
		t.buf.Write(p[:n])
	}
	if err != nil {
		t.flush()
	}
	return n, err
}

func (t *teeReader) Close() error {
	t.flush()
	return t.r.Close()
}

func (t *teeReader) flush() {
	t.flushOnce.Do(func() {
		t.sink.WritePayload(t.traceID, t.kind, map[string]interface{}{
			"meta": t.meta,
			"body": json.RawMessage(sanitizeJSON(t.buf.Bytes())),
		})
	})
}

// sanitizeJSON returns raw as-is if it's already valid JSON, otherwise
// quotes it as a JSON string so WritePayload's caller always gets a
// marshalable value back regardless of what the stream actually contained.
func sanitizeJSON(raw []byte) []byte {
	if json.Valid(raw) {
		return raw
	}
	quoted, err := json.Marshal(string(raw))
	if err != nil {
		return []byte("null")
	}
	return quoted
}

// WrapStreamWithDebug tees r through the sink, recording the full body
// under kind/meta once the stream is fully read or closed. Returns r
// unchanged if the sink is disabled, so wrapping costs nothing when
// debugging isn't turned on.
func (s *Sink) WrapStreamWithDebug(r io.ReadCloser, traceID, kind string, meta interface{}) io.ReadCloser {
	if !s.IsEnabled() {
		return r
	}
	return &teeReader{r: r, sink: s, traceID: traceID, kind: kind, meta: meta}
}
