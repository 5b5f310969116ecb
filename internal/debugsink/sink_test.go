package debugsink

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antigravity-oss/dispatch-engine/internal/config"
)

func TestSink_DisabledByDefaultIsNoOp(t *testing.T) {
	cfg := config.DefaultConfig()
	s := New(cfg, 10)
	assert.False(t, s.IsEnabled())

	s.WritePayload("trace-1", string(KindOriginalRequest), map[string]string{"a": "b"})
	assert.Empty(t, s.All())
}

func TestSink_WritePayloadRecordsWhenEnabled(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DebugSinkEnabled = true
	s := New(cfg, 10)

	s.WritePayload("trace-1", string(KindOriginalRequest), map[string]string{"a": "b"})
	s.WritePayload("trace-2", string(KindUpstreamResponse), map[string]string{"c": "d"})

	all := s.All()
	require.Len(t, all, 2)

	forTrace1 := s.ForTrace("trace-1")
	require.Len(t, forTrace1, 1)
	assert.Equal(t, KindOriginalRequest, forTrace1[0].Kind)
}

func TestSink_EvictsOldestBeyondMax(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DebugSinkEnabled = true
	s := New(cfg, 2)

	s.WritePayload("t1", string(KindOriginalRequest), "one")
	s.WritePayload("t2", string(KindOriginalRequest), "two")
	s.WritePayload("t3", string(KindOriginalRequest), "three")

	all := s.All()
	require.Len(t, all, 2)
	assert.Equal(t, "t2", all[0].TraceID)
	assert.Equal(t, "t3", all[1].TraceID)
}

func TestSink_WrapStreamWithDebugPassthroughWhenDisabled(t *testing.T) {
	cfg := config.DefaultConfig()
	s := New(cfg, 10)

	r := io.NopCloser(strings.NewReader("hello"))
	wrapped := s.WrapStreamWithDebug(r, "trace-1", string(KindUpstreamResponse), nil)
	assert.Equal(t, r, wrapped)
}

func TestSink_WrapStreamWithDebugRecordsFullBodyOnClose(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DebugSinkEnabled = true
	s := New(cfg, 10)

	r := io.NopCloser(strings.NewReader(`{"ok":true}`))
	wrapped := s.WrapStreamWithDebug(r, "trace-1", string(KindUpstreamResponse), map[string]string{"status": "200"})

	data, err := io.ReadAll(wrapped)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(data))
	require.NoError(t, wrapped.Close())

	records := s.ForTrace("trace-1")
	require.Len(t, records, 1)
	assert.Equal(t, KindUpstreamResponse, records[0].Kind)
}

func TestSink_WrapStreamWithDebugRecordsNonJSONBodyAsQuotedString(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DebugSinkEnabled = true
	s := New(cfg, 10)

	r := io.NopCloser(strings.NewReader("not json"))
	wrapped := s.WrapStreamWithDebug(r, "trace-2", string(KindUpstreamResponseErr), nil)
	_, err := io.ReadAll(wrapped)
	require.NoError(t, err)

	records := s.ForTrace("trace-2")
	require.Len(t, records, 1)
}
