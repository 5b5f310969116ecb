package upstream

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallV1InternalAt_SetsAuthAndUserAgentHeaders(t *testing.T) {
	var gotAuth, gotUA, gotExtra string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotUA = r.Header.Get("User-Agent")
		gotExtra = r.Header.Get("anthropic-beta")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	c := NewClient()
	resp, err := c.CallV1InternalAt(context.Background(), server.URL, MethodGenerateContent, "tok123", []byte(`{}`), map[string]string{
		"anthropic-beta": "interleaved-thinking-2025-05-14",
	})
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "Bearer tok123", gotAuth)
	assert.Equal(t, UserAgent, gotUA)
	assert.Equal(t, "interleaved-thinking-2025-05-14", gotExtra)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCallV1InternalAt_StreamMethodAppendsSSEQuery(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.RequestURI()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := NewClient()
	resp, err := c.CallV1InternalAt(context.Background(), server.URL, MethodStreamGenerateContent, "tok", []byte(`{}`), nil)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Contains(t, gotPath, "streamGenerateContent")
	assert.Contains(t, gotPath, "alt=sse")
}

func TestReadAll_DrainsAndClosesBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("payload"))
	}))
	defer server.Close()

	c := NewClient()
	resp, err := c.CallV1InternalAt(context.Background(), server.URL, MethodGenerateContent, "tok", []byte(`{}`), nil)
	require.NoError(t, err)

	body, err := ReadAll(resp)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(body))

	_, closedErr := resp.Body.Read(make([]byte, 1))
	assert.Error(t, closedErr)
	assert.NotEqual(t, io.EOF, closedErr)
}
