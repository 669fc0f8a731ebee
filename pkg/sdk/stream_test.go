package sdk

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type frame struct {
	event string
	data  string
}

func serveSSE(t *testing.T, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, body)
	}))
}

func TestReadStream_ParsesFrames(t *testing.T) {
	srv := serveSSE(t, "event: connected\ndata: {\"agent_id\":\"a1\"}\n\n"+
		"event: message\ndata: {\"id\":\"e1\"}\n\n")
	defer srv.Close()

	var frames []frame
	err := readStream(context.Background(), srv.Client(), srv.URL, func(event, data string) {
		frames = append(frames, frame{event, data})
	})
	require.Error(t, err) // stream end is always an error, the loop retries

	require.Len(t, frames, 2)
	assert.Equal(t, frame{"connected", `{"agent_id":"a1"}`}, frames[0])
	assert.Equal(t, frame{"message", `{"id":"e1"}`}, frames[1])
}

func TestReadStream_SkipsComments(t *testing.T) {
	srv := serveSSE(t, ": ping\n\nevent: heartbeat\ndata: {}\n\n")
	defer srv.Close()

	var frames []frame
	_ = readStream(context.Background(), srv.Client(), srv.URL, func(event, data string) {
		frames = append(frames, frame{event, data})
	})

	require.Len(t, frames, 1)
	assert.Equal(t, "heartbeat", frames[0].event)
}

func TestReadStream_IgnoresIncompleteTrailingFrame(t *testing.T) {
	srv := serveSSE(t, "event: message\ndata: {\"id\":\"e1\"}\n\nevent: message\ndata: {\"id\":")
	defer srv.Close()

	var frames []frame
	_ = readStream(context.Background(), srv.Client(), srv.URL, func(event, data string) {
		frames = append(frames, frame{event, data})
	})

	require.Len(t, frames, 1)
	assert.Equal(t, `{"id":"e1"}`, frames[0].data)
}

func TestReadStream_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := readStream(context.Background(), srv.Client(), srv.URL, func(string, string) {
		t.Fatal("no frames expected")
	})
	assert.Error(t, err)
}

func TestStreamLoop_StopsOnCancel(t *testing.T) {
	srv := serveSSE(t, "event: connected\ndata: {}\n\n")
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	connected := make(chan struct{}, 1)

	done := make(chan struct{})
	go func() {
		defer close(done)
		streamLoop(ctx, srv.Client(), srv.URL, func(event, _ string) {
			if event == "connected" {
				select {
				case connected <- struct{}{}:
				default:
				}
			}
		})
	}()

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("stream never connected")
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("streamLoop did not stop after cancel")
	}
}
