package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcastWriter_SplitsLines(t *testing.T) {
	h := newLogHub()
	w := &broadcastWriter{h: h}

	n, err := w.Write([]byte("first\nsec"))
	require.NoError(t, err)
	assert.Equal(t, 9, n)
	_, _ = w.Write([]byte("ond\n"))

	assert.Equal(t, "first", string(<-h.in))
	assert.Equal(t, "second", string(<-h.in))
	assert.Empty(t, w.buf)
}

func TestPublish_StoppedHubDoesNotBlock(t *testing.T) {
	h := newLogHub()
	h.Stop()
	h.Stop()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 2048; i++ {
			h.publish([]byte("x"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a stopped hub")
	}
}

func TestHandleLogsWebSocket(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(HandleLogsWebSocket))
	defer srv.Close()

	_, err := LogWriter().Write([]byte("[INFO] handled 4 user-agent packets\n"))
	require.NoError(t, err)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "[INFO] handled 4 user-agent packets", string(msg))
}
