package ws

import (
	"bytes"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/wolplus/ua2f/log"
)

// backlogLines is how many recent lines a new client receives on connect.
const backlogLines = 100

type logClient struct {
	ws   *websocket.Conn
	send chan []byte
}

var (
	logHub     *LogHub
	logOnce    sync.Once
	logWriter  *broadcastWriter
	writerOnce sync.Once
)

// GetLogHub returns the singleton log hub
func GetLogHub() *LogHub {
	logOnce.Do(func() {
		logHub = newLogHub()
		go logHub.run()
	})
	return logHub
}

func newLogHub() *LogHub {
	return &LogHub{
		clients: map[*logClient]struct{}{},
		in:      make(chan []byte, 1024),
		reg:     make(chan *logClient),
		unreg:   make(chan *logClient),
		stop:    make(chan struct{}),
	}
}

func (h *LogHub) run() {
	var backlog [][]byte

	for {
		select {
		case <-h.stop:
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return

		case c := <-h.reg:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			h.mu.Unlock()
			for _, line := range backlog {
				select {
				case c.send <- line:
				default:
				}
			}

		case c := <-h.unreg:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()

		case msg := <-h.in:
			backlog = append(backlog, msg)
			if len(backlog) > backlogLines {
				backlog = backlog[len(backlog)-backlogLines:]
			}

			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// slow client, drop the line
				}
			}
			h.mu.RUnlock()
		}
	}
}

// publish never blocks the logger: lines are dropped when the hub is
// stopped or its input is full.
func (h *LogHub) publish(line []byte) {
	select {
	case <-h.stop:
	case h.in <- line:
	default:
	}
}

func (h *LogHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

type broadcastWriter struct {
	h   *LogHub
	mu  sync.Mutex
	buf []byte
}

func (w *broadcastWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	start := 0
	for {
		i := bytes.IndexByte(w.buf[start:], '\n')
		if i < 0 {
			break
		}
		end := start + i
		line := make([]byte, end-start)
		copy(line, w.buf[start:end])
		w.h.publish(line)
		start = end + 1
	}
	if start > 0 {
		w.buf = append([]byte{}, w.buf[start:]...)
	}
	return len(p), nil
}

// LogWriter returns a writer that broadcasts to all connected WebSocket clients
func LogWriter() io.Writer {
	writerOnce.Do(func() {
		logWriter = &broadcastWriter{h: GetLogHub()}
	})
	return logWriter
}

// HandleLogsWebSocket streams log lines to the client until it disconnects.
func HandleLogsWebSocket(w http.ResponseWriter, r *http.Request) {
	h := GetLogHub()
	conn, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Errorf("Failed to upgrade logs WebSocket: %v", err)
		return
	}

	c := &logClient{ws: conn, send: make(chan []byte, 256)}
	log.Tracef("Logs WebSocket client connected: %s", r.RemoteAddr)

	select {
	case h.reg <- c:
	case <-h.stop:
		conn.Close()
		return
	}
	go c.writePump()
	c.readPump(h)
}

func (h *LogHub) Stop() {
	select {
	case <-h.stop:
		return
	default:
		close(h.stop)
	}
}

func Shutdown() {
	if logHub != nil {
		logHub.Stop()
	}
}

func (c *logClient) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *logClient) readPump(h *LogHub) {
	defer func() {
		select {
		case h.unreg <- c:
		case <-h.stop:
		}
		c.ws.Close()
	}()

	c.ws.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Tracef("WebSocket error: %v", err)
			}
			break
		}
	}
}
