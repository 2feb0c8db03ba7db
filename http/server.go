package http

import (
	"fmt"
	"io"
	"net"
	stdhttp "net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/wolplus/ua2f/config"
	"github.com/wolplus/ua2f/http/handler"
	"github.com/wolplus/ua2f/http/ws"
	"github.com/wolplus/ua2f/log"
	"github.com/wolplus/ua2f/metrics"
)

// NewMux builds the status API: JSON stats, the Prometheus endpoint and the
// log stream.
func NewMux(cfg *config.Config, collector *metrics.Collector, gatherer prometheus.Gatherer) stdhttp.Handler {
	mux := stdhttp.NewServeMux()

	registerWebSocketEndpoints(mux)

	api := handler.NewAPIHandler(cfg, collector)
	api.RegisterEndpoints(mux)

	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return cors(mux)
}

func StartServer(cfg *config.Config, collector *metrics.Collector, gatherer prometheus.Gatherer) (*stdhttp.Server, error) {
	if !cfg.System.WebServer.IsEnabled {
		log.Infof("Web server disabled (port 0)")
		return nil, nil
	}

	addr := net.JoinHostPort(cfg.System.WebServer.BindAddress, strconv.Itoa(cfg.System.WebServer.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, log.Errorf("web server listen on %s: %w", addr, err)
	}
	log.Infof("Starting web server on %s", addr)
	collector.RecordEvent("info", fmt.Sprintf("Web server started on %s", addr))

	srv := &stdhttp.Server{
		Addr:              addr,
		Handler:           NewMux(cfg, collector, gatherer),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.Serve(ln); err != nil && err != stdhttp.ErrServerClosed {
			log.Errorf("Web server error: %v", err)
			collector.RecordEvent("error", fmt.Sprintf("Web server error: %v", err))
		}
	}()

	return srv, nil
}

func registerWebSocketEndpoints(mux *stdhttp.ServeMux) {
	mux.HandleFunc("/api/ws/logs", ws.HandleLogsWebSocket)
	log.Tracef("WebSocket endpoints registered: /api/ws/logs")
}

func cors(next stdhttp.Handler) stdhttp.Handler {
	return stdhttp.HandlerFunc(func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == stdhttp.MethodOptions {
			w.WriteHeader(stdhttp.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func LogWriter() io.Writer {
	return ws.LogWriter()
}

func Shutdown() {
	ws.Shutdown()
}
