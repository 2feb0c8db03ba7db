package handler

import (
	"encoding/json"
	"net/http"

	"github.com/wolplus/ua2f/config"
	"github.com/wolplus/ua2f/log"
	"github.com/wolplus/ua2f/metrics"
)

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

func NewAPIHandler(cfg *config.Config, collector *metrics.Collector) *API {
	ua, source := cfg.ResolveUserAgent()
	log.Tracef("API serving config with %d byte user agent (%s)", len(ua), source)
	return &API{
		cfg:       cfg,
		collector: collector,
		uaSource:  source,
	}
}

func (api *API) RegisterEndpoints(mux *http.ServeMux) {
	api.mux = mux

	api.RegisterMetricsApi()
	api.RegisterConfigApi()
	api.RegisterSystemApi()
}

func setJsonHeader(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, v any) {
	setJsonHeader(w)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Tracef("Failed to encode response: %v", err)
	}
}
