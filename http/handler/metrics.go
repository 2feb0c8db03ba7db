package handler

import (
	"net/http"
)

func (api *API) RegisterMetricsApi() {
	api.mux.HandleFunc("/api/stats", api.handleStats)
	api.mux.HandleFunc("/api/events", api.handleEvents)
}

func (api *API) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, api.collector.Snapshot())
}

func (api *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, api.collector.Snapshot().RecentEvents)
}
