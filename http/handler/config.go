package handler

import (
	"net/http"
)

func (api *API) RegisterConfigApi() {
	api.mux.HandleFunc("/api/config", api.handleConfig)
}

// handleConfig is read only. Changing the queue or the replacement string
// requires a restart.
func (api *API) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ua, _ := api.cfg.ResolveUserAgent()
	prefixes, _ := api.cfg.BypassPrefixes()

	writeJSON(w, ConfigResponse{
		Config:          api.cfg,
		UserAgentSource: api.uaSource,
		UserAgentLength: len(ua),
		BypassPrefixes:  len(prefixes),
	})
}
