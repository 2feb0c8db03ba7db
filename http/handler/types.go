package handler

import (
	"net/http"

	"github.com/wolplus/ua2f/config"
	"github.com/wolplus/ua2f/metrics"
)

type API struct {
	cfg       *config.Config
	mux       *http.ServeMux
	collector *metrics.Collector
	uaSource  string
}

type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}

type SystemInfo struct {
	ServiceManager string `json:"service_manager"`
	OS             string `json:"os"`
	Arch           string `json:"arch"`
	IsDocker       bool   `json:"is_docker"`
	LogClients     int    `json:"log_clients"`
}

// ConfigResponse wraps the running config with the values derived from it.
type ConfigResponse struct {
	*config.Config
	UserAgentSource string `json:"user_agent_source"`
	UserAgentLength int    `json:"user_agent_length"`
	BypassPrefixes  int    `json:"bypass_prefixes"`
}
