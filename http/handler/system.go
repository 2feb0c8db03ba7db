package handler

import (
	"net/http"
	"os"
	"os/exec"
	"runtime"

	"github.com/wolplus/ua2f/http/ws"
)

func (api *API) RegisterSystemApi() {
	api.mux.HandleFunc("/api/system/info", api.handleSystemInfo)
	api.mux.HandleFunc("/api/version", api.handleVersion)
}

// detectServiceManager determines which service manager is managing ua2f
func detectServiceManager() string {
	if _, err := os.Stat("/etc/systemd/system/ua2f.service"); err == nil {
		if _, err := exec.LookPath("systemctl"); err == nil {
			return "systemd"
		}
	}

	// OpenWrt procd
	if _, err := os.Stat("/etc/init.d/ua2f"); err == nil {
		return "procd"
	}

	return "standalone"
}

func isDocker() bool {
	_, err := os.Stat("/.dockerenv")
	return err == nil
}

func (api *API) handleSystemInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, SystemInfo{
		ServiceManager: detectServiceManager(),
		OS:             runtime.GOOS,
		Arch:           runtime.GOARCH,
		IsDocker:       isDocker(),
		LogClients:     ws.GetLogHub().Clients(),
	})
}

func (api *API) handleVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, VersionInfo{
		Version:   Version,
		Commit:    Commit,
		BuildDate: Date,
	})
}
