package web

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/dbehnke/audio-nexus/pkg/logger"
	"github.com/dbehnke/audio-nexus/pkg/protocol"
)

// StatusProvider supplies the data the /api/status and /api/stats endpoints
// report. The web package depends on this interface, not on pkg/server
// directly, so it can be exercised without a running server.
type StatusProvider interface {
	ClientCount() int
	MaxClients() int
	TxOwner() string
	Uptime() time.Duration
}

// RosterProvider supplies the data the /api/clients endpoint reports.
type RosterProvider interface {
	RosterSnapshot() []protocol.RosterEntry
}

// API handles REST API endpoints backing the dashboard.
type API struct {
	logger *logger.Logger
	status StatusProvider
	roster RosterProvider
}

// NewAPI creates a new API instance. status and roster may be nil; handlers
// degrade to reporting empty/zero data until SetStatusProvider/
// SetRosterProvider are called.
func NewAPI(log *logger.Logger) *API {
	return &API{logger: log}
}

// SetStatusProvider attaches the server-status source.
func (a *API) SetStatusProvider(p StatusProvider) { a.status = p }

// SetRosterProvider attaches the roster-snapshot source.
func (a *API) SetRosterProvider(p RosterProvider) { a.roster = p }

// HandleStatus handles the /api/status endpoint.
func (a *API) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]interface{}{
		"status":  "running",
		"service": "audio-nexus",
	}
	if a.status != nil {
		response["clients"] = a.status.ClientCount()
		response["max_clients"] = a.status.MaxClients()
		response["tx_owner"] = a.status.TxOwner()
		response["uptime_seconds"] = int(a.status.Uptime().Seconds())
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		a.logger.Warn("failed to encode status response", logger.Error(err))
	}
}

// HandleClients handles the /api/clients endpoint: the current roster.
func (a *API) HandleClients(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	entries := []protocol.RosterEntry{}
	if a.roster != nil {
		entries = a.roster.RosterSnapshot()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(entries); err != nil {
		a.logger.Warn("failed to encode clients response", logger.Error(err))
	}
}

// HandleStats handles the /api/stats endpoint: a richer status snapshot
// intended for dashboard polling between websocket pushes.
func (a *API) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := map[string]interface{}{}
	if a.status != nil {
		stats["clients"] = a.status.ClientCount()
		stats["max_clients"] = a.status.MaxClients()
		stats["tx_owner"] = a.status.TxOwner()
		stats["uptime_seconds"] = int(a.status.Uptime().Seconds())
	}
	if a.roster != nil {
		stats["roster"] = a.roster.RosterSnapshot()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		a.logger.Warn("failed to encode stats response", logger.Error(err))
	}
}
