package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dbehnke/audio-nexus/pkg/logger"
	"github.com/dbehnke/audio-nexus/pkg/protocol"
)

type fakeStatus struct {
	clients, max int
	txOwner      string
	uptime       time.Duration
}

func (f fakeStatus) ClientCount() int      { return f.clients }
func (f fakeStatus) MaxClients() int       { return f.max }
func (f fakeStatus) TxOwner() string       { return f.txOwner }
func (f fakeStatus) Uptime() time.Duration { return f.uptime }

type fakeRoster struct{ entries []protocol.RosterEntry }

func (f fakeRoster) RosterSnapshot() []protocol.RosterEntry { return f.entries }

func TestAPI_Status(t *testing.T) {
	log := logger.New(logger.Config{Level: "info"})
	api := NewAPI(log)
	api.SetStatusProvider(fakeStatus{clients: 2, max: 8, txOwner: "abc", uptime: 90 * time.Second})

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	w := httptest.NewRecorder()

	api.HandleStatus(w, req)

	resp := w.Result()
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if result["clients"].(float64) != 2 {
		t.Errorf("expected clients=2, got %v", result["clients"])
	}
	if result["tx_owner"] != "abc" {
		t.Errorf("expected tx_owner=abc, got %v", result["tx_owner"])
	}
}

func TestAPI_Clients(t *testing.T) {
	log := logger.New(logger.Config{Level: "info"})
	api := NewAPI(log)
	api.SetRosterProvider(fakeRoster{entries: []protocol.RosterEntry{
		{ID: "a", Info: protocol.ClientInfo{Callsign: "W1AW"}},
	}})

	req := httptest.NewRequest(http.MethodGet, "/api/clients", nil)
	w := httptest.NewRecorder()

	api.HandleClients(w, req)

	resp := w.Result()
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var result []protocol.RosterEntry
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(result) != 1 || result[0].ID != "a" {
		t.Fatalf("unexpected roster: %+v", result)
	}
}

func TestAPI_ClientsEmptyWithoutProvider(t *testing.T) {
	log := logger.New(logger.Config{Level: "info"})
	api := NewAPI(log)

	req := httptest.NewRequest(http.MethodGet, "/api/clients", nil)
	w := httptest.NewRecorder()

	api.HandleClients(w, req)

	var result []protocol.RosterEntry
	if err := json.NewDecoder(w.Result().Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(result) != 0 {
		t.Fatalf("expected empty roster without a provider, got %+v", result)
	}
}

func TestAPI_Stats(t *testing.T) {
	log := logger.New(logger.Config{Level: "info"})
	api := NewAPI(log)
	api.SetStatusProvider(fakeStatus{clients: 1, max: 4})
	api.SetRosterProvider(fakeRoster{entries: []protocol.RosterEntry{{ID: "a"}}})

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	w := httptest.NewRecorder()

	api.HandleStats(w, req)

	resp := w.Result()
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if _, ok := result["roster"]; !ok {
		t.Error("expected stats response to include roster")
	}
}

func TestAPI_NotFound(t *testing.T) {
	log := logger.New(logger.Config{Level: "info"})
	api := NewAPI(log)

	// Same API routes the dashboard server registers.
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", api.HandleStatus)
	mux.HandleFunc("/api/clients", api.HandleClients)
	mux.HandleFunc("/api/stats", api.HandleStats)

	req := httptest.NewRequest(http.MethodGet, "/api/notfound", nil)
	w := httptest.NewRecorder()

	mux.ServeHTTP(w, req)

	resp := w.Result()
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", resp.StatusCode)
	}
}

func TestAPI_MethodNotAllowed(t *testing.T) {
	log := logger.New(logger.Config{Level: "info"})
	api := NewAPI(log)

	req := httptest.NewRequest(http.MethodPost, "/api/status", nil)
	w := httptest.NewRecorder()

	api.HandleStatus(w, req)

	resp := w.Result()
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", resp.StatusCode)
	}
}
