// Package testserver is an in-process fake master/backup used by tests
// that need something real on the other end of an HTTP call without
// paying for a full cmd/node process. See doc.go for the full package
// documentation.
package testserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/google/uuid"

	"github.com/leishou0891/RAMCloud/internal/cluster"
	"github.com/leishou0891/RAMCloud/internal/serverlist"
	"github.com/leishou0891/RAMCloud/internal/tabletmap"
)

type incrementalPushBody struct {
	Version uint64                   `json:"version"`
	Records []serverlist.DeltaRecord `json:"records"`
}

type fullListPushBody struct {
	Version uint64                   `json:"version"`
	Entries []serverlist.ServerEntry `json:"entries"`
}

type pushReply struct {
	Status string `json:"status"`
}

type setTabletsBody struct {
	Tablets []tabletmap.Tablet `json:"tablets"`
}

// Server is a fake membership subscriber and setTablets sink: it
// records every incremental push, full-list push, and tablet
// assignment it receives, and answers /ping, so it doubles as a
// liveness target. Down, when set, makes every request it serves fail,
// for exercising retry and liveness-detection paths.
type Server struct {
	Node cluster.NodeInfo

	mu           sync.Mutex
	version      uint64
	servers      map[cluster.ServerId]serverlist.ServerEntry
	incremental  []serverlist.Delta
	fullPushes   int
	tablets      []tabletmap.Tablet
	tabletPushes int
	Down         bool

	httpServer *httptest.Server
}

// New starts a fake master/backup listening on an ephemeral local port.
// Callers must call Close when done.
func New() *Server {
	s := &Server{
		servers: make(map[cluster.ServerId]serverlist.ServerEntry),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/membership/incremental", s.handleIncremental)
	mux.HandleFunc("/membership/full", s.handleFull)
	mux.HandleFunc("/setTablets", s.handleSetTablets)
	mux.HandleFunc("/ping", s.handlePing)

	s.httpServer = httptest.NewServer(mux)
	s.Node = cluster.NodeInfo{ID: uuid.NewString(), Addr: s.httpServer.URL}
	return s
}

// Addr is this fake server's service locator.
func (s *Server) Addr() string {
	return s.httpServer.URL
}

// Close shuts the fake server down.
func (s *Server) Close() {
	s.httpServer.Close()
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	down := s.Down
	s.mu.Unlock()
	if down {
		http.Error(w, "down", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleIncremental(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Down {
		http.Error(w, "down", http.StatusServiceUnavailable)
		return
	}

	var body incrementalPushBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	if body.Version != s.version+1 {
		_ = json.NewEncoder(w).Encode(pushReply{Status: "lost_update"})
		return
	}

	for _, rec := range body.Records {
		s.applyRecordLocked(rec)
	}
	s.version = body.Version
	s.incremental = append(s.incremental, serverlist.Delta{Version: body.Version, Records: body.Records})

	_ = json.NewEncoder(w).Encode(pushReply{Status: "ok"})
}

func (s *Server) handleFull(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Down {
		http.Error(w, "down", http.StatusServiceUnavailable)
		return
	}

	var body fullListPushBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	s.servers = make(map[cluster.ServerId]serverlist.ServerEntry, len(body.Entries))
	for _, e := range body.Entries {
		s.servers[e.ServerId] = e
	}
	s.version = body.Version
	s.fullPushes++

	_ = json.NewEncoder(w).Encode(pushReply{Status: "ok"})
}

func (s *Server) handleSetTablets(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Down {
		http.Error(w, "down", http.StatusServiceUnavailable)
		return
	}

	var body setTabletsBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	s.tablets = body.Tablets
	s.tabletPushes++
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) applyRecordLocked(rec serverlist.DeltaRecord) {
	switch rec.Event {
	case serverlist.EventDown:
		delete(s.servers, rec.Entry.ServerId)
	default:
		s.servers[rec.Entry.ServerId] = rec.Entry
	}
}

// KnownServers returns a snapshot of what this fake subscriber believes
// the cluster's membership to be.
func (s *Server) KnownServers() []serverlist.ServerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]serverlist.ServerEntry, 0, len(s.servers))
	for _, e := range s.servers {
		out = append(out, e)
	}
	return out
}

// Version returns the last version this subscriber applied.
func (s *Server) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// FullPushCount returns how many full-list pushes this subscriber has
// received, for asserting that the updater fell back correctly.
func (s *Server) FullPushCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fullPushes
}

// Tablets returns the most recent setTablets push this fake master
// received.
func (s *Server) Tablets() []tabletmap.Tablet {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]tabletmap.Tablet, len(s.tablets))
	copy(out, s.tablets)
	return out
}

// TabletPushCount returns how many setTablets pushes this fake master
// has received.
func (s *Server) TabletPushCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tabletPushes
}
