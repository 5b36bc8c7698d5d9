// Package main implements the node binary: a master (or backup) that
// enlists with the coordinator, serves the tablets it's assigned, and
// answers the membership pushes and liveness pings the coordinator sends
// to servers advertising MEMBERSHIP and PING respectively.
//
// Architecture:
//
//	┌─────────────────────────────────────────┐
//	│                 Node                     │
//	├─────────────────────────────────────────┤
//	│  HTTP API:                               │
//	│    /health                - liveness      │
//	│    /ping                  - liveness      │
//	│    /membership/incremental - push target  │
//	│    /membership/full        - push target  │
//	│    /setTablets            - ownership sink│
//	│    /tablet/{tableId}/store/* - data plane │
//	│    /recoverPartition      - recovery sink │
//	│    /info                  - diagnostics   │
//	├─────────────────────────────────────────┤
//	│  Components:                             │
//	│    Node        - runtime state           │
//	│    tablets map - locally owned tablets   │
//	│    membership  - local ServerList replica │
//	└─────────────────────────────────────────┘
//
// Configuration:
//   - NODE_LISTEN: listen address (default ":8081")
//   - NODE_ADDR: public address advertised to the coordinator (default "http://127.0.0.1:8081")
//   - COORDINATOR_ADDR: coordinator base URL (required)
//   - NODE_SERVICES: comma-separated capability list, any of master,backup,membership,ping (default "master,ping")
package main

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/leishou0891/RAMCloud/internal/cluster"
	"github.com/leishou0891/RAMCloud/internal/serverlist"
	"github.com/leishou0891/RAMCloud/internal/tablet"
	"github.com/leishou0891/RAMCloud/internal/tabletmap"
)

// logFatal is a variable so tests can intercept fatal errors without
// terminating the test process.
var logFatal = log.Fatalf

// Node is the runtime state of one master or backup: the tablets it
// currently serves and its local replica of the coordinator's server
// list, kept up to date by the incoming membership pushes.
type Node struct {
	ID             cluster.ServerId
	ServiceLocator string
	CoordinatorURL string

	mu      sync.RWMutex
	tablets map[uint64]*tablet.Tablet

	membership membershipReplica
}

// membershipReplica is a server's local view of the cluster, rebuilt
// from the coordinator's incremental and full-list pushes. Mirrors the
// version-tracking protocol internal/membership.Updater drives from the
// coordinator side.
type membershipReplica struct {
	mu      sync.Mutex
	version uint64
	entries map[cluster.ServerId]serverlist.ServerEntry
}

func newNode(coordinatorURL string) *Node {
	return &Node{
		CoordinatorURL: coordinatorURL,
		tablets:        make(map[uint64]*tablet.Tablet),
		membership:     membershipReplica{entries: make(map[cluster.ServerId]serverlist.ServerEntry)},
	}
}

// setTablet installs the tablet this node serves for spec.TableId,
// using exactly the range the coordinator (or a recovery partition)
// assigned. This is the only way a tablet comes into existence here:
// the node never guesses its own ownership. A repeated push naming the
// same range keeps the existing tablet, including its stored data,
// rather than starting it over empty.
func (n *Node) setTablet(spec tabletmap.Tablet) *tablet.Tablet {
	n.mu.Lock()
	defer n.mu.Unlock()
	if existing, ok := n.tablets[spec.TableId]; ok &&
		existing.StartKey == spec.StartKey && existing.EndKey == spec.EndKey {
		return existing
	}
	t := tablet.New(spec.TableId, spec.StartKey, spec.EndKey)
	n.tablets[spec.TableId] = t
	return t
}

// setTablets replaces this node's entire tablet set with specs,
// dropping any tablet not named in the push. Mirrors the coordinator's
// own setTablets contract: every call carries the master's full
// current assignment, never a delta.
func (n *Node) setTablets(specs []tabletmap.Tablet) {
	n.mu.Lock()
	defer n.mu.Unlock()
	kept := make(map[uint64]*tablet.Tablet, len(specs))
	for _, spec := range specs {
		if existing, ok := n.tablets[spec.TableId]; ok &&
			existing.StartKey == spec.StartKey && existing.EndKey == spec.EndKey {
			kept[spec.TableId] = existing
			continue
		}
		kept[spec.TableId] = tablet.New(spec.TableId, spec.StartKey, spec.EndKey)
	}
	n.tablets = kept
}

func (n *Node) getTablet(tableId uint64) (*tablet.Tablet, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	t, ok := n.tablets[tableId]
	return t, ok
}

func main() {
	listen := getenv("NODE_LISTEN", ":8081")
	public := getenv("NODE_ADDR", "http://127.0.0.1:8081")
	coord := mustGetenv("COORDINATOR_ADDR")
	services := parseServices(getenv("NODE_SERVICES", "master,ping"))

	node := newNode(coord)
	node.ServiceLocator = public

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("/ping", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("/membership/incremental", node.handleIncremental)
	mux.HandleFunc("/membership/full", node.handleFull)
	mux.HandleFunc("/recoverPartition", node.handleRecoverPartition)
	mux.HandleFunc("/setTablets", node.handleSetTablets)
	mux.HandleFunc("/info", node.handleInfo)
	mux.HandleFunc("/tablet/", node.handleTabletRequest)

	httpSrv := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("node listening on %s (public %s)", listen, public)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logFatal("listen: %v", err)
		}
	}()

	enlist(context.Background(), node, services)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}
	log.Println("node stopped")
}

// enlist registers with the coordinator, retrying on failure to absorb
// coordinator startup delays. Fatal after enough attempts: a node can't
// do anything useful before it has a ServerId.
func enlist(ctx context.Context, node *Node, services cluster.ServiceMask) {
	req := struct {
		ServiceLocator           string              `json:"service_locator"`
		Services                 cluster.ServiceMask `json:"services"`
		ExpectedReadMBytesPerSec uint32              `json:"expected_read_mb_per_sec"`
	}{ServiceLocator: node.ServiceLocator, Services: services, ExpectedReadMBytesPerSec: 100}

	var resp struct {
		ServerId cluster.ServerId `json:"server_id"`
	}

	var lastErr error
	for i := 0; i < 10; i++ {
		lastErr = cluster.PostJSON(ctx, node.CoordinatorURL+"/enlistServer", req, &resp)
		if lastErr == nil {
			node.ID = resp.ServerId
			log.Printf("enlisted with coordinator @ %s as %s", node.CoordinatorURL, node.ID)
			return
		}
		log.Printf("enlist retry %d: %v", i+1, lastErr)
		time.Sleep(400 * time.Millisecond)
	}
	logFatal("failed to enlist with coordinator: %v", lastErr)
}

func (n *Node) handleIncremental(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Version uint64                   `json:"version"`
		Records []serverlist.DeltaRecord `json:"records"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	n.membership.mu.Lock()
	defer n.membership.mu.Unlock()

	if body.Version != n.membership.version+1 {
		writeJSON(w, http.StatusOK, struct {
			Status string `json:"status"`
		}{Status: "lost_update"})
		return
	}

	for _, rec := range body.Records {
		switch rec.Event {
		case serverlist.EventDown:
			delete(n.membership.entries, rec.Entry.ServerId)
		default:
			n.membership.entries[rec.Entry.ServerId] = rec.Entry
		}
	}
	n.membership.version = body.Version

	writeJSON(w, http.StatusOK, struct {
		Status string `json:"status"`
	}{Status: "ok"})
}

func (n *Node) handleFull(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Version uint64                   `json:"version"`
		Entries []serverlist.ServerEntry `json:"entries"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	n.membership.mu.Lock()
	n.membership.entries = make(map[cluster.ServerId]serverlist.ServerEntry, len(body.Entries))
	for _, e := range body.Entries {
		n.membership.entries[e.ServerId] = e
	}
	n.membership.version = body.Version
	n.membership.mu.Unlock()

	writeJSON(w, http.StatusOK, struct {
		Status string `json:"status"`
	}{Status: "ok"})
}

// handleRecoverPartition accepts a partition of a dead server's will
// assigned to this node by the recovery coordinator, brings up local
// tablets for the recovered ranges, and reports completion back to the
// coordinator asynchronously so the HTTP response here isn't gated on
// that round trip.
func (n *Node) handleRecoverPartition(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DeadServerId cluster.ServerId   `json:"dead_server_id"`
		Tablets      []tabletmap.Tablet `json:"tablets"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	recovered := make([]tabletmap.Tablet, len(body.Tablets))
	for i, src := range body.Tablets {
		t := n.setTablet(src)
		t.SetState(tablet.StateRecovered)

		recovered[i] = src
		recovered[i].ServerId = n.ID
		recovered[i].ServiceLocator = n.ServiceLocator
		recovered[i].State = tabletmap.Normal
	}

	w.WriteHeader(http.StatusNoContent)

	go n.reportRecovered(body.DeadServerId, recovered)
}

func (n *Node) reportRecovered(deadServerId cluster.ServerId, recovered []tabletmap.Tablet) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req := struct {
		DeadServerId    cluster.ServerId   `json:"dead_server_id"`
		ReportingMaster cluster.ServerId   `json:"reporting_master"`
		Recovered       []tabletmap.Tablet `json:"recovered"`
	}{DeadServerId: deadServerId, ReportingMaster: n.ID, Recovered: recovered}

	if err := cluster.PostJSON(ctx, n.CoordinatorURL+"/tabletsRecovered", req, nil); err != nil {
		log.Printf("reporting recovery of %s to coordinator: %v", deadServerId, err)
	}
}

// handleSetTablets is the setTablets sink: the coordinator calls this
// whenever it changes what this node owns, always with the node's
// complete current assignment. Tablets this node previously served but
// that are absent from the push are dropped.
func (n *Node) handleSetTablets(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Tablets []tabletmap.Tablet `json:"tablets"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	n.setTablets(body.Tablets)
	w.WriteHeader(http.StatusNoContent)
}

func (n *Node) handleInfo(w http.ResponseWriter, _ *http.Request) {
	n.mu.RLock()
	infos := make([]tablet.Info, 0, len(n.tablets))
	for _, t := range n.tablets {
		infos = append(infos, t.Info())
	}
	n.mu.RUnlock()

	writeJSON(w, http.StatusOK, struct {
		ServerId cluster.ServerId `json:"server_id"`
		Tablets  []tablet.Info    `json:"tablets"`
	}{ServerId: n.ID, Tablets: infos})
}

// handleTabletRequest routes /tablet/{tableId}/store/{key} and
// /tablet/{tableId}/stats to a tablet this node was assigned; a request
// for any other table gets 421 Misdirected Request.
func (n *Node) handleTabletRequest(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/tablet/")
	firstSlash := strings.Index(rest, "/")
	if firstSlash == -1 {
		http.Error(w, "invalid path", http.StatusBadRequest)
		return
	}

	tableId, err := strconv.ParseUint(rest[:firstSlash], 10, 64)
	if err != nil {
		http.Error(w, "invalid table id", http.StatusBadRequest)
		return
	}
	remaining := rest[firstSlash+1:]

	if remaining == "stats" {
		n.handleTabletStats(tableId, w, r)
		return
	}

	const storePrefix = "store"
	if !strings.HasPrefix(remaining, storePrefix) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	keyPath := strings.TrimPrefix(remaining, storePrefix)

	if keyPath == "" || keyPath == "/" {
		if r.Method == http.MethodGet {
			n.handleListKeys(tableId, w, r)
			return
		}
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	key := strings.TrimPrefix(keyPath, "/")
	t, ok := n.getTablet(tableId)
	if !ok {
		http.Error(w, "tablet not assigned to this node", http.StatusMisdirectedRequest)
		return
	}
	if !t.Owns(key) {
		http.Error(w, "key not owned by this tablet", http.StatusMisdirectedRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		n.handleGet(t, key, w)
	case http.MethodPut:
		n.handlePut(t, key, w, r)
	case http.MethodDelete:
		n.handleDelete(t, key, w)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (n *Node) handleGet(t *tablet.Tablet, key string, w http.ResponseWriter) {
	value, err := t.Get(key)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(value)
}

func (n *Node) handlePut(t *tablet.Tablet, key string, w http.ResponseWriter, r *http.Request) {
	value, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	if err := t.Put(key, value); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (n *Node) handleDelete(t *tablet.Tablet, key string, w http.ResponseWriter) {
	if err := t.Delete(key); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (n *Node) handleListKeys(tableId uint64, w http.ResponseWriter, _ *http.Request) {
	t, ok := n.getTablet(tableId)
	if !ok {
		writeJSON(w, http.StatusOK, struct {
			Keys []string `json:"keys"`
		}{})
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Keys []string `json:"keys"`
	}{Keys: t.ListKeys()})
}

func (n *Node) handleTabletStats(tableId uint64, w http.ResponseWriter, _ *http.Request) {
	t, ok := n.getTablet(tableId)
	if !ok {
		http.Error(w, "tablet not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, t.Info())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func parseServices(csv string) cluster.ServiceMask {
	var mask cluster.ServiceMask
	for _, part := range strings.Split(csv, ",") {
		switch strings.TrimSpace(part) {
		case "master":
			mask |= cluster.Master
		case "backup":
			mask |= cluster.Backup
		case "ping":
			mask |= cluster.Ping
		case "membership":
			mask |= cluster.Membership
		case "":
		default:
			log.Printf("ignoring unknown service %q", part)
		}
	}
	return mask
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func mustGetenv(k string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	logFatal("missing env %s", k)
	return ""
}
