package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/leishou0891/RAMCloud/internal/cluster"
	"github.com/leishou0891/RAMCloud/internal/config"
	"github.com/leishou0891/RAMCloud/internal/coordinator"
	"github.com/leishou0891/RAMCloud/internal/durablelog"
	"github.com/leishou0891/RAMCloud/internal/membership"
	"github.com/leishou0891/RAMCloud/internal/recovery"
	"github.com/leishou0891/RAMCloud/internal/serverlist"
	"github.com/leishou0891/RAMCloud/internal/tabletmap"
)

func main() {
	cfg, err := config.Load(os.Getenv("COORDINATOR_CONFIG"))
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	var durableLog *durablelog.Log
	var opts []coordinator.Option
	if cfg.DurableLogPath != "" {
		l, err := durablelog.Open(cfg.DurableLogPath)
		if err != nil {
			log.Fatalf("opening durable log: %v", err)
		}
		defer l.Close()
		durableLog = l
		opts = append(opts, coordinator.WithDurableLog(l))
	}
	opts = append(opts, coordinator.WithMembershipOptions(
		membership.WithMaxRetries(cfg.MembershipMaxRetries),
	))

	c := coordinator.New(membership.NewHTTPPusher(), recovery.NewHTTPEngine(), cfg.RecoveryMasterFanout, opts...)
	if durableLog != nil {
		if err := c.Restore(); err != nil {
			log.Fatalf("restoring from durable log: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.RunMembershipUpdater(ctx)

	monitor := coordinator.NewLivenessMonitor(coordinator.DefaultLivenessInterval)
	monitor.SetOnUnreachable(func(serviceLocator string) {
		if err := c.HintServerDown(serviceLocator); err != nil {
			log.Printf("hintServerDown(%s): %v", serviceLocator, err)
		}
	})
	go monitor.Start(ctx, func() []coordinator.PingTarget { return c.PingTargets() })

	srv := &server{coordinator: c}

	mux := http.NewServeMux()
	mux.HandleFunc("/enlistServer", srv.handleEnlistServer)
	mux.HandleFunc("/getServerList", srv.handleGetServerList)
	mux.HandleFunc("/getTabletMap", srv.handleGetTabletMap)
	mux.HandleFunc("/createTable", srv.handleCreateTable)
	mux.HandleFunc("/dropTable", srv.handleDropTable)
	mux.HandleFunc("/openTable", srv.handleOpenTable)
	mux.HandleFunc("/hintServerDown", srv.handleHintServerDown)
	mux.HandleFunc("/tabletsRecovered", srv.handleTabletsRecovered)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("coordinator listening on %s", cfg.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	monitor.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	log.Println("coordinator stopped")
}

type server struct {
	coordinator *coordinator.Coordinator
}

func (s *server) handleEnlistServer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ServiceLocator           string              `json:"service_locator"`
		Services                 cluster.ServiceMask `json:"services"`
		ExpectedReadMBytesPerSec uint32              `json:"expected_read_mb_per_sec"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.ServiceLocator == "" {
		http.Error(w, "service_locator required", http.StatusBadRequest)
		return
	}

	id, err := s.coordinator.EnlistServer(req.ServiceLocator, req.Services, req.ExpectedReadMBytesPerSec)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		ServerId cluster.ServerId `json:"server_id"`
	}{ServerId: id})
}

func (s *server) handleGetServerList(w http.ResponseWriter, r *http.Request) {
	entries, version := s.coordinator.GetServerList()
	writeJSON(w, http.StatusOK, struct {
		Version uint64                   `json:"version"`
		Entries []serverlist.ServerEntry `json:"entries"`
	}{Version: version, Entries: entries})
}

func (s *server) handleGetTabletMap(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Tablets []tabletmap.Tablet `json:"tablets"`
	}{Tablets: s.coordinator.GetTabletMap()})
}

func (s *server) handleCreateTable(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	tableId, err := s.coordinator.CreateTable(req.Name)
	if err != nil {
		writeCoordinatorError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		TableId uint64 `json:"table_id"`
	}{TableId: tableId})
}

func (s *server) handleDropTable(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	if err := s.coordinator.DropTable(req.Name); err != nil {
		writeCoordinatorError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleOpenTable(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		http.Error(w, "name required", http.StatusBadRequest)
		return
	}

	tableId, tablets, err := s.coordinator.OpenTable(name)
	if err != nil {
		writeCoordinatorError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		TableId uint64             `json:"table_id"`
		Tablets []tabletmap.Tablet `json:"tablets"`
	}{TableId: tableId, Tablets: tablets})
}

func (s *server) handleHintServerDown(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ServiceLocator string `json:"service_locator"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	if err := s.coordinator.HintServerDown(req.ServiceLocator); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleTabletsRecovered(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeadServerId    cluster.ServerId   `json:"dead_server_id"`
		ReportingMaster cluster.ServerId   `json:"reporting_master"`
		Recovered       []tabletmap.Tablet `json:"recovered"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	if err := s.coordinator.TabletsRecovered(req.DeadServerId, req.ReportingMaster, req.Recovered); err != nil {
		if errors.Is(err, recovery.ErrNoSuchRecovery) || errors.Is(err, recovery.ErrUnexpectedReport) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeCoordinatorError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, coordinator.ErrTableAlreadyExists):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, coordinator.ErrRetryLater):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, tabletmap.ErrTableDoesNotExist):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

