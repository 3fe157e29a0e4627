// Command tsdb-node runs one node of a clustered time-series database:
// the insertion data path (parse, route, apply, dispatch, replicate) plus
// a thin admin surface for account and database lifecycle management.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/google/gops/agent"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tsdbnode/tsdbnode/internal/cluster"
	"github.com/tsdbnode/tsdbnode/internal/codec"
	"github.com/tsdbnode/tsdbnode/internal/dbadmin"
	"github.com/tsdbnode/tsdbnode/internal/insert"
	"github.com/tsdbnode/tsdbnode/internal/repository"
	"github.com/tsdbnode/tsdbnode/internal/store"
	"github.com/tsdbnode/tsdbnode/pkg/nats"
)

type nodeConfig struct {
	HTTPAddr      string          `json:"http-addr"`
	DataDir       string          `json:"data-dir"`
	RegistryPath  string          `json:"registry-path"`
	LocalPoolID   uint32          `json:"local-pool-id"`
	NumPools      uint32          `json:"num-pools"`
	RatePerSec    float64         `json:"dispatch-rate-per-sec"`
	Burst         int             `json:"dispatch-burst"`
	ReplicaName   string          `json:"replica-name"` // non-empty enables replication of this node's own pool
	TimePrecision string          `json:"time-precision"`
	DurationNum   string          `json:"duration-num"`
	NATS          nats.NatsConfig `json:"nats"`
}

func loadConfig(path string) nodeConfig {
	cfg := nodeConfig{
		HTTPAddr:      ":8090",
		DataDir:       "./data",
		RegistryPath:  "./data/registry.db",
		NumPools:      1,
		RatePerSec:    500,
		Burst:         1000,
		TimePrecision: dbadmin.DefaultTimePrecision,
		DurationNum:   dbadmin.DefaultDurationNum,
	}
	f, err := os.Open(path)
	if err != nil {
		cclog.Warnf("[MAIN] no config at %s, using defaults: %v", path, err)
		return cfg
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(&cfg); err != nil {
		cclog.Fatalf("[MAIN] parsing config %s: %v", path, err)
	}
	return cfg
}

func main() {
	configPath := flag.String("config", "./config.json", "path to node configuration")
	flag.Parse()

	if err := agent.Listen(agent.Options{}); err != nil {
		cclog.Warnf("[MAIN] gops agent not started: %v", err)
	}

	cfg := loadConfig(*configPath)

	if rawNats, err := json.Marshal(cfg.NATS); err == nil {
		nats.Init(rawNats)
	}
	nats.Connect()
	natsClient := nats.GetClient()

	pools := make([]cluster.Pool, cfg.NumPools)
	for i := range pools {
		servers := []cluster.Server{{Name: "self", PoolID: uint32(i), IsLocal: uint32(i) == cfg.LocalPoolID}}
		if uint32(i) == cfg.LocalPoolID && cfg.ReplicaName != "" {
			servers = append(servers, cluster.Server{Name: cfg.ReplicaName, PoolID: uint32(i)})
		}
		pools[i] = cluster.Pool{ID: uint32(i), Servers: servers}
	}
	poolTable := cluster.New(pools, cfg.LocalPoolID, natsClient)

	latch := store.NewFatalLatch()
	rangeDuration, err := store.ParseDurationSpec(cfg.DurationNum)
	if err != nil {
		cclog.Fatalf("[MAIN] invalid duration-num %q: %v", cfg.DurationNum, err)
	}
	rangePolicy := store.RangePolicy{
		Precision: store.ParseTimePrecision(cfg.TimePrecision),
		Duration:  rangeDuration,
	}
	seriesStore := store.New(latch, rangePolicy)
	reg := prometheus.NewRegistry()
	metrics := store.NewMetrics(reg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := store.RunRetention(ctx, seriesStore, time.Hour, 30*24*time.Hour); err != nil {
		cclog.Fatalf("[MAIN] starting retention sweep: %v", err)
	}

	applier := &insert.LocalApplier{Store: seriesStore, Pool: poolTable, Metrics: metrics}
	dispatcher := insert.NewDispatcher(poolTable, applier, metrics, cfg.RatePerSec, cfg.Burst)
	if replica, ok := poolTable.ReplicaServer(cfg.LocalPoolID); ok {
		dispatcher.Replicator = insert.NewReplicator(natsClient, cfg.LocalPoolID, replica.Name)
	}

	os.MkdirAll(cfg.DataDir, 0o750)
	repository.Connect(cfg.RegistryPath)
	admin := dbadmin.New(repository.GetConnection(), cfg.DataDir)

	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if tripped, reason := latch.Tripped(); tripped {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(reason.Error()))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	router.HandleFunc("/admin/databases", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		body, err := readAll(r)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		req, err := dbadmin.ValidateNewDatabaseRequest(body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := admin.OnNewDatabase(req); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}).Methods(http.MethodPost)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}
	go func() {
		cclog.Infof("[MAIN] ops HTTP surface listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			cclog.Errorf("[MAIN] http server: %v", err)
		}
	}()

	if natsClient != nil {
		subject := fmt.Sprintf("pool.%d.insert", cfg.LocalPoolID)
		if err := natsClient.SubscribeQueue(subject, "insert-workers", func(subj string, data []byte) {
			handleInsertRequest(ctx, poolTable, dispatcher, seriesStore, metrics, data)
		}); err != nil {
			cclog.Errorf("[MAIN] subscribing to %s: %v", subject, err)
		}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	cclog.Infof("[MAIN] shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
	if natsClient != nil {
		natsClient.Close()
	}
}

// handleInsertRequest runs one client payload through the full pipeline:
// parse, route to pools, dispatch (local apply + remote fan-out), and log
// the outcome. A full deployment would publish the aggregated reply back
// to the requester's reply subject; this node logs it, since the insert
// reply envelope's exact bytes are out of scope (see SPEC_FULL.md §5).
func handleInsertRequest(ctx context.Context, pt *cluster.PoolTable, d *insert.Dispatcher, ss *store.SeriesStore, metrics *store.Metrics, data []byte) {
	points, err := insert.ParsePayload(codec.NewReader(data), ss)
	if err != nil {
		metrics.InsertErrors.WithLabelValues("parse").Inc()
		cclog.Warnf("[INSERT] rejecting malformed request: %v", err)
		return
	}

	job := insert.NewInsertJob()
	job.RawPoints = points
	job.Advance(insert.StateRouted)
	job.Batches = insert.AssignPools(pt, ss, points)

	d.Dispatch(ctx, job)
	job.Advance(insert.StateDone)

	cclog.Infof("[INSERT] applied %d points, %d errors", job.ReceivedPoints, len(job.Errors))
}

func readAll(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}
