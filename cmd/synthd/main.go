package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/luxfi/database"
	"github.com/luxfi/database/manager"
	"github.com/luxfi/log"

	"github.com/luxfi/synth/pkg/api"
	"github.com/luxfi/synth/pkg/events"
	"github.com/luxfi/synth/pkg/metrics"
	"github.com/luxfi/synth/pkg/store"
	"github.com/luxfi/synth/pkg/synth"
	"github.com/luxfi/synth/pkg/websocket"
)

const (
	defaultDataDir     = ".synthd"
	defaultHTTPPort    = 8080
	defaultWSPort      = 8081
	defaultMetricsPort = 9090
)

type Config struct {
	// Paths
	DataDir  string
	LogLevel string

	// Network
	HTTPPort    int
	WSPort      int
	MetricsPort int

	// Protocol
	Owner       string
	PriceFeeder string
	PenaltyBps  uint64

	// Integrations
	NATSURL       string
	EnableMetrics bool

	// Persistence
	SnapshotEvery time.Duration
	InMemory      bool
}

type Node struct {
	config *Config
	logger log.Logger

	db      database.Database
	store   *store.Store
	engine  *synth.Engine
	ledger  *synth.MemLedger
	metrics *metrics.Metrics
	ws      *websocket.Server
	nats    *events.NATSSink

	httpServer *http.Server

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewNode(config *Config) (*Node, error) {
	logger := log.Root().New("module", "synthd")

	db, err := openDatabase(config, logger)
	if err != nil {
		return nil, err
	}
	st := store.New(db)

	snap, err := st.LoadSnapshot()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	// Event plumbing: websocket stream, optional NATS and Prometheus
	wsSink := synth.NewChanSink(1024)
	sinks := events.Fanout{wsSink}

	var m *metrics.Metrics
	if config.EnableMetrics {
		m, err = metrics.New("synth")
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create metrics: %w", err)
		}
		sinks = append(sinks, m.Sink())
	}

	var natsSink *events.NATSSink
	if config.NATSURL != "" {
		natsSink, err = events.Connect(config.NATSURL)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to connect NATS: %w", err)
		}
		sinks = append(sinks, natsSink)
	}

	var auth synth.Authorizer
	if config.PriceFeeder != "" {
		auth = synth.NewDelegatedAuthorizer(config.Owner, config.PriceFeeder)
	}

	// Collateral balances live in memory only: positions survive restarts
	// via snapshots, balances do not. Deployments with real collateral plug
	// an external CollateralLedger in here.
	ledger := synth.NewMemLedger()
	engine := synth.NewEngine(synth.Config{
		Owner:      config.Owner,
		Authorizer: auth,
		Collateral: ledger,
		Sink:       sinks,
		PenaltyBps: config.PenaltyBps,
	})

	if len(snap.Assets) > 0 || snap.PenaltyBps != synth.DefaultLiquidationPenaltyBps {
		if err := engine.Restore(snap); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to restore state: %w", err)
		}
		logger.Info("state restored",
			"assets", len(snap.Assets), "positions", len(snap.Positions))
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Node{
		config:  config,
		logger:  logger,
		db:      db,
		store:   st,
		engine:  engine,
		ledger:  ledger,
		metrics: m,
		ws:      websocket.NewServer(engine, wsSink.C),
		nats:    natsSink,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

func openDatabase(config *Config, logger log.Logger) (database.Database, error) {
	dataPath := filepath.Join(os.Getenv("HOME"), config.DataDir)
	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbManager := manager.NewManager(dataPath, nil)

	if config.InMemory {
		return dbManager.New(manager.DefaultMemoryConfig())
	}

	dbConfig := manager.DefaultBadgerDBConfig("badgerdb")
	dbConfig.Namespace = "synthd"

	db, err := dbManager.New(dbConfig)
	if err != nil {
		logger.Warn("failed to open BadgerDB, falling back to memory", "error", err)
		return dbManager.New(manager.DefaultMemoryConfig())
	}
	logger.Info("database opened", "path", filepath.Join(dataPath, "badgerdb"))
	return db, nil
}

func (n *Node) Start() error {
	n.logger.Info("starting synthd",
		"owner", n.config.Owner,
		"http", n.config.HTTPPort,
		"ws", n.config.WSPort)

	// JSON-RPC API
	rpc := api.NewJSONRPCServer(n.engine).WithBalances(n.ledger)
	mux := http.NewServeMux()
	mux.Handle("/rpc", rpc)
	n.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", n.config.HTTPPort),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			n.logger.Error("HTTP server error", "error", err)
		}
	}()

	// WebSocket event stream
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.ws.Start(n.config.WSPort); err != nil {
			n.logger.Error("WebSocket server error", "error", err)
		}
	}()

	// Prometheus metrics
	if n.metrics != nil {
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			addr := fmt.Sprintf(":%d", n.config.MetricsPort)
			if err := n.metrics.Serve(n.ctx, addr); err != nil {
				n.logger.Error("metrics server error", "error", err)
			}
		}()
		n.wg.Add(1)
		go n.refreshGauges()
	}

	// Periodic snapshots
	if n.config.SnapshotEvery > 0 {
		n.wg.Add(1)
		go n.snapshotLoop()
	}

	n.logger.Info("synthd started")
	return nil
}

// refreshGauges keeps supply and position gauges in sync with the engine
func (n *Node) refreshGauges() {
	defer n.wg.Done()

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			n.metrics.UpdateFromEngine(n.engine)
		}
	}
}

// snapshotLoop persists engine state on an interval
func (n *Node) snapshotLoop() {
	defer n.wg.Done()

	ticker := time.NewTicker(n.config.SnapshotEvery)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			if err := n.saveSnapshot(); err != nil {
				n.logger.Error("snapshot failed", "error", err)
			}
		}
	}
}

func (n *Node) saveSnapshot() error {
	return n.store.SaveSnapshot(n.engine.Snapshot())
}

func (n *Node) Shutdown() {
	n.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if n.httpServer != nil {
		n.httpServer.Shutdown(shutdownCtx)
	}
	n.ws.Stop()
	n.cancel()
	n.wg.Wait()

	if err := n.saveSnapshot(); err != nil {
		n.logger.Error("final snapshot failed", "error", err)
	}

	if n.nats != nil {
		n.nats.Close()
	}
	if err := n.store.Close(); err != nil {
		n.logger.Error("database close failed", "error", err)
	}

	n.logger.Info("shutdown complete")
}

func main() {
	config := &Config{}

	flag.StringVar(&config.DataDir, "data-dir", defaultDataDir, "Data directory (relative to $HOME)")
	flag.StringVar(&config.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	flag.IntVar(&config.HTTPPort, "http-port", defaultHTTPPort, "JSON-RPC API port")
	flag.IntVar(&config.WSPort, "ws-port", defaultWSPort, "WebSocket event stream port")
	flag.IntVar(&config.MetricsPort, "metrics-port", defaultMetricsPort, "Prometheus metrics port")

	flag.StringVar(&config.Owner, "owner", "owner", "Protocol owner identity")
	flag.StringVar(&config.PriceFeeder, "price-feeder", "", "Delegated price authority identity (defaults to owner)")
	flag.Uint64Var(&config.PenaltyBps, "penalty-bps", 0, "Liquidation penalty in basis points (0 = default 500)")

	flag.StringVar(&config.NATSURL, "nats-url", "", "NATS server URL for event publishing (empty = disabled)")
	flag.BoolVar(&config.EnableMetrics, "enable-metrics", true, "Enable Prometheus metrics")

	snapshotEvery := flag.Duration("snapshot-every", 30*time.Second, "State snapshot interval (0 = shutdown only)")
	flag.BoolVar(&config.InMemory, "in-memory", false, "Use an in-memory database")

	flag.Parse()
	config.SnapshotEvery = *snapshotEvery

	node, err := NewNode(config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create node: %v\n", err)
		os.Exit(1)
	}

	if err := node.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start node: %v\n", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	node.logger.Info("received signal", "signal", sig.String())

	node.Shutdown()
}
