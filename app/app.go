// Copyright © 2022-2025 Obol Labs Inc. Licensed under the terms of a Business Source License 1.1

// Package app provides the top app-level abstraction and entrypoint for a lockreward node.
// The sub-packages also provide app-level functionality.
package app

import (
	"context"
	"net/http"
	"time"

	k1 "github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/obolnetwork/lockreward/app/errors"
	"github.com/obolnetwork/lockreward/app/k1util"
	"github.com/obolnetwork/lockreward/app/lifecycle"
	"github.com/obolnetwork/lockreward/app/log"
	"github.com/obolnetwork/lockreward/app/promauto"
	"github.com/obolnetwork/lockreward/app/tracer"
	"github.com/obolnetwork/lockreward/app/version"
	"github.com/obolnetwork/lockreward/app/z"
	"github.com/obolnetwork/lockreward/core"
	"github.com/obolnetwork/lockreward/core/chain"
	"github.com/obolnetwork/lockreward/core/chain/rpcchain"
	"github.com/obolnetwork/lockreward/core/liveness"
	"github.com/obolnetwork/lockreward/core/lockreward"
	"github.com/obolnetwork/lockreward/core/lrex"
	"github.com/obolnetwork/lockreward/core/metadata"
	"github.com/obolnetwork/lockreward/core/quorum"
	"github.com/obolnetwork/lockreward/core/registry"
	"github.com/obolnetwork/lockreward/core/scheduler"
	"github.com/obolnetwork/lockreward/core/statement"
	"github.com/obolnetwork/lockreward/core/validator"
	"github.com/obolnetwork/lockreward/core/windowdb"
	"github.com/obolnetwork/lockreward/db"
	"github.com/obolnetwork/lockreward/p2p"
)

const hashCacheSize = 4096

// Config is the lockreward node configuration.
type Config struct {
	P2P            p2p.Config
	Log            log.Config
	RPC            rpcchain.Config
	Network        string
	DataDir        string
	PrivKeyFile    string
	MetadataFile   string
	Outpoint       string
	MonitoringAddr string
	OTLPAddress    string
	PollPeriod     time.Duration

	TestConfig TestConfig
}

// TestConfig defines additional test-only config.
type TestConfig struct {
	// Chain provides the base chain instead of the JSON-RPC client.
	Chain core.Chain
	// Registrar embeds registrations instead of the JSON-RPC client.
	Registrar core.Registrar
	// TCPNodeCallback provides test logic access to the libp2p host.
	TCPNodeCallback func(host.Host)
	// BlockCallback is subscribed to the scheduler after the engine.
	BlockCallback func(context.Context, int64) error
}

// chainClient is the base chain client embedding registrations.
type chainClient interface {
	core.Chain
	core.Registrar
}

// Run is the entrypoint for running a lockreward node.
// It returns an error when shutdown failed or when the node failed to start.
func Run(ctx context.Context, conf Config) (err error) {
	ctx = log.WithTopic(ctx, "app-start")
	defer func() {
		if err != nil {
			log.Error(ctx, "Fatal error", err)
		}
	}()

	if err := log.InitLogger(conf.Log); err != nil {
		return err
	}

	version.LogInfo(ctx, "Lockreward node starting")
	initStartupMetrics()

	params, err := core.ParamsForNetwork(conf.Network)
	if err != nil {
		return err
	}

	key, err := k1util.Load(conf.PrivKeyFile)
	if err != nil {
		return err
	}

	var self core.Outpoint
	if conf.Outpoint != "" {
		self, err = core.ParseOutpoint(conf.Outpoint)
		if err != nil {
			return err
		}
	}

	life := new(lifecycle.Manager)

	if err := wireTracing(ctx, life, conf); err != nil {
		return err
	}

	database, err := db.Open(conf.DataDir)
	if err != nil {
		return err
	}
	life.RegisterStop(lifecycle.StopSnapshotDB, lifecycle.HookFuncErr(database.Close))

	reg := registry.New()
	stmt := statement.New(params, reg)

	startHeight, err := restoreSnapshot(ctx, database, reg, stmt)
	if err != nil {
		return err
	}

	dir := metadata.NewDirectory()
	if conf.MetadataFile != "" {
		if err := dir.LoadFile(conf.MetadataFile); err != nil {
			return err
		}
	}

	chainCl, err := newChainClient(life, conf, params)
	if err != nil {
		return err
	}

	hashes, err := chain.NewHashCache(hashCacheSize)
	if err != nil {
		return err
	}

	scorer := quorum.New(hashes, reg, params.ScoreLag)

	tcpNode, err := wireP2P(ctx, life, conf, key)
	if err != nil {
		return err
	}

	penalizer, err := p2p.NewPenalizer(tcpNode)
	if err != nil {
		return err
	}

	sender := new(p2p.Sender)
	ex := lrex.New(tcpNode, sender.SendAsync)
	liveServer := liveness.NewServer(tcpNode)
	verifier := liveness.NewVerifier(tcpNode)

	engine, err := lockreward.New(lockreward.Config{
		Params:    params,
		Key:       key,
		Self:      self,
		Registry:  reg,
		Statement: stmt,
		Scorer:    scorer,
		Directory: dir,
		Store:     windowdb.NewMemDB(),
		Verifier:  verifier,
		Dialer:    verifier,
		Penalizer: penalizer,
	})
	if err != nil {
		return err
	}

	checker := lockreward.NewChecker(params, reg, scorer, dir)
	val := validator.New(params, stmt, dir, chainCl, checker, database)

	sched := scheduler.New(scheduler.Config{
		Params:      params,
		Chain:       chainCl,
		Registry:    reg,
		Statement:   stmt,
		Hashes:      hashes,
		Importer:    val,
		Executor:    engine,
		StartHeight: startHeight,
		PollPeriod:  conf.PollPeriod,
	})

	registrar := core.Registrar(chainCl)
	if conf.TestConfig.Registrar != nil {
		registrar = conf.TestConfig.Registrar
	}

	core.Wire(sched, engine, ex, liveServer, newRetryRegistrar(registrar), core.WithTracing())

	if conf.TestConfig.BlockCallback != nil {
		sched.Subscribe(conf.TestConfig.BlockCallback)
	}

	promRegistry, err := promauto.NewRegistry(prometheus.Labels{
		"network": params.Network,
		"peer":    p2p.PeerName(tcpNode.ID()),
	})
	if err != nil {
		return err
	}

	wireMonitoringAPI(ctx, life, conf.MonitoringAddr, tcpNode, promRegistry, readyChecker(chainCl, sched, tcpNode, len(conf.P2P.Peers)))

	life.RegisterStart(lifecycle.AsyncAppCtx, lifecycle.StartEngine, lifecycle.HookFuncCtx(func(ctx context.Context) {
		_ = engine.Run(ctx)
	}))

	schedDone := make(chan struct{})
	life.RegisterStart(lifecycle.AsyncAppCtx, lifecycle.StartScheduler, lifecycle.HookFunc(func(ctx context.Context) error {
		defer close(schedDone)
		backfillHashes(ctx, chainCl, hashes, startHeight-params.ScoreLag-params.WindowLimit, startHeight)

		return sched.Run(ctx)
	}))
	life.RegisterStop(lifecycle.StopScheduler, lifecycle.HookFunc(func(ctx context.Context) error {
		select {
		case <-schedDone:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}))

	life.RegisterStop(lifecycle.StopSnapshotSave, lifecycle.HookFunc(func(ctx context.Context) error {
		return saveSnapshot(ctx, database, reg, stmt, sched.Height(), params.LockRewardScanDepth())
	}))

	return life.Run(ctx)
}

// newChainClient returns the configured base chain client.
func newChainClient(life *lifecycle.Manager, conf Config, params core.Params) (chainClient, error) {
	if conf.TestConfig.Chain != nil {
		return testChain{Chain: conf.TestConfig.Chain}, nil
	}

	cl, err := rpcchain.New(conf.RPC, params)
	if err != nil {
		return nil, err
	}
	life.RegisterStop(lifecycle.StopSnapshotDB, lifecycle.HookFuncMin(cl.Close))

	return cl, nil
}

// testChain wraps a test chain that doesn't support registering.
type testChain struct {
	core.Chain
}

func (testChain) Register(context.Context, core.Registration) error {
	return errors.New("registering not supported by test chain")
}

// wireP2P constructs the libp2p host and registers its life cycle hooks.
func wireP2P(ctx context.Context, life *lifecycle.Manager, conf Config, key *k1.PrivateKey) (host.Host, error) {
	peers, err := conf.P2P.PeerAddrInfos()
	if err != nil {
		return nil, err
	}

	tcpNode, err := p2p.NewTCPNode(ctx, conf.P2P, key)
	if err != nil {
		return nil, err
	}
	life.RegisterStop(lifecycle.StopP2PNode, lifecycle.HookFuncErr(tcpNode.Close))

	if conf.TestConfig.TCPNodeCallback != nil {
		conf.TestConfig.TCPNodeCallback(tcpNode)
	}

	p2p.RegisterConnectionLogger(ctx, tcpNode)
	life.RegisterStart(lifecycle.AsyncAppCtx, lifecycle.StartP2PRouters, p2p.NewConnector(tcpNode, peers))

	log.Info(ctx, "Libp2p host started",
		z.Str("peer", p2p.PeerName(tcpNode.ID())),
		z.Any("addrs", tcpNode.Addrs()),
		z.Int("peers", len(peers)),
	)

	return tcpNode, nil
}

// wireTracing constructs the global tracer and registers it with the life cycle manager.
func wireTracing(ctx context.Context, life *lifecycle.Manager, conf Config) error {
	stopTracer, err := tracer.Init(ctx, tracer.WithOTLPOrNoop(conf.OTLPAddress))
	if err != nil {
		return errors.Wrap(err, "init tracing")
	}

	life.RegisterStop(lifecycle.StopTracing, lifecycle.HookFunc(stopTracer))

	return nil
}

// restoreSnapshot restores the registry and statements from the latest snapshot
// and returns the last processed height.
func restoreSnapshot(ctx context.Context, database *db.DB, reg *registry.Registry, stmt *statement.Builder) (int64, error) {
	snapshot, ok, err := database.LoadSnapshot()
	if err != nil {
		return 0, err
	} else if !ok {
		log.Info(ctx, "No snapshot found, syncing from genesis")
		return 0, nil
	}

	if err := reg.Restore(snapshot.Records, snapshot.Staged); err != nil {
		return 0, errors.Wrap(err, "restore registry")
	}

	for _, tier := range core.AllTiers() {
		stmt.Restore(tier, snapshot.Windows[tier], snapshot.Statements[tier])
	}

	confirmed, staged := reg.Len()
	log.Info(ctx, "Restored snapshot",
		z.I64("height", snapshot.Height),
		z.Int("confirmed", confirmed),
		z.Int("staged", staged),
	)

	return snapshot.Height, nil
}

// saveSnapshot persists the registry and statements and prunes markers
// older than any registration lookup.
func saveSnapshot(ctx context.Context, database *db.DB, reg *registry.Registry, stmt *statement.Builder,
	height int64, scanDepth int64,
) error {
	snapshot := db.Snapshot{
		Height:     height,
		Records:    reg.Records(),
		Staged:     reg.Staged(),
		Windows:    make(map[core.Tier][]core.Window),
		Statements: make(map[core.Tier]int64),
	}
	for _, tier := range core.AllTiers() {
		snapshot.Windows[tier] = stmt.Windows(tier)
		snapshot.Statements[tier] = stmt.Tip(tier)
	}

	if err := database.SaveSnapshot(ctx, snapshot); err != nil {
		return err
	}

	pruned, err := database.PruneMarkers(height - 2*scanDepth)
	if err != nil {
		return err
	}

	log.Info(ctx, "Saved snapshot", z.I64("height", height), z.Int("pruned_markers", pruned))

	return nil
}

// backfillHashes records the block hashes of the range that seed quorum scores
// of heights around the start height.
func backfillHashes(ctx context.Context, cl core.Chain, hashes *chain.HashCache, from, to int64) {
	if from < 1 {
		from = 1
	}

	for h := from; h <= to && ctx.Err() == nil; h++ {
		block, err := cl.BlockByHeight(ctx, h)
		if err != nil {
			log.Warn(ctx, "Backfilling block hashes failed", err, z.I64("height", h))
			return
		}

		hashes.Record(h, block.Hash)
	}
}

// httpServeHook wraps a http.Server.ListenAndServe function, swallowing http.ErrServerClosed.
type httpServeHook func() error

func (h httpServeHook) Call(context.Context) error {
	err := h()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	} else if err != nil {
		return errors.Wrap(err, "serve")
	}

	return nil
}
