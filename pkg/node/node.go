// Package node assembles an engine from its configuration.
//
// The Node ties together:
// - the ledger store selected by the configuration
// - the receipt archive
// - the executor and its metrics
//
// Submitted transactions are queued and executed one at a time by a
// processing loop, in submission order.
package node

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fortiblox/X1-Engine/pkg/config"
	"github.com/fortiblox/X1-Engine/pkg/executor"
	"github.com/fortiblox/X1-Engine/pkg/ledger"
	"github.com/fortiblox/X1-Engine/pkg/metrics"
	"github.com/fortiblox/X1-Engine/pkg/receipts"
	"github.com/fortiblox/X1-Engine/pkg/track"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Node errors.
var (
	ErrAlreadyRunning = errors.New("node is already running")
	ErrNotRunning     = errors.New("node is not running")
	ErrShuttingDown   = errors.New("node is shutting down")
	ErrInitFailed     = errors.New("node initialization failed")
)

// queueSize bounds the number of submitted transactions awaiting execution.
const queueSize = 256

type job struct {
	ctx    context.Context
	tx     track.Transaction
	invoke executor.Invocation
	done   chan jobResult
}

type jobResult struct {
	receipt *track.Receipt
	err     error
}

// Node is a running engine.
type Node struct {
	config *config.Config
	logger *zap.Logger

	store    ledger.Store
	closers  []io.Closer
	receipts *receipts.BoltStore
	executor *executor.Executor
	registry *prometheus.Registry

	running      atomic.Bool
	shuttingDown atomic.Bool
	startTime    time.Time
	txsProcessed atomic.Uint64
	lastError    error
	lastErrorMu  sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	queue  chan *job
}

// New opens the storage named by cfg and builds the executor.
// The node does not execute anything until Start is called.
func New(cfg *config.Config, logger *zap.Logger) (*Node, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	n := &Node{
		config:   cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		queue:    make(chan *job, queueSize),
	}
	if err := n.initialize(); err != nil {
		n.closeStorage()
		return nil, fmt.Errorf("%w: %v", ErrInitFailed, err)
	}
	return n, nil
}

// initialize opens the ledger and the receipt archive and builds the executor.
func (n *Node) initialize() error {
	store, closer, err := OpenLedger(n.config.Ledger, n.logger)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	n.store = store
	n.closers = append(n.closers, closer)

	m, err := metrics.New(n.registry)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	opts := []executor.Option{
		executor.WithLogger(n.logger.Named("executor")),
		executor.WithMetrics(m),
	}

	if path := n.config.Receipts.Path; path != "" {
		rcfg := receipts.DefaultConfig(path)
		rcfg.RetainReceipts = n.config.Receipts.RetainReceipts
		rs, err := receipts.Open(rcfg, n.logger.Named("receipts"))
		if err != nil {
			return fmt.Errorf("open receipts: %w", err)
		}
		n.receipts = rs
		n.closers = append(n.closers, rs)
		opts = append(opts, executor.WithArchive(rs))
	}

	table := n.config.FeeTable
	n.executor = executor.New(n.store, executor.Config{
		Fee:   n.config.Fee.Params(),
		Table: &table,
	}, opts...)
	return nil
}

// Start begins processing submitted transactions.
func (n *Node) Start(ctx context.Context) error {
	if n.shuttingDown.Load() {
		return ErrShuttingDown
	}
	if !n.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	n.ctx, n.cancel = context.WithCancel(ctx)
	n.startTime = time.Now()

	n.wg.Add(1)
	go n.processingLoop()

	n.logger.Info("node started",
		zap.String("ledger", n.config.Ledger.Backend),
		zap.Bool("receipts", n.receipts != nil))
	return nil
}

// Submit queues a transaction and waits for its receipt.
func (n *Node) Submit(ctx context.Context, tx track.Transaction, invoke executor.Invocation) (*track.Receipt, error) {
	if !n.running.Load() {
		return nil, ErrNotRunning
	}
	if n.shuttingDown.Load() {
		return nil, ErrShuttingDown
	}

	j := &job{ctx: ctx, tx: tx, invoke: invoke, done: make(chan jobResult, 1)}
	select {
	case n.queue <- j:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-n.ctx.Done():
		return nil, ErrShuttingDown
	}

	select {
	case res := <-j.done:
		return res.receipt, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-n.ctx.Done():
		return nil, ErrShuttingDown
	}
}

// processingLoop executes queued transactions in order.
func (n *Node) processingLoop() {
	defer n.wg.Done()

	for {
		select {
		case <-n.ctx.Done():
			return
		case j := <-n.queue:
			receipt, err := n.executor.Execute(j.ctx, j.tx, j.invoke)
			if err != nil {
				n.setLastError(fmt.Errorf("execute %s: %w", j.tx.Hash, err))
				n.logger.Error("transaction failed to execute",
					zap.Stringer("tx", j.tx.Hash), zap.Error(err))
			} else {
				n.txsProcessed.Add(1)
			}
			j.done <- jobResult{receipt: receipt, err: err}
		}
	}
}

// Stop stops processing and closes all storage.
func (n *Node) Stop() error {
	if !n.running.Load() {
		return ErrNotRunning
	}
	if !n.shuttingDown.CompareAndSwap(false, true) {
		return ErrShuttingDown
	}

	n.cancel()
	n.wg.Wait()
	n.running.Store(false)

	n.executor.Close()
	err := n.closeStorage()
	n.logger.Info("node stopped", zap.Uint64("transactions", n.txsProcessed.Load()))
	return err
}

// Close stops the node if it is running and closes its storage.
func (n *Node) Close() error {
	if n.running.Load() {
		return n.Stop()
	}
	return n.closeStorage()
}

// closeStorage closes the receipt archive and the ledger, newest first.
func (n *Node) closeStorage() error {
	var errs []error
	for i := len(n.closers) - 1; i >= 0; i-- {
		if err := n.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	n.closers = nil
	return errors.Join(errs...)
}

// Status is a point-in-time view of the node.
type Status struct {
	Running      bool
	Uptime       time.Duration
	TxsProcessed uint64
	QueueDepth   int
	Receipts     uint64
	Substates    uint64
	LastError    string
}

// Status returns the node status.
func (n *Node) Status() *Status {
	s := &Status{
		Running:      n.running.Load(),
		TxsProcessed: n.txsProcessed.Load(),
		QueueDepth:   len(n.queue),
	}
	if s.Running {
		s.Uptime = time.Since(n.startTime)
	}
	if n.receipts != nil {
		s.Receipts = n.receipts.Count()
	}
	store := n.store
	if cached, ok := store.(*ledger.CachedStore); ok {
		store = cached.Inner()
	}
	switch st := store.(type) {
	case *ledger.BadgerStore:
		s.Substates = st.Count()
	case *ledger.MemoryStore:
		s.Substates = uint64(st.Len())
	}
	if err := n.getLastError(); err != nil {
		s.LastError = err.Error()
	}
	return s
}

// Config returns the node configuration.
func (n *Node) Config() *config.Config { return n.config }

// Ledger returns the ledger store.
func (n *Node) Ledger() ledger.Store { return n.store }

// Receipts returns the receipt archive, or nil if it is disabled.
func (n *Node) Receipts() *receipts.BoltStore { return n.receipts }

// Registry returns the metrics registry.
func (n *Node) Registry() *prometheus.Registry { return n.registry }

func (n *Node) setLastError(err error) {
	n.lastErrorMu.Lock()
	defer n.lastErrorMu.Unlock()
	n.lastError = err
}

func (n *Node) getLastError() error {
	n.lastErrorMu.RLock()
	defer n.lastErrorMu.RUnlock()
	return n.lastError
}
