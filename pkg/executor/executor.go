// Package executor runs transactions against the ledger.
//
// Each transaction gets its own fee reserve and track over a staging overlay
// of the ledger. Only a committed receipt applies the staging overlay, so a
// rejected or aborted transaction leaves the ledger untouched, including the
// fee vault withdrawals made through write-through locks.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/fortiblox/X1-Engine/pkg/fee"
	"github.com/fortiblox/X1-Engine/pkg/ledger"
	"github.com/fortiblox/X1-Engine/pkg/metrics"
	"github.com/fortiblox/X1-Engine/pkg/receipts"
	"github.com/fortiblox/X1-Engine/pkg/track"
	"go.uber.org/zap"
)

var (
	// ErrNotXRD is returned when a fee is locked from a non-XRD vault.
	ErrNotXRD = errors.New("fee vault does not hold XRD")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("executor closed")
)

// Invocation is the business logic of a transaction.
type Invocation func(ctx context.Context, api *SystemAPI) ([][]byte, error)

// Archive stores receipts.
type Archive interface {
	Put(rec *receipts.Record) error
}

// Config holds executor configuration.
type Config struct {
	// Fee configures the reserve of every transaction.
	Fee fee.Params

	// Table prices metered operations.
	Table *fee.Table
}

// DefaultConfig returns the default executor configuration.
func DefaultConfig() Config {
	return Config{
		Fee:   fee.DefaultParams(),
		Table: fee.DefaultTable(),
	}
}

// Executor runs transactions one at a time against a ledger store.
type Executor struct {
	mu     sync.Mutex
	store  ledger.Store
	config Config
	closed bool

	archive Archive
	metrics *metrics.Engine
	logger  *zap.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithMetrics sets the metrics collectors.
func WithMetrics(m *metrics.Engine) Option {
	return func(e *Executor) { e.metrics = m }
}

// WithArchive stores every receipt in a.
func WithArchive(a Archive) Option {
	return func(e *Executor) { e.archive = a }
}

// New creates an executor over store.
func New(store ledger.Store, config Config, opts ...Option) *Executor {
	if config.Table == nil {
		config.Table = fee.DefaultTable()
	}
	e := &Executor{
		store:  store,
		config: config,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = metrics.NewNop()
	}
	return e
}

// Execute runs one transaction and returns its receipt. The error is
// reserved for failures outside the transaction: a cancelled context before
// start, ledger or archive failures.
func (e *Executor) Execute(ctx context.Context, tx track.Transaction, invoke Invocation) (*track.Receipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()

	reserve, err := fee.NewReserve(e.config.Fee)
	if err != nil {
		return nil, fmt.Errorf("fee reserve: %w", err)
	}
	staging := ledger.NewOverlay(e.store)
	tr := track.New(staging, reserve, e.config.Table,
		track.WithLogger(e.logger),
		track.WithTxHash(tx.Hash))

	receipt, err := e.run(ctx, tr, tx, invoke)
	if err != nil {
		staging.Rollback()
		return nil, err
	}

	if receipt.Commit() != nil {
		if err := staging.Commit(); err != nil {
			return nil, fmt.Errorf("commit %s: %w", tx.Hash, err)
		}
	} else {
		staging.Rollback()
	}

	e.observe(receipt, time.Since(start))
	if e.archive != nil {
		if err := e.archive.Put(receipts.FromReceipt(tx.Hash, receipt)); err != nil {
			return receipt, fmt.Errorf("archive %s: %w", tx.Hash, err)
		}
	}
	e.logger.Info("transaction executed",
		zap.Stringer("tx", tx.Hash),
		zap.String("outcome", receipt.OutcomeName()),
		zap.Uint32("cost_units", receipt.FeeSummary.TotalCostUnitsConsumed))
	return receipt, nil
}

// run charges pre-execution costs, invokes the business logic and finalizes.
func (e *Executor) run(ctx context.Context, tr *track.Track, tx track.Transaction, invoke Invocation) (*track.Receipt, error) {
	if _, err := tr.ApplyPreExecutionCosts(tx); err != nil {
		var pre *track.PreExecutionError
		if !errors.As(err, &pre) {
			return nil, err
		}
		return &track.Receipt{
			FeeSummary: pre.Summary,
			Result:     &track.RejectResult{Reason: err},
		}, nil
	}

	api := newSystemAPI(ctx, tr, e.metrics)
	outputs, err := e.invoke(ctx, api, invoke)
	result := track.InvokeResult{Outputs: outputs, Err: err}
	if err != nil {
		result.Outputs = nil
	}
	return tr.Finalize(result, api.changes)
}

// invoke runs the business logic, turning a panic into a failed invocation.
func (e *Executor) invoke(ctx context.Context, api *SystemAPI, invoke Invocation) (outputs [][]byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("invocation panicked", zap.Any("panic", r))
			err = fmt.Errorf("invocation panicked: %v", r)
		}
	}()
	return invoke(ctx, api)
}

func (e *Executor) observe(receipt *track.Receipt, elapsed time.Duration) {
	e.metrics.ObserveTransaction(receipt.OutcomeName(), elapsed.Seconds())

	summary := receipt.FeeSummary
	for reason, units := range summary.ExecutionBreakdown {
		e.metrics.AddCostUnits(reason.String(), units)
	}
	var royalty uint32
	for _, units := range summary.RoyaltyBreakdown {
		royalty += units
	}
	e.metrics.AddCostUnits("Royalty", royalty)

	if !summary.LoanFullyRepaid() {
		e.metrics.IncBadDebt()
	}
	if commit := receipt.Commit(); commit != nil {
		if xrd, err := strconv.ParseFloat(commit.FeeCollected.String(), 64); err == nil {
			e.metrics.AddFeeCollected(xrd)
		}
	}
}

// Close stops accepting transactions. It does not close the store.
func (e *Executor) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
}
