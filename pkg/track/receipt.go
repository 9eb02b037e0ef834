package track

import (
	"github.com/fortiblox/X1-Engine/internal/types"
	"github.com/fortiblox/X1-Engine/pkg/fee"
)

// LogLevel is the severity of an application log.
type LogLevel uint8

// Log levels.
const (
	LevelError LogLevel = iota
	LevelWarn
	LevelInfo
	LevelDebug
	LevelTrace
)

func (l LogLevel) String() string {
	switch l {
	case LevelError:
		return "ERROR"
	case LevelWarn:
		return "WARN"
	case LevelInfo:
		return "INFO"
	case LevelDebug:
		return "DEBUG"
	default:
		return "TRACE"
	}
}

// Log is an application log emitted during execution.
type Log struct {
	Level   LogLevel
	Message string
}

// Transaction carries the sizes that pre-execution costs are charged on.
type Transaction struct {
	Hash           types.Hash
	ManifestSize   int
	SignatureCount int
	BlobsSize      int
}

// InvokeResult is the outcome of the business logic.
// Err is nil on success.
type InvokeResult struct {
	Outputs [][]byte
	Err     error
}

// Success returns a successful invoke result.
func Success(outputs ...[]byte) InvokeResult {
	return InvokeResult{Outputs: outputs}
}

// Failure returns a failed invoke result.
func Failure(err error) InvokeResult {
	return InvokeResult{Err: err}
}

// ResourceChange is a balance change of a vault, reported in the receipt.
type ResourceChange struct {
	Component types.NodeID
	Vault     types.NodeID
	Resource  types.NodeID
	Amount    types.Decimal
	Withdraw  bool
}

// EntityChanges lists the global entities created by a transaction.
type EntityChanges struct {
	NewComponents []types.NodeID
	NewResources  []types.NodeID
	NewPackages   []types.NodeID
}

// Outcome is the recorded result of a committed transaction.
type Outcome struct {
	Outputs [][]byte
	Err     error
}

// Succeeded reports whether the business logic succeeded.
func (o Outcome) Succeeded() bool { return o.Err == nil }

// Result is one of *CommitResult, *RejectResult or *AbortResult.
type Result interface {
	isResult()
}

// CommitResult is a transaction that was charged and whose diff was applied.
type CommitResult struct {
	Outcome         Outcome
	StateDiff       *StateDiff
	EntityChanges   EntityChanges
	ResourceChanges []ResourceChange

	// FeeCollected is the amount kept by the fee collector after royalties.
	FeeCollected types.Decimal
}

// RejectResult is a transaction that left no trace in the ledger.
type RejectResult struct {
	Reason error
}

// AbortResult is a transaction terminated on purpose.
type AbortResult struct {
	Reason fee.AbortReason
}

func (*CommitResult) isResult() {}
func (*RejectResult) isResult() {}
func (*AbortResult) isResult()  {}

// Receipt is produced by Finalize.
type Receipt struct {
	FeeSummary *fee.Summary
	Logs       []Log
	Result     Result
}

// Commit returns the commit result, or nil if the transaction did not commit.
func (r *Receipt) Commit() *CommitResult {
	c, _ := r.Result.(*CommitResult)
	return c
}

// OutcomeName returns "commit_success", "commit_failure", "reject" or "abort".
func (r *Receipt) OutcomeName() string {
	switch res := r.Result.(type) {
	case *CommitResult:
		if res.Outcome.Succeeded() {
			return "commit_success"
		}
		return "commit_failure"
	case *RejectResult:
		return "reject"
	case *AbortResult:
		return "abort"
	default:
		return "unknown"
	}
}
