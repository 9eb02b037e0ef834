package rpc

import (
	"encoding/json"

	"github.com/fortiblox/X1-Engine/internal/types"
	"github.com/fortiblox/X1-Engine/pkg/fee"
)

// JSON-RPC 2.0 constants.
const (
	JSONRPCVersion = "2.0"
)

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC 2.0 error.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Encoding types for substate values.
type Encoding string

const (
	EncodingJSON       Encoding = "json"
	EncodingBase58     Encoding = "base58"
	EncodingBase64     Encoding = "base64"
	EncodingBase64Zstd Encoding = "base64+zstd"
)

// SubstateConfig is the optional configuration of substate queries.
type SubstateConfig struct {
	Encoding Encoding `json:"encoding,omitempty"`
}

// SubstateInfo is a substate as returned by getSubstate.
type SubstateInfo struct {
	ID      string      `json:"id"`
	Kind    string      `json:"kind"`
	Version uint32      `json:"version"`
	Hash    types.Hash  `json:"hash"`
	Value   interface{} `json:"value"`
}

// VaultBalance is the result of getVaultBalance.
type VaultBalance struct {
	Vault    types.NodeID  `json:"vault"`
	Resource types.NodeID  `json:"resource"`
	Fungible bool          `json:"fungible"`
	Amount   types.Decimal `json:"amount"`
	Version  uint32        `json:"version"`
}

// NodeStatus is the result of getStatus.
type NodeStatus struct {
	Running       bool   `json:"running"`
	UptimeSeconds int64  `json:"uptimeSeconds"`
	Transactions  uint64 `json:"transactions"`
	QueueDepth    int    `json:"queueDepth"`
	Receipts      uint64 `json:"receipts"`
	Substates     uint64 `json:"substates"`
	LastError     string `json:"lastError,omitempty"`
}

// FeeSchedule is the result of getFeeTable.
type FeeSchedule struct {
	CostUnitPrice       types.Decimal `json:"costUnitPrice"`
	TipPercentage       uint16        `json:"tipPercentage"`
	CostUnitLimit       uint32        `json:"costUnitLimit"`
	SystemLoan          uint32        `json:"systemLoan"`
	AbortWhenLoanRepaid bool          `json:"abortWhenLoanRepaid"`
	Table               fee.Table     `json:"table"`
}

// VersionInfo is the result of getVersion.
type VersionInfo struct {
	Engine    string `json:"x1-engine"`
	GitCommit string `json:"gitCommit"`
}
