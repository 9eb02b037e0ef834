package rpc

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/fortiblox/X1-Engine/internal/types"
	"github.com/fortiblox/X1-Engine/pkg/ledger"
	"github.com/fortiblox/X1-Engine/pkg/receipts"
	"github.com/fortiblox/X1-Engine/pkg/substate"
)

const (
	// maxMultipleSubstates bounds getMultipleSubstates.
	maxMultipleSubstates = 100

	// maxLatestReceipts bounds getLatestReceipts.
	maxLatestReceipts = 1000
)

// parseArgs unmarshals positional params. Missing params are an empty list.
func parseArgs(params json.RawMessage) ([]json.RawMessage, *RPCError) {
	var args []json.RawMessage
	if len(params) == 0 {
		return args, nil
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return nil, InvalidParamsError("invalid params")
	}
	return args, nil
}

// parseSubstateConfig parses the optional config at args[i].
func parseSubstateConfig(args []json.RawMessage, i int) (Encoding, *RPCError) {
	var config SubstateConfig
	if len(args) > i {
		if err := json.Unmarshal(args[i], &config); err != nil {
			return "", InvalidParamsError("invalid config")
		}
	}
	enc, ok := ParseEncoding(string(config.Encoding))
	if !ok {
		return "", InvalidParamsErrorf("unsupported encoding: %s", config.Encoding)
	}
	return enc, nil
}

// Ledger Methods

// getSubstate returns one substate: [id, config?].
func (s *Server) getSubstate(params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if len(args) < 1 {
		return nil, InvalidParamsError("missing substate id parameter")
	}

	var idStr string
	if err := json.Unmarshal(args[0], &idStr); err != nil {
		return nil, InvalidParamsError("invalid substate id")
	}
	id, err := substate.ParseID(idStr)
	if err != nil {
		return nil, InvalidParamsErrorf("invalid substate id: %v", err)
	}
	encoding, rpcErr := parseSubstateConfig(args, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}

	info, rpcErr := s.lookupSubstate(id, encoding)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if info == nil {
		return nil, SubstateNotFoundError(idStr)
	}
	return info, nil
}

// getMultipleSubstates returns several substates: [[ids], config?].
// Missing substates are returned as null.
func (s *Server) getMultipleSubstates(params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if len(args) < 1 {
		return nil, InvalidParamsError("missing substate ids parameter")
	}

	var idStrs []string
	if err := json.Unmarshal(args[0], &idStrs); err != nil {
		return nil, InvalidParamsError("invalid substate ids")
	}
	if len(idStrs) > maxMultipleSubstates {
		return nil, InvalidParamsErrorf("too many substate ids (max %d)", maxMultipleSubstates)
	}
	encoding, rpcErr := parseSubstateConfig(args, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}

	ids := make([]substate.ID, len(idStrs))
	for i, idStr := range idStrs {
		id, err := substate.ParseID(idStr)
		if err != nil {
			return nil, InvalidParamsErrorf("invalid substate id at index %d: %v", i, err)
		}
		ids[i] = id
	}

	results := make([]*SubstateInfo, len(ids))
	for i, id := range ids {
		info, rpcErr := s.lookupSubstate(id, encoding)
		if rpcErr != nil {
			return nil, rpcErr
		}
		results[i] = info
	}
	return results, nil
}

// getVaultBalance returns the contents of a vault: [vaultNodeID].
func (s *Server) getVaultBalance(params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if len(args) < 1 {
		return nil, InvalidParamsError("missing vault parameter")
	}

	var vaultStr string
	if err := json.Unmarshal(args[0], &vaultStr); err != nil {
		return nil, InvalidParamsError("invalid vault")
	}
	vault, err := types.NodeIDFromBase58(vaultStr)
	if err != nil {
		return nil, InvalidParamsError("invalid vault format")
	}
	if vault.EntityType() != types.EntityVault {
		return nil, InvalidParamsErrorf("node %s is not a vault", vaultStr)
	}

	id := substate.VaultID(vault)
	out, err := s.node.Ledger().GetSubstate(id)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, SubstateNotFoundError(id.String())
		}
		return nil, InternalServerErrorf("failed to get vault: %v", err)
	}
	v, ok := out.Substate.(*substate.Vault)
	if !ok {
		return nil, InternalServerErrorf("substate %s is %s, not a vault", id, out.Substate.Kind())
	}

	return VaultBalance{
		Vault:    vault,
		Resource: v.Resource,
		Fungible: v.Fungible,
		Amount:   v.Amount,
		Version:  out.Version,
	}, nil
}

// lookupSubstate reads and encodes a substate. It returns nil if the
// substate doesn't exist.
func (s *Server) lookupSubstate(id substate.ID, encoding Encoding) (*SubstateInfo, *RPCError) {
	out, err := s.node.Ledger().GetSubstate(id)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, nil
		}
		return nil, InternalServerErrorf("failed to get substate: %v", err)
	}

	hash, err := ledger.HashSubstate(out.Substate)
	if err != nil {
		return nil, InternalServerErrorf("failed to hash substate: %v", err)
	}
	value, err := EncodeSubstate(out.Substate, encoding)
	if err != nil {
		return nil, InternalServerErrorf("failed to encode substate: %v", err)
	}
	return &SubstateInfo{
		ID:      id.String(),
		Kind:    out.Substate.Kind().String(),
		Version: out.Version,
		Hash:    hash,
		Value:   value,
	}, nil
}

// Receipt Methods

// getReceipt returns the archived receipt of a transaction: [txHash].
func (s *Server) getReceipt(params json.RawMessage) (interface{}, *RPCError) {
	store := s.node.Receipts()
	if store == nil {
		return nil, ErrReceiptsDisabled
	}

	args, rpcErr := parseArgs(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if len(args) < 1 {
		return nil, InvalidParamsError("missing transaction hash parameter")
	}

	var hashStr string
	if err := json.Unmarshal(args[0], &hashStr); err != nil {
		return nil, InvalidParamsError("invalid transaction hash")
	}
	hash, err := types.HashFromBase58(hashStr)
	if err != nil {
		return nil, InvalidParamsError("invalid transaction hash format")
	}

	rec, err := store.Get(hash)
	if err != nil {
		if errors.Is(err, receipts.ErrNotFound) {
			return nil, ReceiptNotFoundError(hashStr)
		}
		return nil, InternalServerErrorf("failed to get receipt: %v", err)
	}
	return rec, nil
}

// getLatestReceipts returns the most recent receipts: [limit?].
func (s *Server) getLatestReceipts(params json.RawMessage) (interface{}, *RPCError) {
	store := s.node.Receipts()
	if store == nil {
		return nil, ErrReceiptsDisabled
	}

	args, rpcErr := parseArgs(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	limit := 10
	if len(args) > 0 {
		if err := json.Unmarshal(args[0], &limit); err != nil {
			return nil, InvalidParamsError("invalid limit")
		}
	}
	if limit < 1 || limit > maxLatestReceipts {
		return nil, InvalidParamsErrorf("limit must be between 1 and %d", maxLatestReceipts)
	}

	recs, err := store.Latest(limit)
	if err != nil {
		return nil, InternalServerErrorf("failed to read receipts: %v", err)
	}
	if recs == nil {
		recs = []*receipts.Record{}
	}
	return recs, nil
}

// Node Methods

// getHealth returns "ok" if the node is healthy.
func (s *Server) getHealth(params json.RawMessage) (interface{}, *RPCError) {
	if !s.IsHealthy() {
		return nil, ErrNodeUnhealthy
	}
	return "ok", nil
}

// getStatus returns the node status.
func (s *Server) getStatus(params json.RawMessage) (interface{}, *RPCError) {
	st := s.node.Status()
	return NodeStatus{
		Running:       st.Running,
		UptimeSeconds: int64(st.Uptime / time.Second),
		Transactions:  st.TxsProcessed,
		QueueDepth:    st.QueueDepth,
		Receipts:      st.Receipts,
		Substates:     st.Substates,
		LastError:     st.LastError,
	}, nil
}

// getVersion returns the engine version.
func (s *Server) getVersion(params json.RawMessage) (interface{}, *RPCError) {
	return VersionInfo{
		Engine:    s.config.Version,
		GitCommit: s.config.GitCommit,
	}, nil
}

// getFeeTable returns the fee parameters and cost unit table of the node.
func (s *Server) getFeeTable(params json.RawMessage) (interface{}, *RPCError) {
	cfg := s.node.Config()
	p := cfg.Fee.Params()
	return FeeSchedule{
		CostUnitPrice:       p.CostUnitPrice,
		TipPercentage:       p.TipPercentage,
		CostUnitLimit:       p.CostUnitLimit,
		SystemLoan:          p.SystemLoan,
		AbortWhenLoanRepaid: p.AbortWhenLoanRepaid,
		Table:               cfg.FeeTable,
	}, nil
}
