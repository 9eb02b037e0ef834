package fee

import "fmt"

// CostingReason attributes consumed cost units to a kind of work.
type CostingReason uint8

// Costing reasons.
const (
	TxBaseCost CostingReason = iota
	TxPayloadCost
	TxSignatureVerification
	Invoke
	DropNode
	CreateNode
	LockSubstate
	ReadSubstate
	WriteSubstate
	DropLock
	RunWasm
	RunNative

	reasonCount
)

var reasonNames = [reasonCount]string{
	TxBaseCost:              "TxBaseCost",
	TxPayloadCost:           "TxPayloadCost",
	TxSignatureVerification: "TxSignatureVerification",
	Invoke:                  "Invoke",
	DropNode:                "DropNode",
	CreateNode:              "CreateNode",
	LockSubstate:            "LockSubstate",
	ReadSubstate:            "ReadSubstate",
	WriteSubstate:           "WriteSubstate",
	DropLock:                "DropLock",
	RunWasm:                 "RunWasm",
	RunNative:               "RunNative",
}

func (r CostingReason) String() string {
	if r < reasonCount {
		return reasonNames[r]
	}
	return fmt.Sprintf("CostingReason(%d)", uint8(r))
}

// AllReasons returns every costing reason in declaration order.
func AllReasons() []CostingReason {
	out := make([]CostingReason, reasonCount)
	for i := range out {
		out[i] = CostingReason(i)
	}
	return out
}
