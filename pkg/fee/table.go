package fee

// Table lists the cost unit prices of metered operations.
type Table struct {
	// Pre-execution costs, charged as deferred costs.
	TxBaseFee                 uint32
	TxManifestDecodingPerByte uint32
	TxManifestVerifyPerByte   uint32
	TxSignatureVerification   uint32
	TxBlobPricePerByte        uint32

	// Runtime costs.
	InvokeBase         uint32
	InvokeInputPerByte uint32
	CreateNode         uint32
	DropNode           uint32
	LockSubstate       uint32
	ReadSubstate       uint32
	WriteSubstate      uint32
	DropLock           uint32
	RunNativeBase      uint32

	// WasmUnitsDivider converts wasm engine units to cost units.
	WasmUnitsDivider uint32
}

// DefaultTable returns the default fee table.
func DefaultTable() *Table {
	return &Table{
		TxBaseFee:                 50_000,
		TxManifestDecodingPerByte: 10,
		TxManifestVerifyPerByte:   10,
		TxSignatureVerification:   100_000,
		TxBlobPricePerByte:        5,

		InvokeBase:         10_000,
		InvokeInputPerByte: 1,
		CreateNode:         10_000,
		DropNode:           10_000,
		LockSubstate:       1_000,
		ReadSubstate:       1_000,
		WriteSubstate:      1_000,
		DropLock:           1_000,
		RunNativeBase:      5_000,

		WasmUnitsDivider: 3_000,
	}
}

// InvokeCost is the cost of an invocation with an encoded input of size bytes.
func (t *Table) InvokeCost(inputSize int) uint32 {
	return saturatingAdd(t.InvokeBase, saturatingMul(t.InvokeInputPerByte, inputSize))
}

// WasmCost converts wasm engine units to cost units.
func (t *Table) WasmCost(wasmUnits uint64) uint32 {
	if t.WasmUnitsDivider == 0 {
		return 0
	}
	units := wasmUnits / uint64(t.WasmUnitsDivider)
	if units > uint64(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(units)
}

func saturatingMul(a uint32, n int) uint32 {
	if n <= 0 {
		return 0
	}
	p := uint64(a) * uint64(n)
	if p > uint64(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(p)
}

func saturatingAdd(a, b uint32) uint32 {
	if a > ^uint32(0)-b {
		return ^uint32(0)
	}
	return a + b
}
