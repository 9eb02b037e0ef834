package fee

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTableCosts(t *testing.T) {
	table := DefaultTable()
	require.Equal(t, table.InvokeBase+100*table.InvokeInputPerByte, table.InvokeCost(100))
	require.Equal(t, table.InvokeBase, table.InvokeCost(0))
	require.Equal(t, uint32(math.MaxUint32), table.InvokeCost(math.MaxInt))

	require.Equal(t, uint32(2), table.WasmCost(6_000))
	require.Equal(t, uint32(0), (&Table{}).WasmCost(6_000))
}

func TestReasonString(t *testing.T) {
	require.Equal(t, "TxBaseCost", TxBaseCost.String())
	require.Equal(t, "RunNative", RunNative.String())
	require.Equal(t, "CostingReason(200)", CostingReason(200).String())
	require.Len(t, AllReasons(), int(reasonCount))
}
