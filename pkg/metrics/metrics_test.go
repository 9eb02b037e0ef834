package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestEngineCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.ObserveTransaction(OutcomeCommitSuccess, 0.01)
	m.ObserveTransaction(OutcomeCommitSuccess, 0.02)
	m.ObserveTransaction(OutcomeReject, 0.01)
	m.AddCostUnits("Invoke", 150)
	m.AddCostUnits("Invoke", 0)
	m.IncLockConflicts()
	m.IncBadDebt()
	m.AddFeeCollected(1.5)
	m.AddFeeCollected(-1)

	require.Equal(t, 2.0, testutil.ToFloat64(m.transactions.WithLabelValues(OutcomeCommitSuccess)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.transactions.WithLabelValues(OutcomeReject)))
	require.Equal(t, 150.0, testutil.ToFloat64(m.costUnits.WithLabelValues("Invoke")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.lockConflicts))
	require.Equal(t, 1.0, testutil.ToFloat64(m.badDebt))
	require.Equal(t, 1.5, testutil.ToFloat64(m.feeCollected))

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 6)
}

func TestEngineDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)

	_, err = New(reg)
	require.Error(t, err)
}
