package logging_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fenixpos/fiscal-engine/fiscal"
	"github.com/fenixpos/fiscal-engine/logging"
)

func TestNew(t *testing.T) {
	prod, err := logging.New("fiscal-engine", "production")
	require.NoError(t, err)
	assert.False(t, prod.Core().Enabled(zapcore.DebugLevel))

	dev, err := logging.New("fiscal-engine", "development")
	require.NoError(t, err)
	assert.True(t, dev.Core().Enabled(zapcore.DebugLevel))
}

func TestClassificationObserver(t *testing.T) {
	// GIVEN: an observer writing to a captured core
	core, logs := observer.New(zapcore.DebugLevel)
	obs := logging.NewClassificationObserver(zap.New(core))

	// WHEN: the treasury engine classifies a label
	s := fiscal.Sale{ID: "s1", Status: fiscal.StatusCompleted, Kind: fiscal.KindSale,
		Payments: []fiscal.Payment{{Method: "Zelle"}}}
	acc := fiscal.NewTreasuryAccumulator(fiscal.OpeningBalances{}, obs)
	acc.Add(s)

	// THEN
	entries := logs.FilterMessage("payment classified by label").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "s1", fields["sale_id"])
	assert.Equal(t, "Zelle", fields["label"])
	assert.Equal(t, string(fiscal.QuadrantUSDDigital), fields["quadrant"])
	assert.Equal(t, "legacy", entries[0].LoggerName)
}
