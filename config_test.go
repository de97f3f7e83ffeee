package main

import (
	"testing"

	"github.com/btcsuite/btclog"
	"github.com/stretchr/testify/require"
)

func TestParseAndSetDebugLevels(t *testing.T) {
	require.NoError(t, parseAndSetDebugLevels("debug"))
	for _, logger := range subsystemLoggers {
		require.Equal(t, btclog.LevelDebug, logger.Level())
	}

	require.NoError(t, parseAndSetDebugLevels("WLLT=trace,CHIO=warn"))
	require.Equal(t, btclog.LevelTrace, walletLog.Level())
	require.Equal(t, btclog.LevelWarn, chainLog.Level())
	require.Equal(t, btclog.LevelDebug, amgrLog.Level())

	require.Error(t, parseAndSetDebugLevels("loud"))
	require.Error(t, parseAndSetDebugLevels("WLLT"))
	require.Error(t, parseAndSetDebugLevels("NOPE=info"))
	require.Error(t, parseAndSetDebugLevels("WLLT=loud"))

	setLogLevels(defaultLogLevel)
}

func TestNormalizeAddress(t *testing.T) {
	require.Equal(t, "localhost:8232", normalizeAddress("localhost", "8232"))
	require.Equal(t, "10.0.0.1:1234", normalizeAddress("10.0.0.1:1234", "8232"))
	require.Equal(t, "[::1]:8232", normalizeAddress("::1", "8232"))
}

func TestFormatZEC(t *testing.T) {
	require.Equal(t, "0 ZEC", formatZEC(0))
	require.Equal(t, "1.5 ZEC", formatZEC(150000000))
	require.Equal(t, "0.00000001 ZEC", formatZEC(1))
}
