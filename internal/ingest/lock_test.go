package ingest

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLockKeyIsNamespacedPerAccount(t *testing.T) {
	require.Equal(t, "nexus:fetch-lock:CH9300762011623852957", lockKey("CH9300762011623852957"))
	require.NotEqual(t, lockKey("CH9300762011623852957"), lockKey("CH2109000000100013997"))
}

// AdvisoryLock's Acquire/Release/Refresh methods drive a real `redis`
// server round trip and are exercised by integration tests against a
// live instance, not here — the same boundary internal/store draws
// around its own connection-backed operations.
