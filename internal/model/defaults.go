package model

import "time"

// Shared defaults used by the service and the terminal client.
const (
	DefaultMaxLines         = 10_000
	DefaultCleanupThreshold = 5_000
	DefaultRecentCount      = 100

	DefaultSnapshotLines       = 100
	DefaultSnapshotIdleTimeout = 2 * time.Second
	DefaultSnapshotMaxIdle     = 3

	DefaultGracePeriod = 30 * time.Second
	DefaultStopTimeout = 5 * time.Second
)
