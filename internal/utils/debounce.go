package utils

import "time"

// StreamMaxLen is the maximum length of the Redis stream kept per device
const StreamMaxLen int64 = 100

// StateCacheTTL bounds how long a cached device state is trusted
const StateCacheTTL = time.Hour

// SweepInterval is the default realtime liveness sweep period
const SweepInterval = 30 * time.Second
