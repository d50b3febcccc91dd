package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Portal client timeouts
const (
	PortalCallTimeout  = 30 * time.Second
	PortalLoginTimeout = 60 * time.Second
)

// Queue tuning
const (
	QueuePollTimeout     = 2 * time.Second
	QueueDedupTTL        = 15 * time.Minute
	QueueFlowTTL         = time.Hour
	QueuePromoteInterval = time.Second
	JobTimeout           = 2 * time.Minute
	WorkerDrainTimeout   = 30 * time.Second
)

// Per-queue worker concurrency
const (
	SyncWorkerConcurrency     = 4
	GradesWorkerConcurrency   = 8
	DeliveryWorkerConcurrency = 2
)

// Job retry base delays, doubled per attempt
const (
	SyncRetryDelay     = time.Second
	GradesRetryDelay   = 2 * time.Second
	DeliveryRetryDelay = 2 * time.Second
)

// Sliding window for outbound delivery rate limiting
const (
	DeliveryRateWindow = time.Minute
	DeliveryRateLimit  = 25
)

// Maximum reminder thresholds a user may configure
const MaxReminderThresholds = 10
