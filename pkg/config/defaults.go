package config

import "time"

const (
	DefaultMongoURI          = "mongodb://localhost:27017"
	DefaultMongoDatabaseName = "medibook"
	DefaultMongoConnTimeout  = 10 * time.Second

	DefaultRedisURL = "redis://localhost:6379"

	DefaultPort = "8080"

	DefaultLockTTL        = 300 * time.Second
	DefaultOTPTTL         = 300 * time.Second
	DefaultSweepInterval  = 1 * time.Minute
	DefaultMaxOTPAttempts = 5

	DefaultMinCancelNotice = 24 * time.Hour

	DefaultOTPEcho = true

	DefaultKafkaOTPTopic = "appointment-events"

	DefaultRateLimitRequests = 10
	DefaultRateLimitWindow   = 1 * time.Minute

	DefaultRequestTimeout = 30 * time.Second
	DefaultMaxRequestSize = 1 * 1024 * 1024 // 1MB

	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 15 * time.Second
	DefaultIdleTimeout     = 60 * time.Second
	DefaultShutdownTimeout = 30 * time.Second

	DefaultLogLevel = "info"

	DefaultPaginationLimit = 100
)

func NormalizePaginationLimit(limit int) int {
	if limit <= 0 {
		limit = 10
	} else if limit > DefaultPaginationLimit {
		limit = DefaultPaginationLimit
	}
	return limit
}
