package config

const (
	EnvMongoURI          = "MONGO_URI"
	EnvMongoDatabaseName = "MONGO_DATABASE_NAME"
	EnvMongoConnTimeout  = "MONGO_CONN_TIMEOUT"

	EnvRedisURL = "REDIS_URL"

	EnvPort     = "PORT"
	EnvLogLevel = "LOG_LEVEL"

	EnvLockTTL        = "LOCK_TTL"
	EnvOTPTTL         = "OTP_TTL"
	EnvSweepInterval  = "SWEEP_INTERVAL"
	EnvMaxOTPAttempts = "MAX_OTP_ATTEMPTS"

	EnvMinCancelNotice = "MIN_CANCEL_NOTICE"

	EnvOTPEcho = "OTP_ECHO"

	EnvKafkaBrokers  = "KAFKA_BROKERS"
	EnvKafkaOTPTopic = "KAFKA_OTP_TOPIC"

	EnvRateLimitRequests = "RATE_LIMIT_REQUESTS"
	EnvRateLimitWindow   = "RATE_LIMIT_WINDOW"

	EnvRequestTimeout = "REQUEST_TIMEOUT"
	EnvMaxRequestSize = "MAX_REQUEST_SIZE"

	EnvReadTimeout     = "READ_TIMEOUT"
	EnvWriteTimeout    = "WRITE_TIMEOUT"
	EnvIdleTimeout     = "IDLE_TIMEOUT"
	EnvShutdownTimeout = "SHUTDOWN_TIMEOUT"
)
