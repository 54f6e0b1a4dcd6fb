package core

import "time"

// HTTP client config constants
const (
	HTTPMaxIdleConns          = 100
	HTTPMaxIdleConnsPerHost   = 20
	HTTPMaxConnsPerHost       = 50
	HTTPIdleConnTimeout       = 90 * time.Second
	HTTPTLSHandshakeTimeout   = 10 * time.Second
	HTTPResponseHeaderTimeout = 0
	HTTPExpectContinueTimeout = 1 * time.Second
)

// Cache config constants
const (
	CacheDefaultCapacity = 256
	CacheCleanupInterval = 5 * time.Minute
	ConversationCacheTTL = 10 * time.Minute
	CacheKeyVersion      = "v1"
)

// Stats and monitoring constants
const (
	StatsFilePath        = "stats.json"
	MinSaveInterval      = 5 * time.Second
	HistoryBufferSize    = 1000
	HistoryBatchSize     = 100
	HistoryFlushInterval = 100 * time.Millisecond
)

// Metrics stage labels
const (
	StageCouncil  = "council"
	StageReview   = "review"
	StageChairman = "chairman"
)

// Response body size limits
const (
	MaxResponseBodySize = 10 * 1024 * 1024
)

// Redis key constants
const (
	RedisKeyPrefix          = "llmcouncil:"
	RedisStatsKey           = RedisKeyPrefix + "stats"
	RedisConversationPrefix = RedisKeyPrefix + "conversation:"
	RedisConversationIndex  = RedisKeyPrefix + "conversations"
)

// Logging config constants
const (
	MaxLogFilePathLength = 260
)

// File permission constants
const (
	FilePermissionReadWrite = 0644
	DirPermission           = 0755
)

// Time format constants
const (
	TimeFormatDateTime = "2006-01-02 15:04:05"
)
