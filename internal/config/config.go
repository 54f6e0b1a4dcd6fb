package config

import (
	"os"
	"time"

	"llmcouncil/internal/core"
	"llmcouncil/internal/util"
)

// ServerConfig server configuration
type ServerConfig struct {
	Port               string
	GinMode            string
	ClientAPIKeys      []string
	CouncilConfigPath  string
	DataDir            string
	RedisURL           string
	RateLimit          int
	CORSAllowOrigin    string
	HTTPClientSettings HTTPClientSettings
	Council            CouncilConfig
	Stats              core.StatsStorage
	Conversations      core.ConversationStore
	Logger             core.Logger
}

// HTTPClientSettings HTTP client configuration
type HTTPClientSettings struct {
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	IdleConnTimeout     time.Duration
	TLSHandshakeTimeout time.Duration
	RequestTimeout      time.Duration
}

// DefaultHTTPClientSettings default HTTP client settings
func DefaultHTTPClientSettings() HTTPClientSettings {
	return HTTPClientSettings{
		MaxIdleConns:        core.HTTPMaxIdleConns,
		MaxIdleConnsPerHost: core.HTTPMaxIdleConnsPerHost,
		MaxConnsPerHost:     core.HTTPMaxConnsPerHost,
		IdleConnTimeout:     core.HTTPIdleConnTimeout,
		TLSHandshakeTimeout: core.HTTPTLSHandshakeTimeout,
	}
}

// LoadServerConfigFromEnv loads server config from environment variables.
// The council itself is loaded separately with LoadCouncilConfig.
func LoadServerConfigFromEnv(logger core.Logger) (ServerConfig, error) {
	clientAPIKeys := util.ParseEnvList(os.Getenv("CLIENT_API_KEYS"))
	if len(clientAPIKeys) == 0 {
		logger.Warn("CLIENT_API_KEYS is empty, API authentication is disabled")
	} else {
		logger.Info("Loaded %d client API keys", len(clientAPIKeys))
	}

	config := ServerConfig{
		Port:               util.GetEnvWithDefault("PORT", core.DefaultPort),
		GinMode:            util.GetEnvWithDefault("GIN_MODE", core.DefaultGinMode),
		ClientAPIKeys:      clientAPIKeys,
		CouncilConfigPath:  util.GetEnvWithDefault("COUNCIL_CONFIG", core.DefaultCouncilFilePath),
		DataDir:            util.GetEnvWithDefault("DATA_DIR", core.DefaultDataDir),
		RedisURL:           util.GetEnvWithDefault("REDIS_URL", ""),
		RateLimit:          util.GetEnvInt("RATE_LIMIT", core.DefaultRateLimit),
		CORSAllowOrigin:    util.GetEnvWithDefault("CORS_ALLOW_ORIGIN", "*"),
		HTTPClientSettings: DefaultHTTPClientSettings(),
		Logger:             logger,
	}

	return config, nil
}
