package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds all configuration for the server.
// Tags use mapstructure for Viper unmarshalling and env binding.
type ServerConfig struct {
	HTTPPort    string `mapstructure:"HTTP_PORT"`
	MongoURI    string `mapstructure:"MONGO_URI"`
	MongoDBName string `mapstructure:"MONGO_DB_NAME"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogPretty bool   `mapstructure:"LOG_PRETTY"`

	// The two signing keys must be independent so a leaked access key
	// cannot forge refresh tokens.
	AccessTokenSecret   string `mapstructure:"ACCESS_TOKEN_SECRET"`
	RefreshTokenSecret  string `mapstructure:"REFRESH_TOKEN_SECRET"`
	AccessTokenTTLMin   int    `mapstructure:"ACCESS_TOKEN_TTL_MIN"`
	RefreshTokenTTLHour int    `mapstructure:"REFRESH_TOKEN_TTL_HOUR"`

	StoreTimeoutMS    int  `mapstructure:"STORE_TIMEOUT_MS"`
	ProviderTimeoutMS int  `mapstructure:"PROVIDER_TIMEOUT_MS"`
	SecureCookies     bool `mapstructure:"SECURE_COOKIES"`

	// PublicPaths is the gate allow-list, comma-separated. Entries ending
	// in "/*" match by prefix.
	PublicPaths string `mapstructure:"PUBLIC_PATHS"`

	GoogleClientID     string `mapstructure:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `mapstructure:"GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURL  string `mapstructure:"GOOGLE_REDIRECT_URL"`

	KakaoClientID     string `mapstructure:"KAKAO_CLIENT_ID"`
	KakaoClientSecret string `mapstructure:"KAKAO_CLIENT_SECRET"`
	KakaoRedirectURL  string `mapstructure:"KAKAO_REDIRECT_URL"`
}

// AccessTokenTTL returns the access-token lifetime.
func (c *ServerConfig) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMin) * time.Minute
}

// RefreshTokenTTL returns the refresh-token lifetime.
func (c *ServerConfig) RefreshTokenTTL() time.Duration {
	return time.Duration(c.RefreshTokenTTLHour) * time.Hour
}

// StoreTimeout bounds every refresh-store round trip.
func (c *ServerConfig) StoreTimeout() time.Duration {
	return time.Duration(c.StoreTimeoutMS) * time.Millisecond
}

// ProviderTimeout bounds identity-provider network calls.
func (c *ServerConfig) ProviderTimeout() time.Duration {
	return time.Duration(c.ProviderTimeoutMS) * time.Millisecond
}

// PublicPathList splits the PUBLIC_PATHS entry into the allow-list slice.
func (c *ServerConfig) PublicPathList() []string {
	var paths []string
	for _, p := range strings.Split(c.PublicPaths, ",") {
		if p = strings.TrimSpace(p); p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}

// Validate rejects configurations the server must not start with.
func (c *ServerConfig) Validate() error {
	if c.AccessTokenSecret == "" || c.RefreshTokenSecret == "" {
		return errors.New("ACCESS_TOKEN_SECRET and REFRESH_TOKEN_SECRET are required")
	}
	if c.AccessTokenSecret == c.RefreshTokenSecret {
		return errors.New("ACCESS_TOKEN_SECRET and REFRESH_TOKEN_SECRET must differ")
	}
	if c.AccessTokenTTLMin <= 0 || c.RefreshTokenTTLHour <= 0 {
		return errors.New("token TTLs must be positive")
	}
	return nil
}

// LoadConfig reads configuration from file, environment variables, and defaults.
func LoadConfig() (*ServerConfig, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("/etc/authd/")
	v.AddConfigPath("$HOME/.authd")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Every struct key needs a default registered, even an empty one,
	// otherwise AutomaticEnv never surfaces env-only values to Unmarshal.
	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("MONGO_URI", "mongodb://localhost:27017/authd_dev")
	v.SetDefault("MONGO_DB_NAME", "authd_dev")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", false)
	v.SetDefault("ACCESS_TOKEN_SECRET", "")
	v.SetDefault("REFRESH_TOKEN_SECRET", "")
	v.SetDefault("ACCESS_TOKEN_TTL_MIN", 15)
	v.SetDefault("REFRESH_TOKEN_TTL_HOUR", 336) // 14 days
	v.SetDefault("STORE_TIMEOUT_MS", 2000)
	v.SetDefault("PROVIDER_TIMEOUT_MS", 5000)
	v.SetDefault("SECURE_COOKIES", true)
	v.SetDefault("PUBLIC_PATHS", "/auth/login,/auth/refresh,/oauth2/callback/*,/health,/metrics")
	v.SetDefault("GOOGLE_CLIENT_ID", "")
	v.SetDefault("GOOGLE_CLIENT_SECRET", "")
	v.SetDefault("GOOGLE_REDIRECT_URL", "")
	v.SetDefault("KAKAO_CLIENT_ID", "")
	v.SetDefault("KAKAO_CLIENT_SECRET", "")
	v.SetDefault("KAKAO_REDIRECT_URL", "")

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; env vars and defaults apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
