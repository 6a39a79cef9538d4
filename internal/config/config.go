package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	JWT       JWTConfig
	SSO       SSOConfig
	Provision ProvisionConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port string
	Env  string
	// BaseDomain is the apex under which tenant workspaces get their
	// subdomains (e.g. "teamdock.io" -> https://<slug>.teamdock.io).
	BaseDomain string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Issuer     string
	SessionTTL time.Duration
	// BridgeTTL is the lifetime of a cross-origin bridge token; it only
	// has to survive a single redirect.
	BridgeTTL time.Duration
}

type SSOConfig struct {
	Issuer   string
	ClientID string
}

type ProvisionConfig struct {
	// StepDelay paces the worker's provisioning steps.
	StepDelay time.Duration
}

type RateLimitConfig struct {
	LifecyclePerHour int
	BridgePerMin     int
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Defaults
	viper.SetDefault("server.port", "3000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.base_domain", "teamdock.io")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("jwt.secret", "change-me-in-production")
	viper.SetDefault("jwt.issuer", "teamdock-portal")
	viper.SetDefault("jwt.session_ttl", "24h")
	viper.SetDefault("jwt.bridge_ttl", "30s")
	viper.SetDefault("sso.issuer", "")
	viper.SetDefault("sso.client_id", "")
	viper.SetDefault("provision.step_delay", "1s")
	viper.SetDefault("ratelimit.lifecycle_per_hour", 60)
	viper.SetDefault("ratelimit.bridge_per_min", 10)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:       viper.GetString("server.port"),
			Env:        viper.GetString("server.env"),
			BaseDomain: viper.GetString("server.base_domain"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:     viper.GetString("jwt.secret"),
			Issuer:     viper.GetString("jwt.issuer"),
			SessionTTL: viper.GetDuration("jwt.session_ttl"),
			BridgeTTL:  viper.GetDuration("jwt.bridge_ttl"),
		},
		SSO: SSOConfig{
			Issuer:   viper.GetString("sso.issuer"),
			ClientID: viper.GetString("sso.client_id"),
		},
		Provision: ProvisionConfig{
			StepDelay: viper.GetDuration("provision.step_delay"),
		},
		RateLimit: RateLimitConfig{
			LifecyclePerHour: viper.GetInt("ratelimit.lifecycle_per_hour"),
			BridgePerMin:     viper.GetInt("ratelimit.bridge_per_min"),
		},
	}

	return cfg, nil
}
