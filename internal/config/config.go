// Package config loads the service's environment-driven configuration.
//
// Grounded on original_source/src/main.rs's dotenv + env::var bootstrap,
// reimplemented with spf13/viper (direct dependency of
// _examples/evalgo-org-eve, whose cli/root.go binds config the same way:
// SetDefault + AutomaticEnv + GetString) rather than raw os.Getenv calls.
package config

import "github.com/spf13/viper"

// Config is every environment input spec.md §6 names, plus the ambient
// stack's own inputs (Redis tier, origin/replication base URLs).
type Config struct {
	Port                  string
	StorePath             string
	RedisURL              string
	RegistryBaseURL       string
	ChangesBaseURL        string
	ObservabilityEndpoint string
}

// Load reads configuration from the environment (PKGCDN_-prefixed, plus
// PORT), falling back to sensible defaults for local development.
func Load() *Config {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("port", "3000")
	v.SetDefault("store_path", "pkgcdn.db")
	v.SetDefault("redis_url", "")
	v.SetDefault("registry_base_url", "https://registry.npmjs.org")
	v.SetDefault("changes_base_url", "https://replicate.npmjs.com/registry/_changes")
	v.SetDefault("observability_endpoint", "")

	_ = v.BindEnv("port", "PORT")
	_ = v.BindEnv("store_path", "PKGCDN_STORE_PATH")
	_ = v.BindEnv("redis_url", "PKGCDN_REDIS_URL")
	_ = v.BindEnv("registry_base_url", "PKGCDN_REGISTRY_BASE_URL")
	_ = v.BindEnv("changes_base_url", "PKGCDN_CHANGES_BASE_URL")
	_ = v.BindEnv("observability_endpoint", "PKGCDN_OBSERVABILITY_ENDPOINT")

	return &Config{
		Port:                  v.GetString("port"),
		StorePath:             v.GetString("store_path"),
		RedisURL:              v.GetString("redis_url"),
		RegistryBaseURL:       v.GetString("registry_base_url"),
		ChangesBaseURL:        v.GetString("changes_base_url"),
		ObservabilityEndpoint: v.GetString("observability_endpoint"),
	}
}
