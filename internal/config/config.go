// Package config loads service settings from the environment and an optional
// per-environment dotenv file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "EDUPANEL"

// Config holds every runtime setting of the service.
type Config struct {
	Env               string
	HTTPAddr          string
	GRPCAddr          string
	PGDSN             string
	AuthSecret        string
	TokenTTL          time.Duration
	DefaultAdminEmail string
	MinPasswordLength int
	AuditExportCap    int
	RateBurst         int
	RatePerSec        int
	MaxBodyBytes      int64
	LogLevel          string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "dev")
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("grpc_addr", ":9090")
	v.SetDefault("pg_dsn", "")
	v.SetDefault("auth_secret", "")
	v.SetDefault("token_ttl", time.Hour)
	v.SetDefault("default_admin_email", "admin@edupanel.org")
	v.SetDefault("min_password_length", 6)
	v.SetDefault("audit_export_cap", 10000)
	v.SetDefault("rate_burst", 20)
	v.SetDefault("rate_per_sec", 10)
	v.SetDefault("max_body_bytes", 1<<20)
	v.SetDefault("log_level", "info")
}

// Load reads EDUPANEL_* variables. When dir is non-empty and contains
// .env.<env>, that file is loaded first; already exported variables win.
func Load(dir string) (Config, error) {
	env := strings.ToLower(strings.TrimSpace(os.Getenv(envPrefix + "_ENV")))
	if env == "" {
		env = "dev"
	}
	if dir != "" {
		path := filepath.Join(dir, ".env."+env)
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err != nil {
				return Config{}, fmt.Errorf("config: load %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("config: stat %s: %w", path, err)
		}
	}

	v := viper.New()
	v.SetTypeByDefaultValue(true)
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	cfg := Config{
		Env:               v.GetString("env"),
		HTTPAddr:          v.GetString("http_addr"),
		GRPCAddr:          v.GetString("grpc_addr"),
		PGDSN:             v.GetString("pg_dsn"),
		AuthSecret:        v.GetString("auth_secret"),
		TokenTTL:          v.GetDuration("token_ttl"),
		DefaultAdminEmail: strings.ToLower(strings.TrimSpace(v.GetString("default_admin_email"))),
		MinPasswordLength: v.GetInt("min_password_length"),
		AuditExportCap:    v.GetInt("audit_export_cap"),
		RateBurst:         v.GetInt("rate_burst"),
		RatePerSec:        v.GetInt("rate_per_sec"),
		MaxBodyBytes:      v.GetInt64("max_body_bytes"),
		LogLevel:          v.GetString("log_level"),
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch {
	case c.DefaultAdminEmail == "":
		return fmt.Errorf("config: default_admin_email is required")
	case c.MinPasswordLength < 1:
		return fmt.Errorf("config: min_password_length must be positive")
	case c.AuditExportCap < 1:
		return fmt.Errorf("config: audit_export_cap must be positive")
	case c.TokenTTL <= 0:
		return fmt.Errorf("config: token_ttl must be positive")
	}
	return nil
}
