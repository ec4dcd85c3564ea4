// Package config loads reportq settings from viper and validates them.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. REPORTQ_REDIS_ADDR.
const EnvPrefix = "REPORTQ"

// Config holds typed configuration for every reportq command.
type Config struct {
	LogLevel         string        `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	RedisAddr        string        `mapstructure:"redis_addr" validate:"required,hostname_port"`
	DBDriver         string        `mapstructure:"db_driver" validate:"required,oneof=sqlite pgx"`
	DBDSN            string        `mapstructure:"db_dsn" validate:"required"`
	QueueName        string        `mapstructure:"queue_name" validate:"required"`
	Concurrency      int           `mapstructure:"concurrency" validate:"gt=0"`
	ReportSync       bool          `mapstructure:"report_sync"`
	DefaultTimeout   time.Duration `mapstructure:"default_timeout" validate:"gt=0"`
	ResultTTL        time.Duration `mapstructure:"result_ttl" validate:"gte=0"`
	MetricsAddr      string        `mapstructure:"metrics_addr"`
	CatalogCacheSize int           `mapstructure:"catalog_cache_size" validate:"gte=0"`
	MaxRows          int           `mapstructure:"max_rows" validate:"gte=0"`
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("db_driver", "sqlite")
	v.SetDefault("db_dsn", "file:reportq.db?_pragma=busy_timeout(5000)")
	v.SetDefault("queue_name", "generic")
	v.SetDefault("concurrency", 10)
	v.SetDefault("report_sync", false)
	v.SetDefault("default_timeout", 10*time.Minute)
	v.SetDefault("result_ttl", time.Duration(0))
	v.SetDefault("metrics_addr", ":9090")
	v.SetDefault("catalog_cache_size", 128)
	v.SetDefault("max_rows", 10000)
}

// BindEnv makes v read REPORTQ_* environment variables.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
}

// Load reads all values from v and validates them.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return nil, fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// ViperPolicy reads report_sync from viper on every call, so flags,
// REPORTQ_REPORT_SYNC and v.Set all apply to the next submission.
type ViperPolicy struct {
	v *viper.Viper
}

func NewViperPolicy(v *viper.Viper) ViperPolicy { return ViperPolicy{v: v} }

// Sync implements report.Policy.
func (p ViperPolicy) Sync() bool { return p.v.GetBool("report_sync") }
