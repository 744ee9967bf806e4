// Package conf provides configuration management using Viper.
// It supports loading configuration from YAML files and environment variables,
// with CLI flag overrides.
package conf

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrMissingConfig marks a fatal configuration problem detected at startup.
var ErrMissingConfig = errors.New("configuration error")

// NewBootstrap creates and initializes a Bootstrap configuration.
// It loads configuration from the specified config file path, applies defaults,
// and allows overrides from environment variables prefixed with CAREFLOW_.
//
// Configuration priority: Environment variables > Config file > Defaults
//
// Required environment variables:
//   - HIPAA_INTEGRITY_SECRET or CAREFLOW_AUDIT_INTEGRITY_SECRET: keyed hash secret
//   - HIPAA_ENCRYPTION_KEY or CAREFLOW_AUDIT_ENCRYPTION_KEY: 64 hex char AES-256 key
//   - MYSQL_DSN or CAREFLOW_DATA_DATABASE_SOURCE: only when audit.store is mysql
func NewBootstrap(configPath string) (*Bootstrap, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("CAREFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("data.database.source", "MYSQL_DSN", "CAREFLOW_DATA_DATABASE_SOURCE")
	_ = v.BindEnv("data.redis.addr", "CAREFLOW_DATA_REDIS_ADDR")
	_ = v.BindEnv("audit.integrity_secret", "HIPAA_INTEGRITY_SECRET", "CAREFLOW_AUDIT_INTEGRITY_SECRET")
	_ = v.BindEnv("audit.encryption_key", "HIPAA_ENCRYPTION_KEY", "CAREFLOW_AUDIT_ENCRYPTION_KEY")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	bc := &Bootstrap{
		Server: &Server{
			Http: &Server_HTTP{
				Network: v.GetString("server.http.network"),
				Addr:    v.GetString("server.http.addr"),
				Timeout: v.GetDuration("server.http.timeout"),
			},
		},
		Data: &Data{
			Database: &Data_Database{
				Driver: v.GetString("data.database.driver"),
				Source: v.GetString("data.database.source"),
			},
			Redis: &Data_Redis{
				Network:      v.GetString("data.redis.network"),
				Addr:         v.GetString("data.redis.addr"),
				Password:     v.GetString("data.redis.password"),
				DB:           v.GetInt("data.redis.db"),
				ReadTimeout:  v.GetDuration("data.redis.read_timeout"),
				WriteTimeout: v.GetDuration("data.redis.write_timeout"),
			},
		},
		Audit: &Audit{
			Store:           strings.ToLower(v.GetString("audit.store")),
			SQLitePath:      v.GetString("audit.sqlite_path"),
			FallbackDir:     v.GetString("audit.fallback_dir"),
			BatchSize:       v.GetInt("audit.batch_size"),
			FlushInterval:   v.GetDuration("audit.flush_interval"),
			MaxRetries:      v.GetInt("audit.max_retries"),
			RetryBackoff:    v.GetDuration("audit.retry_backoff"),
			IntegrityCron:   v.GetString("audit.integrity_cron"),
			ReportCron:      v.GetString("audit.report_cron"),
			ExportsPerHour:  v.GetInt("audit.exports_per_hour"),
			IntegritySecret: v.GetString("audit.integrity_secret"),
			EncryptionKey:   v.GetString("audit.encryption_key"),
		},
		Workflow: &Workflow{
			CacheSize:        v.GetInt("workflow.cache_size"),
			DefaultTimeout:   v.GetDuration("workflow.default_timeout"),
			CoordinatorEmail: v.GetString("workflow.coordinator_email"),
		},
		Broadcast: &Broadcast{
			Driver:       strings.ToLower(v.GetString("broadcast.driver")),
			Channel:      v.GetString("broadcast.channel"),
			KafkaBrokers: v.GetStringSlice("broadcast.kafka_brokers"),
			KafkaTopic:   v.GetString("broadcast.kafka_topic"),
		},
		Predict: &Predict{
			BaseURL:  v.GetString("predict.base_url"),
			APIKey:   v.GetString("predict.api_key"),
			ProxyURL: v.GetString("predict.proxy_url"),
			Timeout:  v.GetDuration("predict.timeout"),
		},
		Log: &Log{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			Env:        v.GetString("log.env"),
			OutputFile: v.GetString("log.output_file"),
		},
	}

	if err := Validate(bc); err != nil {
		return nil, err
	}

	return bc, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http.network", "tcp")
	v.SetDefault("server.http.addr", ":8080")
	v.SetDefault("server.http.timeout", 30*time.Second)

	v.SetDefault("data.database.driver", "mysql")

	v.SetDefault("data.redis.network", "tcp")
	v.SetDefault("data.redis.addr", "127.0.0.1:6379")
	v.SetDefault("data.redis.db", 0)
	v.SetDefault("data.redis.read_timeout", 200*time.Millisecond)
	v.SetDefault("data.redis.write_timeout", 200*time.Millisecond)

	// Note: audit.integrity_secret and audit.encryption_key are required from environment
	v.SetDefault("audit.store", "sqlite")
	v.SetDefault("audit.sqlite_path", "data/audit.db")
	v.SetDefault("audit.fallback_dir", "data/audit")
	v.SetDefault("audit.batch_size", 50)
	v.SetDefault("audit.flush_interval", 30*time.Second)
	v.SetDefault("audit.max_retries", 3)
	v.SetDefault("audit.retry_backoff", 200*time.Millisecond)
	v.SetDefault("audit.integrity_cron", "0 0 3 * * *")
	v.SetDefault("audit.report_cron", "0 30 3 * * *")
	v.SetDefault("audit.exports_per_hour", 10)

	v.SetDefault("workflow.cache_size", 1024)
	v.SetDefault("workflow.default_timeout", 24*time.Hour)
	v.SetDefault("workflow.coordinator_email", "coordinator@careflow.local")

	v.SetDefault("broadcast.driver", "redis")
	v.SetDefault("broadcast.channel", "careflow:workflow-events")
	v.SetDefault("broadcast.kafka_topic", "careflow.workflow-events")

	v.SetDefault("predict.timeout", 10*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate checks that all required configuration fields are present and valid.
// It returns an error listing all problems; the error wraps ErrMissingConfig.
func Validate(bc *Bootstrap) error {
	var problems []string

	if bc.Audit == nil {
		problems = append(problems, "audit section")
	} else {
		if bc.Audit.IntegritySecret == "" {
			problems = append(problems, "audit.integrity_secret (HIPAA_INTEGRITY_SECRET)")
		}
		if bc.Audit.EncryptionKey == "" {
			problems = append(problems, "audit.encryption_key (HIPAA_ENCRYPTION_KEY)")
		} else if key, err := hex.DecodeString(bc.Audit.EncryptionKey); err != nil || len(key) != 32 {
			problems = append(problems, "audit.encryption_key must be 64 hex characters")
		}
		switch bc.Audit.Store {
		case "sqlite", "file":
		case "mysql":
			if bc.Data == nil || bc.Data.Database == nil || bc.Data.Database.Source == "" {
				problems = append(problems, "data.database.source (MYSQL_DSN)")
			}
		default:
			problems = append(problems, fmt.Sprintf("audit.store %q is not one of sqlite, mysql, file", bc.Audit.Store))
		}
		if bc.Audit.BatchSize <= 0 {
			problems = append(problems, "audit.batch_size must be positive")
		}
	}

	if bc.Broadcast != nil && bc.Broadcast.Driver == "kafka" && len(bc.Broadcast.KafkaBrokers) == 0 {
		problems = append(problems, "broadcast.kafka_brokers")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: missing or invalid fields: %s", ErrMissingConfig, strings.Join(problems, ", "))
	}

	return nil
}
