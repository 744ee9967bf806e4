package conf

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKeyHex = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("HIPAA_INTEGRITY_SECRET", "test-integrity-secret")
	t.Setenv("HIPAA_ENCRYPTION_KEY", testKeyHex)
}

func TestNewBootstrap_Defaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `server:
  http:
    addr: :8080
data:
  redis:
    addr: 127.0.0.1:6379
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0644))
	setRequiredEnv(t)

	bc, err := NewBootstrap(configPath)
	require.NoError(t, err)
	require.NotNil(t, bc)

	assert.Equal(t, ":8080", bc.Server.Http.Addr)
	assert.Equal(t, "tcp", bc.Server.Http.Network)
	assert.Equal(t, 30*time.Second, bc.Server.Http.Timeout)

	assert.Equal(t, "127.0.0.1:6379", bc.Data.Redis.Addr)
	assert.Equal(t, 200*time.Millisecond, bc.Data.Redis.ReadTimeout)

	assert.Equal(t, "sqlite", bc.Audit.Store)
	assert.Equal(t, 50, bc.Audit.BatchSize)
	assert.Equal(t, 30*time.Second, bc.Audit.FlushInterval)
	assert.Equal(t, 3, bc.Audit.MaxRetries)
	assert.Equal(t, "0 0 3 * * *", bc.Audit.IntegrityCron)
	assert.Equal(t, "test-integrity-secret", bc.Audit.IntegritySecret)
	assert.Equal(t, testKeyHex, bc.Audit.EncryptionKey)

	assert.Equal(t, 1024, bc.Workflow.CacheSize)
	assert.Equal(t, "redis", bc.Broadcast.Driver)
	assert.Equal(t, 10*time.Second, bc.Predict.Timeout)

	assert.Equal(t, "info", bc.Log.Level)
	assert.Equal(t, "json", bc.Log.Format)
}

func TestNewBootstrap_EnvOverrides(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		check   func(*testing.T, *Bootstrap)
	}{
		{
			name:    "override_http_addr",
			envVars: map[string]string{"CAREFLOW_SERVER_HTTP_ADDR": ":9999"},
			check: func(t *testing.T, bc *Bootstrap) {
				assert.Equal(t, ":9999", bc.Server.Http.Addr)
			},
		},
		{
			name:    "override_batch_size",
			envVars: map[string]string{"CAREFLOW_AUDIT_BATCH_SIZE": "7"},
			check: func(t *testing.T, bc *Bootstrap) {
				assert.Equal(t, 7, bc.Audit.BatchSize)
			},
		},
		{
			name:    "override_flush_interval",
			envVars: map[string]string{"CAREFLOW_AUDIT_FLUSH_INTERVAL": "5s"},
			check: func(t *testing.T, bc *Bootstrap) {
				assert.Equal(t, 5*time.Second, bc.Audit.FlushInterval)
			},
		},
		{
			name: "mysql_store_with_dsn",
			envVars: map[string]string{
				"CAREFLOW_AUDIT_STORE": "MySQL",
				"MYSQL_DSN":            "user:pass@tcp(localhost:3306)/careflow",
			},
			check: func(t *testing.T, bc *Bootstrap) {
				assert.Equal(t, "mysql", bc.Audit.Store)
				assert.Equal(t, "user:pass@tcp(localhost:3306)/careflow", bc.Data.Database.Source)
			},
		},
		{
			name:    "prefixed_secret_alias",
			envVars: map[string]string{"CAREFLOW_AUDIT_INTEGRITY_SECRET": "alias-secret", "HIPAA_INTEGRITY_SECRET": ""},
			check: func(t *testing.T, bc *Bootstrap) {
				assert.Equal(t, "alias-secret", bc.Audit.IntegritySecret)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			bc, err := NewBootstrap("")
			require.NoError(t, err)
			tt.check(t, bc)
		})
	}
}

func TestNewBootstrap_MissingRequired(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		want    string
	}{
		{
			name:    "missing_secret",
			envVars: map[string]string{"HIPAA_ENCRYPTION_KEY": testKeyHex},
			want:    "audit.integrity_secret",
		},
		{
			name:    "missing_key",
			envVars: map[string]string{"HIPAA_INTEGRITY_SECRET": "s"},
			want:    "audit.encryption_key",
		},
		{
			name:    "short_key",
			envVars: map[string]string{"HIPAA_INTEGRITY_SECRET": "s", "HIPAA_ENCRYPTION_KEY": "abcd"},
			want:    "64 hex characters",
		},
		{
			name: "mysql_without_dsn",
			envVars: map[string]string{
				"HIPAA_INTEGRITY_SECRET": "s",
				"HIPAA_ENCRYPTION_KEY":   testKeyHex,
				"CAREFLOW_AUDIT_STORE":   "mysql",
			},
			want: "MYSQL_DSN",
		},
		{
			name: "unknown_store",
			envVars: map[string]string{
				"HIPAA_INTEGRITY_SECRET": "s",
				"HIPAA_ENCRYPTION_KEY":   testKeyHex,
				"CAREFLOW_AUDIT_STORE":   "mongo",
			},
			want: "audit.store",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("HIPAA_INTEGRITY_SECRET", "")
			t.Setenv("HIPAA_ENCRYPTION_KEY", "")
			t.Setenv("MYSQL_DSN", "")
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			_, err := NewBootstrap("")
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMissingConfig))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestNewBootstrap_InvalidConfigFile(t *testing.T) {
	_, err := NewBootstrap(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestNewBootstrap_FileValuesAndKafkaBrokers(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	configContent := `audit:
  store: file
  fallback_dir: /var/lib/careflow/audit
broadcast:
  driver: kafka
  kafka_brokers:
    - broker-1:9092
    - broker-2:9092
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0644))
	setRequiredEnv(t)

	bc, err := NewBootstrap(configPath)
	require.NoError(t, err)
	assert.Equal(t, "file", bc.Audit.Store)
	assert.Equal(t, "/var/lib/careflow/audit", bc.Audit.FallbackDir)
	assert.Equal(t, []string{"broker-1:9092", "broker-2:9092"}, bc.Broadcast.KafkaBrokers)
}
