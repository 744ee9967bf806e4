package conf

import "time"

// Bootstrap is the root configuration.
type Bootstrap struct {
	Server    *Server
	Data      *Data
	Audit     *Audit
	Workflow  *Workflow
	Broadcast *Broadcast
	Predict   *Predict
	Log       *Log
}

// Server holds transport settings.
type Server struct {
	Http *Server_HTTP
}

// Server_HTTP holds the HTTP listener settings.
type Server_HTTP struct {
	Network string
	Addr    string
	Timeout time.Duration
}

// Data holds datastore settings.
type Data struct {
	Database *Data_Database
	Redis    *Data_Redis
}

// Data_Database is the relational audit store connection.
type Data_Database struct {
	Driver string
	Source string
}

// Data_Redis is the Redis connection used for workflow state, records and pub/sub.
type Data_Redis struct {
	Network      string
	Addr         string
	Password     string
	DB           int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Audit configures the tamper-evident audit log.
type Audit struct {
	// Store selects the primary repository: "sqlite", "mysql" or "file".
	Store         string
	SQLitePath    string
	FallbackDir   string
	BatchSize     int
	FlushInterval time.Duration
	MaxRetries    int
	RetryBackoff  time.Duration
	IntegrityCron string
	ReportCron    string
	// ExportsPerHour caps decrypted exports per actor. Zero disables the cap.
	ExportsPerHour  int
	IntegritySecret string
	// EncryptionKey is 64 hex characters (32 bytes).
	EncryptionKey string
}

// Workflow configures the phased workflow engine.
type Workflow struct {
	CacheSize        int
	DefaultTimeout   time.Duration
	CoordinatorEmail string
}

// Broadcast configures the real-time fan-out of workflow events.
type Broadcast struct {
	// Driver is "redis", "kafka" or "none".
	Driver       string
	Channel      string
	KafkaBrokers []string
	KafkaTopic   string
}

// Predict configures the prediction collaborator client.
type Predict struct {
	BaseURL  string
	APIKey   string
	ProxyURL string
	Timeout  time.Duration
}

// Log configures zap.
type Log struct {
	Level      string
	Format     string
	Env        string
	OutputFile string
}
