package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config is the full device configuration. Values come from an optional
// TOML file (the device ships /etc/checador/config.toml) overridden by
// environment variables. Components receive the sections they need
// explicitly; nothing reads ambient config at runtime.
type Config struct {
	App         AppConfig         `toml:"app"`
	Database    DatabaseConfig    `toml:"database"`
	Fingerprint FingerprintConfig `toml:"fingerprint"`
	Timeclock   TimeclockConfig   `toml:"timeclock"`
	Admin       AdminConfig       `toml:"admin"`
	Sync        SyncConfig        `toml:"sync"`
	Archive     ArchiveConfig     `toml:"archive"`
	Events      EventsConfig      `toml:"events"`
	Log         LogConfig         `toml:"log"`
}

// AppConfig holds device identity and the HTTP listener settings.
type AppConfig struct {
	DeviceID   string `toml:"device_id"`
	DataDir    string `toml:"data_dir"`
	ServerPort int    `toml:"port"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	DBName   string `toml:"dbname"`
	UseSSL   bool   `toml:"use_ssl"`
}

// FingerprintConfig holds the NBIS tool paths and the decision thresholds
// of the enrollment and identification engines.
type FingerprintConfig struct {
	// MindtctPath is the feature extraction binary.
	MindtctPath string `toml:"mindtct_path"`
	// Bozorth3Path is the matcher binary.
	Bozorth3Path string `toml:"bozorth3_path"`

	// MatchThreshold is the minimum score for a Matched identification
	// result. The comparison is >=, not >.
	MatchThreshold int `toml:"match_threshold"`

	// EnrollmentSamples is the number of accepted samples that completes
	// an enrollment.
	EnrollmentSamples int `toml:"enrollment_samples"`

	// MinQualityScore is the minimum extraction quality for a sample to
	// be accepted during enrollment.
	MinQualityScore int `toml:"min_quality_score"`

	// ExtractTimeoutSeconds bounds one mindtct invocation.
	ExtractTimeoutSeconds int `toml:"extract_timeout_seconds"`

	// MatchTimeoutSeconds bounds one bozorth3 invocation.
	MatchTimeoutSeconds int `toml:"match_timeout_seconds"`
}

// TimeclockConfig holds punch policy settings.
type TimeclockConfig struct {
	// AntibounceSeconds rejects a repeat punch by the same user within
	// this window, absorbing double touches at the sensor.
	AntibounceSeconds int `toml:"antibounce_seconds"`
}

// AdminConfig holds admin authentication settings.
type AdminConfig struct {
	// PasswordHash is the bcrypt hash of the admin password.
	PasswordHash string `toml:"password_hash"`
	// JWTSecret signs admin session tokens.
	JWTSecret string `toml:"jwt_secret"`
}

// SyncConfig holds the punch delivery settings of the sync worker.
type SyncConfig struct {
	Enabled bool   `toml:"enabled"`
	URL     string `toml:"url"`
	APIKey  string `toml:"api_key"`

	// IntervalSeconds is the steady-state sleep between successful cycles.
	IntervalSeconds int `toml:"sync_interval_seconds"`

	// RetryMaxAttempts caps the exponent of the backoff formula.
	RetryMaxAttempts int `toml:"retry_max_attempts"`

	// RetryBackoffBase is the base of the backoff formula base^retries.
	RetryBackoffBase int `toml:"retry_backoff_base"`

	// BatchLimit bounds how many punches one cycle uploads.
	BatchLimit int `toml:"batch_limit"`

	// TimeoutSeconds bounds one upload request.
	TimeoutSeconds int `toml:"timeout_seconds"`
}

// ArchiveConfig holds capture image archiving settings. Backend is
// "minio", "gcs", or empty to disable archiving.
type ArchiveConfig struct {
	Backend string      `toml:"backend"`
	Minio   MinioConfig `toml:"minio"`
	GCS     GCSConfig   `toml:"gcs"`
}

// MinioConfig holds MinIO object storage settings.
type MinioConfig struct {
	Endpoint  string `toml:"endpoint"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	Bucket    string `toml:"bucket"`
	UseSSL    bool   `toml:"use_ssl"`
}

// GCSConfig holds Google Cloud Storage settings.
type GCSConfig struct {
	Bucket          string `toml:"bucket"`
	ProjectID       string `toml:"project_id"`
	CredentialsFile string `toml:"credentials_file"`
}

// EventsConfig holds the punch event feed settings. Backend is
// "rabbitmq", "pubsub", or empty to disable the feed.
type EventsConfig struct {
	Backend string         `toml:"backend"`
	Channel string         `toml:"channel"`
	Rabbit  RabbitMQConfig `toml:"rabbitmq"`
	PubSub  PubSubConfig   `toml:"pubsub"`
}

// RabbitMQConfig holds RabbitMQ broker settings.
type RabbitMQConfig struct {
	URL             string `toml:"url"`
	QueueDurable    bool   `toml:"queue_durable"`
	QueueAutoDelete bool   `toml:"queue_auto_delete"`
	PrefetchCount   int    `toml:"prefetch_count"`
}

// PubSubConfig holds Google Cloud Pub/Sub settings.
type PubSubConfig struct {
	ProjectID          string `toml:"project_id"`
	CredentialsFile    string `toml:"credentials_file"`
	SubscriptionSuffix string `toml:"subscription_suffix"`
}

// LogConfig holds device log file settings. When File is empty the
// process logs to stderr only.
type LogConfig struct {
	// File is the rotating log file pattern, e.g.
	// /var/log/checador/device.%Y%m%d.log.
	File string `toml:"file"`
	// MaxAgeDays is how long rotated files are kept.
	MaxAgeDays int `toml:"max_age_days"`
	// RotateHours is the rotation interval.
	RotateHours int `toml:"rotate_hours"`
}

// LoadConfig builds the configuration from defaults, an optional TOML
// file named by CHECADOR_CONFIG, and environment overrides, in that order.
func LoadConfig() (Config, error) {
	if os.Getenv("ENV") == "dev" {
		godotenv.Load()
	}

	cfg := defaults()

	if path := strings.TrimSpace(os.Getenv("CHECADOR_CONFIG")); path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func defaults() Config {
	return Config{
		App: AppConfig{
			DeviceID:   "CHECADOR-001",
			DataDir:    "/var/lib/checador",
			ServerPort: 8000,
		},
		Database: DatabaseConfig{
			Host:   "localhost",
			Port:   5432,
			User:   "checador",
			DBName: "checador",
		},
		Fingerprint: FingerprintConfig{
			MindtctPath:           "/usr/local/bin/mindtct",
			Bozorth3Path:          "/usr/local/bin/bozorth3",
			MatchThreshold:        40,
			EnrollmentSamples:     3,
			MinQualityScore:       20,
			ExtractTimeoutSeconds: 30,
			MatchTimeoutSeconds:   10,
		},
		Timeclock: TimeclockConfig{
			AntibounceSeconds: 10,
		},
		Sync: SyncConfig{
			IntervalSeconds:  300,
			RetryMaxAttempts: 5,
			RetryBackoffBase: 2,
			BatchLimit:       100,
			TimeoutSeconds:   30,
		},
		Events: EventsConfig{
			Channel: "checador.punches",
		},
		Log: LogConfig{
			MaxAgeDays:  30,
			RotateHours: 24,
		},
	}
}

func applyEnv(cfg *Config) {
	cfg.App.DeviceID = getEnv("DEVICE_ID", cfg.App.DeviceID)
	cfg.App.DataDir = getEnv("DATA_DIR", cfg.App.DataDir)
	cfg.App.ServerPort = getEnvInt("SERVER_PORT", cfg.App.ServerPort)

	cfg.Database.Host = getEnv("DB_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnvInt("DB_PORT", cfg.Database.Port)
	cfg.Database.User = getEnv("DB_USER", cfg.Database.User)
	cfg.Database.Password = getEnv("DB_PASSWORD", cfg.Database.Password)
	cfg.Database.DBName = getEnv("DB_NAME", cfg.Database.DBName)
	cfg.Database.UseSSL = getEnvBool("DB_USE_SSL", cfg.Database.UseSSL)

	cfg.Fingerprint.MindtctPath = getEnv("NBIS_MINDTCT", cfg.Fingerprint.MindtctPath)
	cfg.Fingerprint.Bozorth3Path = getEnv("NBIS_BOZORTH3", cfg.Fingerprint.Bozorth3Path)
	cfg.Fingerprint.MatchThreshold = getEnvInt("MATCH_THRESHOLD", cfg.Fingerprint.MatchThreshold)
	cfg.Fingerprint.EnrollmentSamples = getEnvInt("ENROLLMENT_SAMPLES", cfg.Fingerprint.EnrollmentSamples)
	cfg.Fingerprint.MinQualityScore = getEnvInt("MIN_QUALITY_SCORE", cfg.Fingerprint.MinQualityScore)

	cfg.Timeclock.AntibounceSeconds = getEnvInt("ANTIBOUNCE_SECONDS", cfg.Timeclock.AntibounceSeconds)

	cfg.Admin.PasswordHash = getEnv("ADMIN_PASSWORD_HASH", cfg.Admin.PasswordHash)
	cfg.Admin.JWTSecret = getEnv("JWT_SECRET", cfg.Admin.JWTSecret)

	cfg.Sync.Enabled = getEnvBool("SYNC_ENABLED", cfg.Sync.Enabled)
	cfg.Sync.URL = getEnv("SYNC_URL", cfg.Sync.URL)
	cfg.Sync.APIKey = getEnv("SYNC_API_KEY", cfg.Sync.APIKey)
	cfg.Sync.IntervalSeconds = getEnvInt("SYNC_INTERVAL_SECONDS", cfg.Sync.IntervalSeconds)
	cfg.Sync.RetryMaxAttempts = getEnvInt("SYNC_RETRY_MAX_ATTEMPTS", cfg.Sync.RetryMaxAttempts)
	cfg.Sync.RetryBackoffBase = getEnvInt("SYNC_RETRY_BACKOFF_BASE", cfg.Sync.RetryBackoffBase)
	cfg.Sync.BatchLimit = getEnvInt("SYNC_BATCH_LIMIT", cfg.Sync.BatchLimit)

	cfg.Archive.Backend = getEnv("ARCHIVE_BACKEND", cfg.Archive.Backend)
	cfg.Events.Backend = getEnv("EVENTS_BACKEND", cfg.Events.Backend)
	cfg.Events.Channel = getEnv("EVENTS_CHANNEL", cfg.Events.Channel)

	cfg.Log.File = getEnv("LOG_FILE", cfg.Log.File)
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if valueStr, exists := os.LookupEnv(key); exists {
		value, err := strconv.Atoi(valueStr)
		if err == nil {
			return value
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if valueStr, exists := os.LookupEnv(key); exists {
		value, err := strconv.ParseBool(valueStr)
		if err == nil {
			return value
		}
	}
	return defaultValue
}
