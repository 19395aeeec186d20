package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	NATS     NATSConfig     `yaml:"nats"`
	MinIO    MinIOConfig    `yaml:"minio"`
	Storage  StorageConfig  `yaml:"storage"`
	Vision   VisionConfig   `yaml:"vision"`
	Matching MatchingConfig `yaml:"matching"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port        int    `yaml:"port"`
	APIKey      string `yaml:"api_key"`
	MaxUploadMB int    `yaml:"max_upload_mb"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type NATSConfig struct {
	URL            string        `yaml:"url"`
	Enabled        bool          `yaml:"enabled"`
	ExtractSubject string        `yaml:"extract_subject"`
	ExtractTimeout time.Duration `yaml:"extract_timeout"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

const (
	BackendMemory   = "memory"
	BackendMinIO    = "minio"
	BackendPostgres = "postgres"
)

type StorageConfig struct {
	Images         string `yaml:"images"`     // memory | minio
	Embeddings     string `yaml:"embeddings"` // memory | postgres | minio
	RestoreOnStart bool   `yaml:"restore_on_start"`
}

const (
	VisionLocal    = "local"
	VisionRemote   = "remote"
	VisionDisabled = "disabled"
)

type VisionConfig struct {
	Mode               string  `yaml:"mode"` // local | remote | disabled
	ModelsDir          string  `yaml:"models_dir"`
	LibPath            string  `yaml:"onnx_lib_path"`
	DetectionThreshold float64 `yaml:"detection_threshold"`
	MinFaceSize        float64 `yaml:"min_face_size"`
	// WorkerCount bounds concurrent extractions per upload batch.
	WorkerCount int `yaml:"worker_count"`
	// Sessions is the number of loaded model pairs.
	Sessions int `yaml:"sessions"`
}

type MatchingConfig struct {
	// Tolerance is the maximum Euclidean distance for two faces to count as
	// the same person.
	Tolerance  float64 `yaml:"tolerance"`
	MaxResults int     `yaml:"max_results"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects combinations the services cannot start with.
func (c *Config) Validate() error {
	switch c.Storage.Images {
	case BackendMemory, BackendMinIO:
	default:
		return fmt.Errorf("storage.images: unknown backend %q", c.Storage.Images)
	}
	switch c.Storage.Embeddings {
	case BackendMemory, BackendMinIO, BackendPostgres:
	default:
		return fmt.Errorf("storage.embeddings: unknown backend %q", c.Storage.Embeddings)
	}
	switch c.Vision.Mode {
	case VisionLocal, VisionDisabled:
	case VisionRemote:
		if !c.NATS.Enabled {
			return fmt.Errorf("vision.mode remote requires nats.enabled")
		}
	default:
		return fmt.Errorf("vision.mode: unknown mode %q", c.Vision.Mode)
	}
	if c.Matching.Tolerance <= 0 {
		return fmt.Errorf("matching.tolerance must be positive, got %v", c.Matching.Tolerance)
	}
	return nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.MaxUploadMB == 0 {
		cfg.Server.MaxUploadMB = 64
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.NATS.ExtractSubject == "" {
		cfg.NATS.ExtractSubject = "faces.extract"
	}
	if cfg.NATS.ExtractTimeout == 0 {
		cfg.NATS.ExtractTimeout = 30 * time.Second
	}
	if cfg.Storage.Images == "" {
		cfg.Storage.Images = BackendMemory
	}
	if cfg.Storage.Embeddings == "" {
		cfg.Storage.Embeddings = BackendMemory
	}
	if cfg.Vision.Mode == "" {
		cfg.Vision.Mode = VisionLocal
	}
	if cfg.Vision.WorkerCount == 0 {
		cfg.Vision.WorkerCount = 4
	}
	if cfg.Vision.Sessions == 0 {
		cfg.Vision.Sessions = 1
	}
	if cfg.Vision.DetectionThreshold == 0 {
		cfg.Vision.DetectionThreshold = 0.5
	}
	if cfg.Matching.Tolerance == 0 {
		cfg.Matching.Tolerance = 0.55
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("EF_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("EF_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("EF_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("EF_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("EF_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("EF_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("EF_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("EF_NATS_URL"); v != "" {
		cfg.NATS.URL = v
		cfg.NATS.Enabled = true
	}
	if v := os.Getenv("EF_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("EF_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("EF_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("EF_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("EF_STORAGE_IMAGES"); v != "" {
		cfg.Storage.Images = v
	}
	if v := os.Getenv("EF_STORAGE_EMBEDDINGS"); v != "" {
		cfg.Storage.Embeddings = v
	}
	if v := os.Getenv("EF_VISION_MODE"); v != "" {
		cfg.Vision.Mode = v
	}
	if v := os.Getenv("EF_MODELS_DIR"); v != "" {
		cfg.Vision.ModelsDir = v
	}
	if v := os.Getenv("EF_ONNX_LIB_PATH"); v != "" {
		cfg.Vision.LibPath = v
	}
	if v := os.Getenv("EF_VISION_WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Vision.WorkerCount = n
		}
	}
	if v := os.Getenv("EF_MATCH_TOLERANCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Matching.Tolerance = f
		}
	}
}
