// Package config provides the configuration structure for the mixdown-service.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/caarlos0/env/v11"
)

// Defaults applied after loading.
const (
	defaultHTTPPort           = 8080
	defaultTimeoutSeconds     = 120
	defaultQuotaStaleSeconds  = 300
	defaultMergeWorkers       = 4
	defaultMinSourceBytes     = 1024
	defaultSampleRate         = 44100
	defaultBitDepth           = 16
	defaultChannels           = 1
	defaultFFmpegBinary       = "ffmpeg"
	defaultProvider           = "googletranslate"
	defaultVoice              = "us"
	defaultCatalogKey         = "audio_metadata.json"
	defaultSegmentStoreBucket = "MIXDOWN_SEGMENTS"
	defaultQuotaFileName      = "mixdown-quota.json"
)

// ServiceConfig holds the service-wide settings.
type ServiceConfig struct {
	Name            string `toml:"name"`
	HTTPPort        int    `toml:"http_port"            env:"MIXDOWN_HTTP_PORT"`
	DefaultProvider string `toml:"default_provider"`
	DefaultVoice    string `toml:"default_voice"`
	TimeoutSeconds  int    `toml:"timeout_seconds"`
}

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL                 string `toml:"url"                    env:"NATS_URL"`
	MergeStreamName     string `toml:"merge_stream_name"`
	MergeConsumerName   string `toml:"merge_consumer_name"`
	JobSubmittedSubject string `toml:"job_submitted_subject"`
	JobCompletedSubject string `toml:"job_completed_subject"`
	SegmentStoreBucket  string `toml:"segment_store_bucket"`
}

// CredentialConfig is one ordered provider credential.
type CredentialConfig struct {
	Name   string `toml:"name"`
	Secret string `toml:"secret"`
	Active bool   `toml:"active"`
}

// ElevenLabsConfig holds the ElevenLabs provider settings. APIKey, when set
// from the environment, is inserted ahead of the configured credential list.
type ElevenLabsConfig struct {
	BaseURL     string             `toml:"base_url"`
	Model       string             `toml:"model"`
	APIKey      string             `toml:"api_key"     env:"ELEVENLABS_API_KEY"`
	Credentials []CredentialConfig `toml:"credentials"`
}

// GoogleTranslateConfig holds the Google Translate speech settings.
type GoogleTranslateConfig struct {
	Enabled bool `toml:"enabled"`
}

// OpenAIConfig holds the OpenAI speech settings.
type OpenAIConfig struct {
	BaseURL     string             `toml:"base_url"`
	Model       string             `toml:"model"`
	APIKey      string             `toml:"api_key"     env:"OPENAI_API_KEY"`
	Credentials []CredentialConfig `toml:"credentials"`
}

// ProvidersConfig groups the per-provider settings.
type ProvidersConfig struct {
	QuotaStaleSeconds int                   `toml:"quota_stale_seconds"`
	ElevenLabs        ElevenLabsConfig      `toml:"elevenlabs"`
	GoogleTranslate   GoogleTranslateConfig `toml:"googletranslate"`
	OpenAI            OpenAIConfig          `toml:"openai"`
}

// RemoteStorageConfig holds the remote file-server backend settings.
type RemoteStorageConfig struct {
	BaseURL        string `toml:"base_url"        env:"MIXDOWN_REMOTE_BASE_URL"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// S3StorageConfig holds the S3 backend settings.
type S3StorageConfig struct {
	Region          string `toml:"region"`
	Bucket          string `toml:"bucket"`
	Prefix          string `toml:"prefix"`
	Endpoint        string `toml:"endpoint"`
	AccessKeyID     string `toml:"access_key_id"     env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey string `toml:"secret_access_key" env:"AWS_SECRET_ACCESS_KEY"`
}

// DriveStorageConfig holds the Google Drive backend settings.
type DriveStorageConfig struct {
	FolderID        string `toml:"folder_id"`
	CredentialsPath string `toml:"credentials_path" env:"GOOGLE_APPLICATION_CREDENTIALS"`
}

// StorageConfig selects and configures the artifact storage backend.
type StorageConfig struct {
	Backend    string              `toml:"backend"`
	CatalogKey string              `toml:"catalog_key"`
	Remote     RemoteStorageConfig `toml:"remote"`
	S3         S3StorageConfig     `toml:"s3"`
	Drive      DriveStorageConfig  `toml:"drive"`
}

// MergeConfig holds the normalization and concatenation settings.
type MergeConfig struct {
	SampleRate     int    `toml:"sample_rate"`
	BitDepth       int    `toml:"bit_depth"`
	Channels       int    `toml:"channels"`
	MinSourceBytes int64  `toml:"min_source_bytes"`
	Workers        int    `toml:"workers"`
	FFmpegBinary   string `toml:"ffmpeg_binary"`
	WorkDir        string `toml:"work_dir"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
	QuotaFile   string `toml:"quota_file"`
}

// Config is the root configuration structure.
type Config struct {
	Service   ServiceConfig   `toml:"service"`
	NATS      NATSConfig      `toml:"nats"`
	Providers ProvidersConfig `toml:"providers"`
	Storage   StorageConfig   `toml:"storage"`
	Merge     MergeConfig     `toml:"merge"`
	Paths     PathsConfig     `toml:"paths"`
}

// Load loads the configuration for the mixdown-service. Values from the TOML
// file are overridden by environment variables for secrets and deployment
// endpoints, then defaulted where still unset.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	envErr := env.Parse(&cfg)
	if envErr != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", envErr)
	}

	cfg.ApplyDefaults()

	return &cfg, nil
}

// ApplyDefaults fills unset fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Service.HTTPPort == 0 {
		c.Service.HTTPPort = defaultHTTPPort
	}

	if c.Service.DefaultProvider == "" {
		c.Service.DefaultProvider = defaultProvider
	}

	if c.Service.DefaultVoice == "" {
		c.Service.DefaultVoice = defaultVoice
	}

	if c.Service.TimeoutSeconds == 0 {
		c.Service.TimeoutSeconds = defaultTimeoutSeconds
	}

	if c.NATS.SegmentStoreBucket == "" {
		c.NATS.SegmentStoreBucket = defaultSegmentStoreBucket
	}

	if c.Providers.QuotaStaleSeconds == 0 {
		c.Providers.QuotaStaleSeconds = defaultQuotaStaleSeconds
	}

	if c.Storage.CatalogKey == "" {
		c.Storage.CatalogKey = defaultCatalogKey
	}

	if c.Paths.QuotaFile == "" {
		c.Paths.QuotaFile = filepath.Join(os.TempDir(), defaultQuotaFileName)
	}

	c.applyMergeDefaults()
}

func (c *Config) applyMergeDefaults() {
	if c.Merge.SampleRate == 0 {
		c.Merge.SampleRate = defaultSampleRate
	}

	if c.Merge.BitDepth == 0 {
		c.Merge.BitDepth = defaultBitDepth
	}

	if c.Merge.Channels == 0 {
		c.Merge.Channels = defaultChannels
	}

	if c.Merge.MinSourceBytes == 0 {
		c.Merge.MinSourceBytes = defaultMinSourceBytes
	}

	if c.Merge.Workers == 0 {
		c.Merge.Workers = defaultMergeWorkers
	}

	if c.Merge.FFmpegBinary == "" {
		c.Merge.FFmpegBinary = defaultFFmpegBinary
	}
}
