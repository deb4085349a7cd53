// Package config provides the configuration structure for the sovits-service.
package config

import (
	"fmt"
	"net"
	"strconv"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
)

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL                    string `toml:"url"`
	SpeechRequestedSubject string `toml:"speech_requested_subject"`
	AudioObjectStoreBucket string `toml:"audio_object_store_bucket"`
	SpeechStreamName       string `toml:"speech_stream_name"`
	SpeechConsumerName     string `toml:"speech_consumer_name"`
}

// SoVITSConfig holds the connection and sampling parameters for the
// GPT-SoVITS api_v2 service.
type SoVITSConfig struct {
	Host            string  `toml:"host"`
	Port            int     `toml:"port"`
	TimeoutSeconds  int     `toml:"timeout_seconds"`
	Workers         int     `toml:"workers"`
	TopK            int     `toml:"top_k"`
	TopP            float64 `toml:"top_p"`
	Temperature     float64 `toml:"temperature"`
	TextSplitMethod string  `toml:"text_split_method"`
	SpeedFactor     float64 `toml:"speed_factor"`
}

// URL returns the base URL of the api_v2 service.
func (s SoVITSConfig) URL() string {
	return "http://" + net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// LauncherConfig holds the settings for bootstrapping the api_v2 process.
type LauncherConfig struct {
	SoVITSDir  string `toml:"sovits_dir"`
	Entrypoint string `toml:"entrypoint"`
	PythonBin  string `toml:"python_bin"`
	BindHost   string `toml:"bind_host"`
	BindPort   int    `toml:"bind_port"`
}

// TrainingConfig holds the defaults for speaker model training.
type TrainingConfig struct {
	Epochs    int `toml:"epochs"`
	BatchSize int `toml:"batch_size"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	OutputsDir       string `toml:"outputs_dir"`
	TrainingDataDir  string `toml:"training_data_dir"`
	TrainedModelsDir string `toml:"trained_models_dir"`
	SpeakersDB       string `toml:"speakers_db"`
	BaseLogsDir      string `toml:"base_logs_dir"`
}

// HTTPConfig holds the settings for the platform HTTP API.
type HTTPConfig struct {
	ListenAddress string   `toml:"listen_address"`
	AllowOrigins  []string `toml:"allow_origins"`
}

// Config is the root configuration structure.
type Config struct {
	NATS     NATSConfig     `toml:"nats"`
	SoVITS   SoVITSConfig   `toml:"sovits"`
	Launcher LauncherConfig `toml:"launcher"`
	Training TrainingConfig `toml:"training"`
	Paths    PathsConfig    `toml:"paths"`
	HTTP     HTTPConfig     `toml:"http"`
}

// Load loads the configuration for the sovits-service.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	return &cfg, nil
}
