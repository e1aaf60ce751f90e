package config

import "fmt"

type Config struct {
	Server  ServerConfig
	Preview PreviewConfig
	Storage StorageConfig
	Refresh RefreshConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port int
}

type PreviewConfig struct {
	BaseURL string
	APIKey  string
	Timeout string
}

type StorageConfig struct {
	DataDir string
}

type RefreshConfig struct {
	Interval      string
	WorkerEnabled bool
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Server: ServerConfig{
			Port: 4600,
		},
		Preview: PreviewConfig{
			BaseURL: "http://localhost:8787",
			Timeout: "15s",
		},
		Storage: StorageConfig{
			DataDir: dataDir,
		},
		Refresh: RefreshConfig{
			Interval:      "1h",
			WorkerEnabled: true,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file backend at
// $XDG_CONFIG_HOME/giftsync/config.json, then applies GIFTSYNC_*
// environment variable overrides on top.
//
// The preview service API key is a secret and can only be provided via
// the GIFTSYNC_PREVIEW_API_KEY environment variable.
func Load() (Config, error) {
	return loadWith(newFileBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Preview.APIKey == "" {
		return Config{}, fmt.Errorf("missing required config: preview service API key. " +
			"Set it via environment variable GIFTSYNC_PREVIEW_API_KEY")
	}

	return cfg, nil
}
