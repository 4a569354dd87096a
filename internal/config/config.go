package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Source SourceConfig `yaml:"source"`
	Tiles  TilesConfig  `yaml:"tiles"`
	Web    WebConfig    `yaml:"web"`
	MQTT   MQTTConfig   `yaml:"mqtt"`
}

type SourceConfig struct {
	// Type selects how positions are ingested: "serial", "gpsd", "file"
	// or "platform". Defaults to "gpsd".
	Type string `yaml:"type"`

	Serial   SerialConfig   `yaml:"serial"`
	Gpsd     GpsdConfig     `yaml:"gpsd"`
	File     FileConfig     `yaml:"file"`
	Platform PlatformConfig `yaml:"platform"`
}

type SerialConfig struct {
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
}

type GpsdConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type FileConfig struct {
	Path  string        `yaml:"path"`
	Delay time.Duration `yaml:"delay"`
}

type PlatformConfig struct {
	AccuracyM int           `yaml:"accuracy_m"`
	Interval  time.Duration `yaml:"interval"`
}

type TilesConfig struct {
	Dir                    string        `yaml:"dir"`
	URL                    string        `yaml:"url"`
	UserAgent              string        `yaml:"user_agent"`
	MaxMemoryTiles         int           `yaml:"max_memory_tiles"`
	MaxConcurrentDownloads int           `yaml:"max_concurrent_downloads"`
	FetchDelay             time.Duration `yaml:"fetch_delay"`
	Timeout                time.Duration `yaml:"timeout"`

	// Preload settings for the background preloader; zoom 0 disables it.
	PreloadZoom     int           `yaml:"preload_zoom"`
	PreloadRadius   int           `yaml:"preload_radius"`
	PreloadInterval time.Duration `yaml:"preload_interval"`
}

type WebConfig struct {
	Enable bool   `yaml:"enable"`
	Listen string `yaml:"listen"`
}

type MQTTConfig struct {
	Enable   bool          `yaml:"enable"`
	Broker   string        `yaml:"broker"`
	ClientID string        `yaml:"client_id"`
	Topic    string        `yaml:"topic"`
	Interval time.Duration `yaml:"interval"`
}

// Load reads the YAML config at path, applying defaults. A missing file is
// not an error; the defaults describe a gpsd source on localhost.
func Load(path string) (Config, error) {
	var cfg Config

	b, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return Config{}, err
		}
	} else if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}

	if cfg.Source.Type == "" {
		cfg.Source.Type = "gpsd"
	}
	switch cfg.Source.Type {
	case "serial":
		if cfg.Source.Serial.Port == "" {
			return Config{}, fmt.Errorf("source.serial.port is required when source.type is serial")
		}
	case "file":
		if cfg.Source.File.Path == "" {
			return Config{}, fmt.Errorf("source.file.path is required when source.type is file")
		}
	case "gpsd", "platform":
	default:
		return Config{}, fmt.Errorf("source.type must be serial, gpsd, file or platform, got %q", cfg.Source.Type)
	}
	if cfg.Source.Serial.Baud <= 0 {
		cfg.Source.Serial.Baud = 9600
	}
	if cfg.Source.Gpsd.Host == "" {
		cfg.Source.Gpsd.Host = "localhost"
	}
	if cfg.Source.Gpsd.Port <= 0 {
		cfg.Source.Gpsd.Port = 2947
	}
	if cfg.Source.Platform.AccuracyM <= 0 {
		cfg.Source.Platform.AccuracyM = 10
	}
	if cfg.Source.Platform.Interval <= 0 {
		cfg.Source.Platform.Interval = 1 * time.Second
	}

	if cfg.Tiles.Dir == "" {
		cfg.Tiles.Dir = defaultTileDir()
	}
	if cfg.Tiles.MaxMemoryTiles <= 0 {
		cfg.Tiles.MaxMemoryTiles = 100
	}
	if cfg.Tiles.MaxConcurrentDownloads <= 0 {
		cfg.Tiles.MaxConcurrentDownloads = 4
	}
	if cfg.Tiles.FetchDelay <= 0 {
		cfg.Tiles.FetchDelay = 100 * time.Millisecond
	}
	if cfg.Tiles.Timeout <= 0 {
		cfg.Tiles.Timeout = 10 * time.Second
	}
	if cfg.Tiles.PreloadZoom < 0 || cfg.Tiles.PreloadZoom > 19 {
		return Config{}, fmt.Errorf("tiles.preload_zoom must be within 0..19, got %d", cfg.Tiles.PreloadZoom)
	}
	if cfg.Tiles.PreloadRadius <= 0 {
		cfg.Tiles.PreloadRadius = 1
	}
	if cfg.Tiles.PreloadInterval <= 0 {
		cfg.Tiles.PreloadInterval = 30 * time.Second
	}

	if cfg.Web.Listen == "" {
		cfg.Web.Listen = ":8080"
	}

	if cfg.MQTT.Broker == "" {
		cfg.MQTT.Broker = "tcp://localhost:1883"
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "gpsmon"
	}
	if cfg.MQTT.Topic == "" {
		cfg.MQTT.Topic = "gpsmon/fix"
	}
	if cfg.MQTT.Interval <= 0 {
		cfg.MQTT.Interval = 1 * time.Second
	}

	return cfg, nil
}

func defaultTileDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "gpsmon", "tiles")
	}
	return "tiles"
}
