package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gpsmon.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if cfg.Source.Type != "gpsd" {
		t.Fatalf("source type=%q, want gpsd", cfg.Source.Type)
	}
	if cfg.Source.Gpsd.Host != "localhost" || cfg.Source.Gpsd.Port != 2947 {
		t.Fatalf("gpsd defaults: %+v", cfg.Source.Gpsd)
	}
	if cfg.Source.Serial.Baud != 9600 {
		t.Fatalf("baud=%d, want 9600", cfg.Source.Serial.Baud)
	}
	if cfg.Tiles.MaxMemoryTiles != 100 || cfg.Tiles.MaxConcurrentDownloads != 4 {
		t.Fatalf("tile defaults: %+v", cfg.Tiles)
	}
	if cfg.Tiles.FetchDelay != 100*time.Millisecond || cfg.Tiles.Timeout != 10*time.Second {
		t.Fatalf("tile timing defaults: %+v", cfg.Tiles)
	}
	if cfg.Tiles.Dir == "" {
		t.Fatalf("expected a default tile dir")
	}
	if cfg.Web.Listen != ":8080" {
		t.Fatalf("web listen=%q", cfg.Web.Listen)
	}
	if cfg.MQTT.Broker != "tcp://localhost:1883" || cfg.MQTT.Topic != "gpsmon/fix" {
		t.Fatalf("mqtt defaults: %+v", cfg.MQTT)
	}
}

func TestLoad_SerialSource(t *testing.T) {
	path := writeConfig(t, `
source:
  type: serial
  serial:
    port: /dev/ttyACM0
    baud: 115200
tiles:
  dir: /tmp/gpsmon-tiles
  preload_zoom: 13
web:
  enable: true
  listen: ":9090"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if cfg.Source.Type != "serial" || cfg.Source.Serial.Port != "/dev/ttyACM0" || cfg.Source.Serial.Baud != 115200 {
		t.Fatalf("source: %+v", cfg.Source)
	}
	if cfg.Tiles.Dir != "/tmp/gpsmon-tiles" {
		t.Fatalf("tile dir=%q", cfg.Tiles.Dir)
	}
	if cfg.Tiles.PreloadZoom != 13 || cfg.Tiles.PreloadRadius != 1 || cfg.Tiles.PreloadInterval != 30*time.Second {
		t.Fatalf("preload: %+v", cfg.Tiles)
	}
	if !cfg.Web.Enable || cfg.Web.Listen != ":9090" {
		t.Fatalf("web: %+v", cfg.Web)
	}
}

func TestLoad_SerialRequiresPort(t *testing.T) {
	path := writeConfig(t, "source:\n  type: serial\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for missing serial port")
	}
}

func TestLoad_FileSource(t *testing.T) {
	path := writeConfig(t, `
source:
  type: file
  file:
    path: /var/log/drive.nmea
    delay: 100ms
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if cfg.Source.File.Path != "/var/log/drive.nmea" || cfg.Source.File.Delay != 100*time.Millisecond {
		t.Fatalf("file source: %+v", cfg.Source.File)
	}
}

func TestLoad_FileSourceRequiresPath(t *testing.T) {
	path := writeConfig(t, "source:\n  type: file\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for missing replay path")
	}
}

func TestLoad_UnknownSourceType(t *testing.T) {
	path := writeConfig(t, "source:\n  type: carrier-pigeon\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown source type")
	}
}

func TestLoad_BadPreloadZoom(t *testing.T) {
	path := writeConfig(t, "tiles:\n  preload_zoom: 25\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for out-of-range preload zoom")
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := writeConfig(t, "source: [not a map\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected yaml error")
	}
}
