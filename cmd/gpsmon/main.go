package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gpsmon/internal/config"
	"gpsmon/internal/gps"
	"gpsmon/internal/publish"
	"gpsmon/internal/tiles"
	"gpsmon/internal/web"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./gpsmon.yaml", "Path to YAML config")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store := gps.NewStore()
	monitor := gps.NewMonitor(store)

	src, err := sourceFromConfig(cfg.Source)
	if err != nil {
		log.Fatalf("source config invalid: %v", err)
	}

	log.Printf("gpsmon starting source=%s", cfg.Source.Type)
	if err := monitor.Start(ctx, src); err != nil {
		log.Fatalf("gps source start failed: %v", err)
	}
	defer monitor.Close()

	cache, err := tiles.New(tiles.Config{
		Dir:                    cfg.Tiles.Dir,
		URL:                    cfg.Tiles.URL,
		UserAgent:              cfg.Tiles.UserAgent,
		MaxMemoryTiles:         cfg.Tiles.MaxMemoryTiles,
		MaxConcurrentDownloads: cfg.Tiles.MaxConcurrentDownloads,
		FetchDelay:             cfg.Tiles.FetchDelay,
		Timeout:                cfg.Tiles.Timeout,
	})
	if err != nil {
		log.Fatalf("tile cache init failed: %v", err)
	}

	if cfg.Tiles.PreloadZoom > 0 {
		go preloadLoop(ctx, store, cache, cfg.Tiles)
	}

	if cfg.Web.Enable {
		srv := web.New(store, cache)
		go func() {
			if err := srv.Run(ctx, cfg.Web.Listen); err != nil && ctx.Err() == nil {
				log.Printf("web server stopped: %v", err)
				cancel()
			}
		}()
	}

	if cfg.MQTT.Enable {
		pub := publish.NewMQTT(cfg.MQTT.Broker, cfg.MQTT.ClientID, cfg.MQTT.Topic, cfg.MQTT.Interval, store)
		if err := pub.Connect(); err != nil {
			log.Printf("mqtt connect failed (will keep retrying): %v", err)
		}
		defer pub.Close()
		go pub.Run(ctx)
	}

	<-ctx.Done()
	log.Printf("gpsmon stopping")
}

func sourceFromConfig(cfg config.SourceConfig) (gps.Source, error) {
	switch cfg.Type {
	case "serial":
		return gps.SerialSource{Port: cfg.Serial.Port, Baud: cfg.Serial.Baud}, nil
	case "gpsd":
		return gps.GpsdSource{Host: cfg.Gpsd.Host, Port: cfg.Gpsd.Port}, nil
	case "file":
		return gps.FileSource{Path: cfg.File.Path, Delay: cfg.File.Delay}, nil
	case "platform":
		// The platform location service is supplied by the host integration;
		// this daemon build ships without one.
		return nil, fmt.Errorf("source type %q requires a platform location provider", cfg.Type)
	default:
		return nil, fmt.Errorf("unknown source type %q", cfg.Type)
	}
}

// preloadLoop keeps the tile cache warm around the current position.
func preloadLoop(ctx context.Context, store *gps.Store, cache *tiles.Cache, cfg config.TilesConfig) {
	ticker := time.NewTicker(cfg.PreloadInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		snap := store.Snapshot()
		if !snap.HasFix() {
			continue
		}
		cache.PreloadArea(*snap.Latitude, *snap.Longitude, cfg.PreloadZoom, cfg.PreloadRadius)
	}
}
