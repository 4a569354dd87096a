// Package web exposes read-only Fix and tile surfaces to rendering clients
// over HTTP and WebSocket.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"gpsmon/internal/gps"
	"gpsmon/internal/tiles"
)

const broadcastInterval = 1 * time.Second

type Server struct {
	store *gps.Store
	cache *tiles.Cache

	upgrader  websocket.Upgrader
	clientsMu sync.Mutex
	clients   map[*wsClient]struct{}
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

func New(store *gps.Store, cache *tiles.Cache) *Server {
	return &Server{
		store: store,
		cache: cache,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*wsClient]struct{}),
	}
}

// statusResponse is the JSON view of the monitor state.
type statusResponse struct {
	Fix            gps.Fix     `json:"fix"`
	HasFix         bool        `json:"has_fix"`
	FixDescription string      `json:"fix_description"`
	Cache          tiles.Stats `json:"cache"`
}

// satelliteView adds the derived quality label to a satellite entry.
type satelliteView struct {
	gps.SatelliteInfo
	Quality gps.SignalQuality `json:"quality"`
}

// frame is pushed to WebSocket clients on every broadcast tick.
type frame struct {
	Fix    gps.Fix `json:"fix"`
	HasFix bool    `json:"has_fix"`
	Stamp  int64   `json:"stamp"` // Unix ms
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/satellites", s.handleSatellites)
	mux.HandleFunc("/api/preload", s.handlePreload)
	mux.HandleFunc("/tiles/", s.handleTile)
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

// Run serves until ctx is cancelled, broadcasting fix frames to WebSocket
// clients in the background.
func (s *Server) Run(ctx context.Context, listen string) error {
	srv := &http.Server{Addr: listen, Handler: s.Handler()}

	go s.broadcastLoop(ctx)

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()

	log.Printf("web: listening on %s", listen)
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	snap := s.store.Snapshot()
	resp := statusResponse{
		Fix:            snap,
		HasFix:         snap.HasFix(),
		FixDescription: snap.FixDescription(),
		Cache:          s.cache.Stats(),
	}
	writeJSON(w, resp)
}

func (s *Server) handleSatellites(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	snap := s.store.Snapshot()
	out := make([]satelliteView, 0, len(snap.SatelliteList))
	for _, sat := range snap.SatelliteList {
		out = append(out, satelliteView{SatelliteInfo: sat, Quality: sat.SignalQuality()})
	}
	writeJSON(w, out)
}

// handleTile serves /tiles/{zoom}/{x}/{y}.png from the cache. A miss kicks
// off a background download and answers 404; the client retries.
func (s *Server) handleTile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	key, ok := parseTilePath(r.URL.Path)
	if !ok {
		http.Error(w, "bad tile path", http.StatusBadRequest)
		return
	}

	b, err := s.cache.GetTile(key)
	if err != nil {
		if errors.Is(err, tiles.ErrNotFound) {
			s.cache.DownloadTileAsync(key)
			http.Error(w, "tile not cached yet", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(b)
}

func (s *Server) handlePreload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	lat, latErr := strconv.ParseFloat(q.Get("lat"), 64)
	lon, lonErr := strconv.ParseFloat(q.Get("lon"), 64)
	zoom, zoomErr := strconv.Atoi(q.Get("zoom"))
	if latErr != nil || lonErr != nil || zoomErr != nil {
		http.Error(w, "lat, lon and zoom are required", http.StatusBadRequest)
		return
	}
	radius := 1
	if v := q.Get("radius"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			radius = n
		}
	}

	s.cache.PreloadArea(lat, lon, zoom, radius)

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte("{\"ok\":true}\n"))
}

func parseTilePath(path string) (tiles.Key, bool) {
	rest, ok := strings.CutPrefix(path, "/tiles/")
	if !ok {
		return tiles.Key{}, false
	}
	name, ok := strings.CutSuffix(rest, ".png")
	if !ok {
		return tiles.Key{}, false
	}
	parts := strings.Split(name, "/")
	if len(parts) != 3 {
		return tiles.Key{}, false
	}
	zoom, err1 := strconv.Atoi(parts[0])
	x, err2 := strconv.Atoi(parts[1])
	y, err3 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return tiles.Key{}, false
	}
	return tiles.Key{Zoom: zoom, X: x, Y: y}, true
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("web: ws upgrade failed: %v", err)
		return
	}

	client := &wsClient{conn: conn, send: make(chan []byte, 16)}

	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	total := len(s.clients)
	s.clientsMu.Unlock()
	log.Printf("web: ws client connected (%d total)", total)

	// Writer.
	go func() {
		defer func() { _ = conn.Close() }()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}()

	// Reader; drains keep-alives and detects disconnect.
	go func() {
		defer func() {
			s.clientsMu.Lock()
			delete(s.clients, client)
			total := len(s.clients)
			s.clientsMu.Unlock()
			close(client.send)
			log.Printf("web: ws client disconnected (%d total)", total)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) broadcastLoop(ctx context.Context) {
	ticker := time.NewTicker(broadcastInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		snap := s.store.Snapshot()
		msg, err := json.Marshal(frame{
			Fix:    snap,
			HasFix: snap.HasFix(),
			Stamp:  time.Now().UnixMilli(),
		})
		if err != nil {
			continue
		}

		s.clientsMu.Lock()
		for client := range s.clients {
			select {
			case client.send <- msg:
			default:
				// Slow client; skip this frame.
			}
		}
		s.clientsMu.Unlock()
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		http.Error(w, "marshal failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(b)
	_, _ = w.Write([]byte("\n"))
}
