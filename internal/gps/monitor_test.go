package gps

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"testing"
	"time"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestMonitor_GpsdSource(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	handshake := make(chan string, 1)
	release := make(chan struct{})
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		r := bufio.NewReader(conn)
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		handshake <- line

		fmt.Fprintf(conn, `{"class":"VERSION","release":"3.25"}`+"\n")
		fmt.Fprintf(conn, `{"class":"TPV","mode":3,"lat":48.117,"lon":11.517,"speed":0.091}`+"\n")
		<-release
	}()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	port, _ := strconv.Atoi(portStr)

	store := NewStore()
	m := NewMonitor(store)
	if err := m.Start(context.Background(), GpsdSource{Host: host, Port: port}); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer m.Close()

	select {
	case line := <-handshake:
		if line != gpsdWatchCommand {
			t.Fatalf("handshake %q, want %q", line, gpsdWatchCommand)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no WATCH handshake received")
	}

	waitFor(t, "fix from TPV", func() bool {
		snap := store.Snapshot()
		return snap.HasFix()
	})

	snap := store.Snapshot()
	if snap.Source != "gpsd" {
		t.Fatalf("source=%q", snap.Source)
	}
	if snap.RawSentence == "" || len(snap.RawHistory) == 0 {
		t.Fatalf("expected raw history")
	}

	// Server-side close ends the loop; no retry, fix keeps its last value.
	close(release)
	waitFor(t, "loop exit", func() bool { return !m.Running() })

	finalSnap := store.Snapshot()
	if !finalSnap.HasFix() {
		t.Fatalf("fix must be retained after the loop stops")
	}
}

func TestMonitor_StartConnectError(t *testing.T) {
	// Grab a port and close it again so the dial fails fast.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	ln.Close()

	m := NewMonitor(NewStore())
	if err := m.Start(context.Background(), GpsdSource{Host: host, Port: port}); err == nil {
		m.Close()
		t.Fatalf("expected synchronous connect error")
	}
	if m.Running() {
		t.Fatalf("monitor must not be running after a failed start")
	}
}

type fakeProvider struct {
	ch chan LocationUpdate
}

func (p *fakeProvider) Subscribe(ctx context.Context, _ int, _ time.Duration) (<-chan LocationUpdate, error) {
	go func() {
		<-ctx.Done()
		close(p.ch)
	}()
	return p.ch, nil
}

func TestMonitor_PlatformSource(t *testing.T) {
	provider := &fakeProvider{ch: make(chan LocationUpdate, 1)}
	store := NewStore()
	m := NewMonitor(store)

	src := PlatformSource{Provider: provider, AccuracyM: 10, Interval: time.Second}
	if err := m.Start(context.Background(), src); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := m.Start(context.Background(), src); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second start err=%v, want ErrAlreadyRunning", err)
	}

	acc := 5.0
	provider.ch <- LocationUpdate{Latitude: 42.4389, Longitude: -71.1193, Accuracy: &acc}

	waitFor(t, "fix from platform update", func() bool {
		snap := store.Snapshot()
		return snap.HasFix()
	})

	snap := store.Snapshot()
	if snap.Source != "Platform Location" {
		t.Fatalf("source=%q", snap.Source)
	}
	if snap.Latitude == nil || *snap.Latitude != 42.4389 {
		t.Fatalf("lat=%v", snap.Latitude)
	}
	if snap.Accuracy == nil || *snap.Accuracy != 5.0 {
		t.Fatalf("accuracy=%v", snap.Accuracy)
	}

	m.Close()
	if m.Running() {
		t.Fatalf("monitor still running after Close")
	}

	// The monitor can be started again after a stop.
	provider2 := &fakeProvider{ch: make(chan LocationUpdate, 1)}
	if err := m.Start(context.Background(), PlatformSource{Provider: provider2}); err != nil {
		t.Fatalf("restart: %v", err)
	}
	m.Close()
}

func TestMonitor_GpsdParseErrorKeepsLoopAlive(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	release := make(chan struct{})
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		if _, err := r.ReadString('\n'); err != nil {
			return
		}
		// A malformed line followed by a good one: the loop must survive.
		fmt.Fprintf(conn, "{not json}\n")
		fmt.Fprintf(conn, `{"class":"TPV","lat":1.5,"lon":2.5}`+"\n")
		<-release
	}()
	defer close(release)

	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)

	store := NewStore()
	m := NewMonitor(store)
	if err := m.Start(context.Background(), GpsdSource{Host: host, Port: port}); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer m.Close()

	waitFor(t, "fix after malformed line", func() bool {
		snap := store.Snapshot()
		return snap.HasFix()
	})

	// The malformed line still entered the raw history.
	snap := store.Snapshot()
	found := false
	for _, raw := range snap.RawHistory {
		if raw == "{not json}" {
			found = true
		}
	}
	if !found {
		t.Fatalf("raw history=%v, want malformed line recorded", snap.RawHistory)
	}
}
