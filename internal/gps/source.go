package gps

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"go.bug.st/serial"
)

// Source describes a positioning input the monitor can attach to. Selecting
// a source is a configuration-time decision; all variants satisfy the same
// contract of yielding successive fix updates.
type Source interface {
	// Label is recorded on fixes produced by this source.
	Label() string

	open(ctx context.Context) (session, error)
}

// session is one established connection. next blocks until the next raw
// record arrives; apply parses the record into the fix and is called by the
// monitor with the store's write lock held.
type session interface {
	next() (string, error)
	apply(fix *Fix, raw string) error
	io.Closer
}

// SerialSource reads NMEA-0183 sentences from a serial receiver.
type SerialSource struct {
	Port string
	Baud int
}

func (s SerialSource) Label() string { return "Serial GPS" }

func (s SerialSource) open(_ context.Context) (session, error) {
	baud := s.Baud
	if baud == 0 {
		baud = 9600
	}
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(s.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("serial open %s at %d baud: %w", s.Port, baud, err)
	}
	return newLineSession(port, func(fix *Fix, raw string) error {
		ParseNMEA(fix, raw)
		return nil
	}), nil
}

// GpsdSource streams JSON reports from a gpsd daemon.
type GpsdSource struct {
	Host string
	Port int
}

func (s GpsdSource) Label() string { return "gpsd" }

func (s GpsdSource) open(ctx context.Context) (session, error) {
	host := s.Host
	if host == "" {
		host = "localhost"
	}
	port := s.Port
	if port == 0 {
		port = 2947
	}
	conn, err := DialGPSD(ctx, host, port)
	if err != nil {
		return nil, err
	}
	return newLineSession(conn, ParseGPSD), nil
}

// lineSession adapts a line-oriented byte stream plus a parser.
type lineSession struct {
	scanner *bufio.Scanner
	closer  io.Closer
	parse   func(*Fix, string) error
}

func newLineSession(rc io.ReadCloser, parse func(*Fix, string) error) *lineSession {
	sc := bufio.NewScanner(rc)
	// NMEA sentences are short; gpsd SKY reports can run long.
	sc.Buffer(make([]byte, 0, 4096), 256*1024)
	return &lineSession{scanner: sc, closer: rc, parse: parse}
}

func (s *lineSession) next() (string, error) {
	for {
		if !s.scanner.Scan() {
			err := s.scanner.Err()
			if err == nil {
				err = io.EOF
			}
			return "", err
		}
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" {
			continue
		}
		return line, nil
	}
}

func (s *lineSession) apply(fix *Fix, raw string) error {
	return s.parse(fix, raw)
}

func (s *lineSession) Close() error {
	return s.closer.Close()
}

// LocationUpdate is one asynchronous position callback from a platform
// location service.
type LocationUpdate struct {
	Latitude  float64
	Longitude float64
	Altitude  *float64
	Speed     *float64 // km/h
	Course    *float64 // degrees
	Accuracy  *float64 // meters
}

// LocationProvider is implemented by platform location services. Subscribe
// starts delivering updates at the requested accuracy (meters) and interval;
// the provider closes the channel when the context is cancelled or delivery
// stops.
type LocationProvider interface {
	Subscribe(ctx context.Context, accuracyM int, interval time.Duration) (<-chan LocationUpdate, error)
}

// PlatformSource adapts a platform location provider to the monitor.
type PlatformSource struct {
	Provider  LocationProvider
	AccuracyM int
	Interval  time.Duration
}

func (s PlatformSource) Label() string { return "Platform Location" }

func (s PlatformSource) open(ctx context.Context) (session, error) {
	if s.Provider == nil {
		return nil, fmt.Errorf("platform source: no location provider")
	}
	accuracy := s.AccuracyM
	if accuracy == 0 {
		accuracy = 10
	}
	interval := s.Interval
	if interval == 0 {
		interval = time.Second
	}
	subCtx, cancel := context.WithCancel(ctx)
	ch, err := s.Provider.Subscribe(subCtx, accuracy, interval)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("platform source subscribe: %w", err)
	}
	return &platformSession{ch: ch, cancel: cancel}, nil
}

type platformSession struct {
	ch      <-chan LocationUpdate
	cancel  context.CancelFunc
	pending LocationUpdate
}

func (s *platformSession) next() (string, error) {
	u, ok := <-s.ch
	if !ok {
		return "", io.EOF
	}
	s.pending = u
	return fmt.Sprintf("PLATFORM lat=%.6f lon=%.6f", u.Latitude, u.Longitude), nil
}

func (s *platformSession) apply(fix *Fix, _ string) error {
	u := s.pending
	lat, lon := u.Latitude, u.Longitude
	fix.Latitude = &lat
	fix.Longitude = &lon
	if u.Altitude != nil {
		fix.Altitude = u.Altitude
	}
	if u.Speed != nil {
		fix.Speed = u.Speed
	}
	if u.Course != nil {
		fix.Course = u.Course
	}
	if u.Accuracy != nil {
		fix.Accuracy = u.Accuracy
	}
	return nil
}

func (s *platformSession) Close() error {
	s.cancel()
	return nil
}
