package gps

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

// FileSource replays a recorded sentence log. The log is line-oriented
// text: blank lines and lines starting with '#' are ignored, every other
// line is fed to the NMEA parser. Useful for regression runs and demos
// without a receiver attached.
type FileSource struct {
	Path string
	// Delay paces playback; each sentence is delivered after this pause.
	// Zero replays the file as fast as the loop consumes it.
	Delay time.Duration
}

func (s FileSource) Label() string { return "Replay" }

func (s FileSource) open(_ context.Context) (session, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("replay open: %w", err)
	}
	inner := newLineSession(f, func(fix *Fix, raw string) error {
		ParseNMEA(fix, raw)
		return nil
	})
	return &replaySession{inner: inner, delay: s.Delay}, nil
}

type replaySession struct {
	inner *lineSession
	delay time.Duration
}

func (s *replaySession) next() (string, error) {
	for {
		line, err := s.inner.next()
		if err != nil {
			return "", err
		}
		if strings.HasPrefix(line, "#") {
			continue
		}
		if s.delay > 0 {
			time.Sleep(s.delay)
		}
		return line, nil
	}
}

func (s *replaySession) apply(fix *Fix, raw string) error {
	return s.inner.apply(fix, raw)
}

func (s *replaySession) Close() error {
	return s.inner.Close()
}
