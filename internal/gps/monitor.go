package gps

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// ErrAlreadyRunning is returned by Start while a previous source connection
// is still active.
var ErrAlreadyRunning = errors.New("gps: monitor already running")

// Monitor owns one connection to an active source and the background read
// loop feeding the shared Fix store.
//
// Lifecycle: Start connects synchronously and spawns exactly one goroutine.
// The loop ends on EOF, on a transport error, or when the stop flag is
// observed between reads; there is no automatic retry, and the fix keeps its
// last known value. Reconnecting is the caller's decision (call Start
// again).
type Monitor struct {
	store *Store

	mu   sync.Mutex
	sess session
	stop *atomic.Bool
	wg   sync.WaitGroup
}

func NewMonitor(store *Store) *Monitor {
	return &Monitor{store: store}
}

// Start connects to src and begins the read loop. Connection-establishment
// failures are returned synchronously.
func (m *Monitor) Start(ctx context.Context, src Source) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess != nil {
		return ErrAlreadyRunning
	}

	sess, err := src.open(ctx)
	if err != nil {
		return err
	}

	stop := &atomic.Bool{}
	m.sess = sess
	m.stop = stop

	m.wg.Add(1)
	go m.run(sess, src.Label(), stop)

	log.Printf("gps: source started label=%q", src.Label())
	return nil
}

func (m *Monitor) run(sess session, label string, stop *atomic.Bool) {
	defer m.wg.Done()
	defer func() {
		_ = sess.Close()
		m.mu.Lock()
		if m.sess == sess {
			m.sess = nil
			m.stop = nil
		}
		m.mu.Unlock()
	}()

	for {
		// The blocking read is the loop's only suspension point; the stop
		// flag cannot preempt it.
		raw, err := sess.next()
		if err != nil {
			if !stop.Load() {
				log.Printf("gps: read stopped label=%q: %v", label, err)
			}
			return
		}

		var perr error
		m.store.Update(func(f *Fix) {
			now := time.Now().UTC()
			f.Timestamp = &now
			f.Source = label
			f.AddRawSentence(raw)
			perr = sess.apply(f, raw)
		})
		if perr != nil {
			log.Printf("gps: parse error: %v", perr)
		}

		if stop.Load() {
			return
		}
	}
}

// Running reports whether a source connection is currently active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess != nil
}

// Close requests a cooperative stop, closes the transport to unblock an
// in-flight read, and waits for the loop to exit.
func (m *Monitor) Close() {
	m.mu.Lock()
	sess := m.sess
	stop := m.stop
	m.mu.Unlock()

	if stop != nil {
		stop.Store(true)
	}
	if sess != nil {
		_ = sess.Close()
	}
	m.wg.Wait()
}
