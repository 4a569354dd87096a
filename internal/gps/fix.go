package gps

import (
	"fmt"
	"sync"
	"time"
)

// rawHistoryLen caps the kept raw-sentence history; oldest entries are
// evicted first.
const rawHistoryLen = 5

type Constellation string

const (
	ConstellationGPS     Constellation = "GPS"
	ConstellationSBAS    Constellation = "SBAS"
	ConstellationGLONASS Constellation = "GLONASS"
	ConstellationBeiDou  Constellation = "BEIDOU"
	ConstellationQZSS    Constellation = "QZSS"
	ConstellationGalileo Constellation = "GALILEO"
	ConstellationUnknown Constellation = "UNKNOWN"
)

// ConstellationFromPRN maps a satellite PRN to its constellation.
func ConstellationFromPRN(prn int) Constellation {
	switch {
	case prn >= 1 && prn <= 32:
		return ConstellationGPS
	case prn >= 33 && prn <= 64:
		return ConstellationSBAS
	case prn >= 65 && prn <= 96:
		return ConstellationGLONASS
	case prn >= 120 && prn <= 163:
		return ConstellationBeiDou
	case prn >= 193 && prn <= 197:
		return ConstellationQZSS
	case prn >= 211 && prn <= 246:
		return ConstellationGalileo
	default:
		return ConstellationUnknown
	}
}

type SignalQuality string

const (
	SignalExcellent SignalQuality = "Excellent"
	SignalGood      SignalQuality = "Good"
	SignalFair      SignalQuality = "Fair"
	SignalPoor      SignalQuality = "Poor"
	SignalVeryPoor  SignalQuality = "Very Poor"
	SignalUnknown   SignalQuality = "Unknown"
)

// SignalQualityFromSNR buckets a carrier-to-noise ratio (dB).
func SignalQualityFromSNR(snr *float64) SignalQuality {
	if snr == nil {
		return SignalUnknown
	}
	switch {
	case *snr >= 40:
		return SignalExcellent
	case *snr >= 35:
		return SignalGood
	case *snr >= 25:
		return SignalFair
	case *snr >= 15:
		return SignalPoor
	default:
		return SignalVeryPoor
	}
}

// SatelliteInfo is one tracked satellite. The constellation is assigned when
// the entry is created and never re-derived afterwards.
type SatelliteInfo struct {
	PRN           int           `json:"prn"`
	Constellation Constellation `json:"constellation"`
	Elevation     *float64      `json:"elevation,omitempty"`
	Azimuth       *float64      `json:"azimuth,omitempty"`
	SNR           *float64      `json:"snr,omitempty"`
	Used          bool          `json:"used"`
}

func (s SatelliteInfo) SignalQuality() SignalQuality {
	return SignalQualityFromSNR(s.SNR)
}

// Fix is the canonical snapshot of current position/motion/quality.
//
// Every field is independently optional: values from different sentence
// types may lag or be stale relative to each other. A fix is considered
// valid only when both latitude and longitude are present.
type Fix struct {
	Timestamp  *time.Time `json:"timestamp,omitempty"`
	Latitude   *float64   `json:"latitude,omitempty"`
	Longitude  *float64   `json:"longitude,omitempty"`
	Altitude   *float64   `json:"altitude_m,omitempty"`
	Speed      *float64   `json:"speed_kmh,omitempty"`
	Course     *float64   `json:"course_deg,omitempty"`
	Satellites *int       `json:"satellites,omitempty"`
	FixQuality *int       `json:"fix_quality,omitempty"`
	Mode       *int       `json:"mode,omitempty"`
	HDOP       *float64   `json:"hdop,omitempty"`
	Accuracy   *float64   `json:"accuracy_m,omitempty"`
	Source     string     `json:"source,omitempty"`

	SatelliteList []SatelliteInfo `json:"satellite_list,omitempty"`

	RawSentence string   `json:"raw_sentence,omitempty"`
	RawHistory  []string `json:"raw_history,omitempty"`
}

// HasFix reports whether the record holds a valid position.
func (f *Fix) HasFix() bool {
	return f.Latitude != nil && f.Longitude != nil
}

// AgeSeconds returns the age of the fix, or false when no timestamp is set.
func (f *Fix) AgeSeconds(nowUTC time.Time) (float64, bool) {
	if f.Timestamp == nil {
		return 0, false
	}
	return nowUTC.Sub(*f.Timestamp).Seconds(), true
}

// IsRecent reports whether the fix was updated within the last 10 seconds.
func (f *Fix) IsRecent(nowUTC time.Time) bool {
	age, ok := f.AgeSeconds(nowUTC)
	return ok && age < 10
}

// AddRawSentence records the latest raw line and appends it to the bounded
// history.
func (f *Fix) AddRawSentence(line string) {
	f.RawSentence = line
	f.RawHistory = append(f.RawHistory, line)
	if n := len(f.RawHistory); n > rawHistoryLen {
		f.RawHistory = f.RawHistory[n-rawHistoryLen:]
	}
}

// FixDescription returns a human-readable fix type, preferring the NMEA
// quality code over the gpsd mode.
func (f *Fix) FixDescription() string {
	if f.FixQuality != nil {
		switch *f.FixQuality {
		case 0:
			return "No fix"
		case 1:
			return "GPS"
		case 2:
			return "DGPS"
		case 3:
			return "PPS"
		case 4:
			return "RTK"
		case 5:
			return "Float RTK"
		case 6:
			return "Estimated"
		case 7:
			return "Manual"
		case 8:
			return "Simulation"
		default:
			return fmt.Sprintf("Unknown (%d)", *f.FixQuality)
		}
	}
	if f.Mode != nil {
		switch *f.Mode {
		case 1:
			return "No fix"
		case 2:
			return "2D fix"
		case 3:
			return "3D fix"
		default:
			return fmt.Sprintf("Mode %d", *f.Mode)
		}
	}
	return "Unknown"
}

// Clone returns a deep copy of the record. Parsers replace pointer fields
// rather than writing through them, so copying the slices is sufficient.
func (f *Fix) Clone() Fix {
	out := *f
	if f.SatelliteList != nil {
		out.SatelliteList = append([]SatelliteInfo(nil), f.SatelliteList...)
	}
	if f.RawHistory != nil {
		out.RawHistory = append([]string(nil), f.RawHistory...)
	}
	return out
}

// Store is the shared handle to the Fix. Exactly one writer (the running
// monitor loop) mutates it; arbitrarily many readers take snapshots.
type Store struct {
	mu  sync.RWMutex
	fix Fix
}

func NewStore() *Store {
	return &Store{}
}

// Update runs fn with the write lock held. fn must not block.
func (s *Store) Update(fn func(*Fix)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.fix)
}

// Snapshot returns a consistent copy of the current record.
func (s *Store) Snapshot() Fix {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fix.Clone()
}
