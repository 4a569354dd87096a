package gps

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"time"
)

// gpsdWatchCommand enables JSON streaming reports. It must be written
// immediately after connecting, before the first response line is read.
const gpsdWatchCommand = "?WATCH={\"enable\":true,\"json\":true}\n"

const gpsdDialTimeout = 5 * time.Second

// DialGPSD connects to a gpsd daemon over TCP and performs the WATCH
// handshake. The returned connection streams newline-delimited JSON.
func DialGPSD(ctx context.Context, host string, port int) (net.Conn, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	d := &net.Dialer{Timeout: gpsdDialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("gpsd connect %s: %w", addr, err)
	}
	if _, err := conn.Write([]byte(gpsdWatchCommand)); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("gpsd watch command: %w", err)
	}
	return conn, nil
}

// ParseError reports a malformed gpsd JSON line.
type ParseError struct {
	Line string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("gpsd json parse failed: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

type gpsdTPV struct {
	Time  string   `json:"time"`
	Mode  *int     `json:"mode"`
	Lat   *float64 `json:"lat"`
	Lon   *float64 `json:"lon"`
	Alt   *float64 `json:"alt"`
	Speed *float64 `json:"speed"`
	Track *float64 `json:"track"`
	Eph   *float64 `json:"eph"`
}

type gpsdSatellite struct {
	PRN  *int     `json:"PRN"`
	El   *float64 `json:"el"`
	Az   *float64 `json:"az"`
	SS   *float64 `json:"ss"`
	Used bool     `json:"used"`
}

type gpsdSKY struct {
	HDOP       *float64         `json:"hdop"`
	Satellites *[]gpsdSatellite `json:"satellites"`
}

type gpsdVersion struct {
	Release string `json:"release"`
}

type gpsdDevices struct {
	Devices []struct {
		Path string `json:"path"`
	} `json:"devices"`
}

// ParseGPSD applies a single gpsd JSON report to the fix. Unlike the NMEA
// parser, malformed JSON is reported as a *ParseError; unknown classes are
// not an error.
func ParseGPSD(fix *Fix, line string) error {
	var base struct {
		Class string `json:"class"`
	}
	if err := json.Unmarshal([]byte(line), &base); err != nil {
		return &ParseError{Line: line, Err: err}
	}

	switch strings.ToUpper(base.Class) {
	case "TPV":
		var tpv gpsdTPV
		if err := json.Unmarshal([]byte(line), &tpv); err != nil {
			return &ParseError{Line: line, Err: err}
		}
		applyTPV(fix, tpv)
	case "SKY":
		var sky gpsdSKY
		if err := json.Unmarshal([]byte(line), &sky); err != nil {
			return &ParseError{Line: line, Err: err}
		}
		applySKY(fix, sky)
	case "VERSION":
		var v gpsdVersion
		if err := json.Unmarshal([]byte(line), &v); err == nil && v.Release != "" {
			log.Printf("gps: connected to gpsd version %s", v.Release)
		}
	case "DEVICES":
		var d gpsdDevices
		if err := json.Unmarshal([]byte(line), &d); err == nil {
			log.Printf("gps: gpsd managing %d device(s)", len(d.Devices))
		}
	default:
		// Ignore other gpsd classes (WATCH, PPS, ...).
	}
	return nil
}

func applyTPV(fix *Fix, tpv gpsdTPV) {
	if tpv.Lat != nil {
		fix.Latitude = tpv.Lat
	}
	if tpv.Lon != nil {
		fix.Longitude = tpv.Lon
	}
	if tpv.Alt != nil {
		fix.Altitude = tpv.Alt
	}
	if tpv.Speed != nil {
		// gpsd reports m/s.
		kmh := *tpv.Speed * 3.6
		fix.Speed = &kmh
	}
	if tpv.Track != nil {
		fix.Course = tpv.Track
	}
	if tpv.Mode != nil {
		fix.Mode = tpv.Mode
	}
	if tpv.Eph != nil {
		fix.Accuracy = tpv.Eph
	}
	if tpv.Time != "" {
		if t, err := time.Parse(time.RFC3339Nano, tpv.Time); err == nil {
			utc := t.UTC()
			fix.Timestamp = &utc
		}
	}
}

// applySKY replaces the whole satellite list from the report's satellite
// array; entries absent from the array disappear. The satellite count is
// recomputed as the resulting list length.
func applySKY(fix *Fix, sky gpsdSKY) {
	if sky.HDOP != nil {
		fix.HDOP = sky.HDOP
	}
	if sky.Satellites == nil {
		return
	}

	list := make([]SatelliteInfo, 0, len(*sky.Satellites))
	for _, sat := range *sky.Satellites {
		if sat.PRN == nil {
			continue
		}
		list = append(list, SatelliteInfo{
			PRN:           *sat.PRN,
			Constellation: ConstellationFromPRN(*sat.PRN),
			Elevation:     sat.El,
			Azimuth:       sat.Az,
			SNR:           sat.SS,
			Used:          sat.Used,
		})
	}
	fix.SatelliteList = list
	count := len(list)
	fix.Satellites = &count
}
