package gps

import (
	"strconv"
	"strings"
)

// ParseNMEA applies a single NMEA-0183 sentence to the fix.
//
// Parsing is tolerant: individual fields that are empty or non-numeric are
// skipped and leave the prior value untouched, while sentences with too few
// comma-delimited fields are dropped whole. Unknown sentence types are
// ignored. It never fails on malformed input.
func ParseNMEA(fix *Fix, line string) {
	parts := strings.Split(line, ",")
	switch nmeaSentenceType(parts[0]) {
	case "GGA":
		applyGGA(fix, parts)
	case "RMC":
		applyRMC(fix, parts)
	case "GSV":
		applyGSV(fix, parts)
	}
}

// nmeaSentenceType extracts the 3-letter type from a "$GxYYY" header, or ""
// when the header does not look like one.
func nmeaSentenceType(header string) string {
	if len(header) != 6 || !strings.HasPrefix(header, "$G") {
		return ""
	}
	return header[3:]
}

// GGA: Global Positioning System Fix Data
// Fields:
//
//	1: time
//	2: latitude (ddmm.mmmm)
//	3: N/S
//	4: longitude (dddmm.mmmm)
//	5: E/W
//	6: fix quality
//	7: number of satellites
//	8: HDOP
//	9: altitude (meters)
func applyGGA(fix *Fix, parts []string) {
	if len(parts) < 15 {
		return
	}

	if lat, ok := parseCoordinate(parts[2], parts[3]); ok {
		fix.Latitude = &lat
	}
	if lon, ok := parseCoordinate(parts[4], parts[5]); ok {
		fix.Longitude = &lon
	}
	if q, err := strconv.Atoi(parts[6]); err == nil {
		fix.FixQuality = &q
	}
	if sats, err := strconv.Atoi(parts[7]); err == nil {
		fix.Satellites = &sats
	}
	if hdop, ok := parseFloat(parts[8]); ok {
		fix.HDOP = &hdop
	}
	if alt, ok := parseFloat(parts[9]); ok {
		fix.Altitude = &alt
	}
}

// RMC: Recommended Minimum Specific GNSS Data
// Fields:
//
//	7: speed over ground (knots)
//	8: course over ground (deg)
func applyRMC(fix *Fix, parts []string) {
	if len(parts) < 10 {
		return
	}

	if kt, ok := parseFloat(parts[7]); ok {
		kmh := kt * 1.852
		fix.Speed = &kmh
	}
	if course, ok := parseFloat(parts[8]); ok {
		fix.Course = &course
	}
}

// GSV: Satellites in view
// Fields:
//
//	1: total number of messages in this series
//	2: message index (1-based)
//	3: satellites in view
//	4..: up to 4 groups of PRN, elevation, azimuth, SNR
//
// The constellation comes from the talker prefix. Message index 1 purges the
// previously tracked satellites of that constellation only; satellites seen
// again within a series are overwritten in place by PRN.
func applyGSV(fix *Fix, parts []string) {
	if len(parts) < 4 {
		return
	}

	constellation := constellationFromTalker(parts[0])
	msgIndex, err := strconv.Atoi(parts[2])
	if err != nil {
		return
	}

	if msgIndex == 1 {
		kept := fix.SatelliteList[:0]
		for _, sat := range fix.SatelliteList {
			if sat.Constellation != constellation {
				kept = append(kept, sat)
			}
		}
		fix.SatelliteList = kept
	}

	for i := 4; i+3 < len(parts); i += 4 {
		prn, err := strconv.Atoi(strings.TrimSpace(parts[i]))
		if err != nil {
			continue
		}
		sat := SatelliteInfo{PRN: prn, Constellation: constellation}
		if el, ok := parseFloat(parts[i+1]); ok {
			sat.Elevation = &el
		}
		if az, ok := parseFloat(parts[i+2]); ok {
			sat.Azimuth = &az
		}
		// The last SNR field may carry the sentence checksum suffix.
		snrField := parts[i+3]
		if star := strings.IndexByte(snrField, '*'); star != -1 {
			snrField = snrField[:star]
		}
		if snr, ok := parseFloat(snrField); ok {
			sat.SNR = &snr
		}
		upsertSatellite(fix, sat)
	}
}

func upsertSatellite(fix *Fix, sat SatelliteInfo) {
	for i := range fix.SatelliteList {
		if fix.SatelliteList[i].PRN == sat.PRN {
			fix.SatelliteList[i] = sat
			return
		}
	}
	fix.SatelliteList = append(fix.SatelliteList, sat)
}

func constellationFromTalker(header string) Constellation {
	if len(header) < 3 {
		return ConstellationUnknown
	}
	switch header[1:3] {
	case "GP":
		return ConstellationGPS
	case "GL":
		return ConstellationGLONASS
	case "GA":
		return ConstellationGalileo
	case "GB":
		return ConstellationBeiDou
	default:
		return ConstellationUnknown
	}
}

// parseCoordinate converts NMEA ddmm.mmmm (or dddmm.mmmm) plus a hemisphere
// flag to decimal degrees; S and W flip the sign.
func parseCoordinate(value, hemi string) (float64, bool) {
	if value == "" || hemi == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, false
	}
	deg := float64(int(v / 100))
	min := v - deg*100
	dec := deg + min/60
	if hemi == "S" || hemi == "W" {
		dec = -dec
	}
	return dec, true
}

func parseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
