// Package gps ingests positioning telemetry from heterogeneous sources and
// normalizes it into one shared Fix record.
//
// - Parse NMEA-0183 GGA/RMC/GSV from a serial receiver
// - Parse the gpsd JSON streaming protocol over TCP
// - Accept asynchronous updates from a platform location provider
// - Run one background read loop per active source with cooperative stop
package gps
