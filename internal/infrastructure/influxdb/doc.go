// Package influxdb writes RoomLink telemetry points to an InfluxDB v2
// bucket.
//
// Connect pings the server once and opens a batched, non-blocking write
// API. Batch failures arrive asynchronously and are handed to the
// SetOnError callback. The telemetry package decides what is written.
//
// Every point offered to WritePoint is counted in
// roomlink_influxdb_points_total with result queued, dropped or failed.
package influxdb
