// Package influxdb wraps the InfluxDB v2 client for hub telemetry export.
//
// Accepted temperature reports are written as time-series points using the
// non-blocking batched write API. The integration is optional; when disabled
// in config the hub runs without it.
package influxdb
