// Package config loads and validates the Gray Logic Hub configuration.
//
// Configuration comes from three layers, later layers winning:
//
//  1. Hardcoded defaults
//  2. A YAML file (config.yaml)
//  3. GRAYLOGIC_* environment variables
//
// # Example
//
//	hub:
//	  host: "0.0.0.0"
//	  port: 12345
//	  data_dir: "./data/hub"
//	  attestation_file: "./data/attestation.ref"
//	  snapshot_interval: 30
//	database:
//	  path: "./data/hub.db"
//	  wal_mode: true
//	mqtt:
//	  enabled: false
//	influxdb:
//	  enabled: false
//	logging:
//	  level: "info"
//	  format: "json"
//
// Secrets (MQTT password, InfluxDB token) should be supplied via
// environment variables rather than committed to the config file.
package config
