// Package config handles configuration loading for fleet-server.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from FLEET_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/fleetd/server.yaml, else ~/.config/fleetd/server.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${FLEET_JWT_SECRET}"
//
// Unset variables expand to the empty string. FLEET_DB_PATH, when set,
// replaces database.path.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	agents:
//	  heartbeat_interval: "30s"
//	auth:
//	  device_token_ttl: "720h"
//
// # Example
//
//	server:
//	  grpc_addr: "0.0.0.0:50051"
//	  http_addr: "0.0.0.0:8080"
//	database:
//	  path: "/var/lib/fleetd/fleet.db"
//	auth:
//	  jwt_secret: "${FLEET_JWT_SECRET}"
//	jobs:
//	  max_output_bytes: 65536
//	events:
//	  nats_url: "nats://127.0.0.1:4222"
//	logging:
//	  level: "info"
//	  format: "text"
//	metrics:
//	  enabled: true
package config
