// Package agent implements fleet-agent, the process that runs on each
// managed device.
//
// # Lifecycle
//
// Runtime.Run walks through these states:
//
//	Starting → LoadingModules → Registering → Connected → Running → ShuttingDown
//
// LoadingModules creates the module directory and loads the bundled factories
// and any manifests found there. Registering calls Register with the device's
// identity every register_retry_interval until the server returns a token, or
// until any successful response when a device_secret is configured. Connected
// opens AgentStream and waits for Welcome; Running sends heartbeats and runs
// each received job on its own goroutine.
//
// When the stream ends the agent shuts down, or with reconnect = true goes back
// to Registering. A session refused before Welcome always goes back to
// Registering, since the device may still be awaiting approval.
//
// # Jobs
//
// A job is resolved to the first module that can handle its command. Its
// arguments are parsed by ParseArguments and its script, if any, is passed in
// the __script parameter. Execution is bounded by job_timeout. Every job
// reports exactly one result: exit code 0 with the formatted output on
// success, -1 with a message otherwise. Jobs interrupted by shutdown still
// report on a detached context. A job id delivered twice within 30 minutes
// runs once.
//
// # Configuration
//
//	server_addr = "fleet.internal:50051"
//	tls = false
//	device_secret = "${FLEET_DEVICE_SECRET}"
//	modules_dir = "/var/lib/fleetd/modules"
//	register_retry_interval = "30s"
//	heartbeat_interval = "30s"
//	job_timeout = "30m"
//	reconnect = true
//	max_concurrent_jobs = 4
//
//	[logging]
//	level = "info"
//	format = "text"
package agent
