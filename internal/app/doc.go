// Package app provides application initialization and lifecycle
// management. It wires configuration, logging, observability, the
// SQLite store, the active source adapter, the reconciliation
// coordinator and the HTTP transport into one container.
//
// # Initialization Flow
//
// The typical sequence:
//
//	1. Load configuration from the YAML file and environment
//	2. Initialize structured logging and OpenTelemetry
//	3. Open the SQLite store and run migrations
//	4. Build the configured source adapter
//	5. Create the coordinator, services and handlers
//	6. Configure the chi router and HTTP server
//
// # Graceful Shutdown
//
// SIGINT and SIGTERM drain in-flight requests, wait for an active
// reconciliation run to finish within the shutdown timeout, then close
// the store and flush telemetry.
//
// Initialization errors are returned to the caller; the package never
// calls os.Exit.
package app
