// Package app wires the license service together: configuration, logging,
// OpenTelemetry, Postgres, Redis, the licensing API client, chat webhooks,
// the optional spreadsheet ledger, business services and the chi router.
//
// # Initialization Flow
//
//	1. Load configuration (YAML file, then OBSIDIAN_* environment variables)
//	2. Initialize logging and OpenTelemetry
//	3. Connect and migrate Postgres, connect Redis
//	4. Create the licensing client, notifier and ledger
//	5. Build services, handlers and the router
//
// NewApplication performs every step. New starts at step 5 with already
// connected dependencies, which is what tests use.
//
// # Routes
//
// Everything lives under /api except /healthz, /metrics and the dashboard
// websocket. Cron and full sync runs are mounted outside the request
// timeout because they page through the entire licensing user list.
//
// # Shutdown
//
// Stop drains the HTTP server, stops the websocket hub and runtime gauges,
// waits for queued webhook deliveries and closes Redis and Postgres before
// flushing the OpenTelemetry providers. Errors are returned to the caller;
// the package never calls os.Exit.
package app
