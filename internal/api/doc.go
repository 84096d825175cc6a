// Package api implements the HTTP REST API and WebSocket server for Atag One Core.
//
// This package provides:
//   - REST endpoints for the current report, device identity, and control updates
//   - WebSocket hub broadcasting report and endpoint changes
//   - Prometheus metrics at /metrics
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Graceful Degradation
//
// The server runs before the controller has been found. Until an endpoint is
// configured or discovered, device endpoints answer 503 with code
// "not_configured"; health, metrics and WebSocket connections keep working.
package api
