// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /api/crawler/start|stop and GET /api/crawler/status|logs drive the
//     external crawler through the orchestrator.
//   - GET /api/feed, GET /api/feed/stats and POST /api/feed/sync serve and
//     refresh the canonical monitor feed.
package api
