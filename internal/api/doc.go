// Package api hosts the operator status server. Notable routes:
//   - GET /healthz for liveness checks.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/sources lists configured sources and their profiles.
//   - GET /v1/sources/{source_id}/audit returns the latest run summary.
//   - GET /v1/sources/{source_id}/catalog returns the persisted catalog.
package api
