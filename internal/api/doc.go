// Package api hosts the operator control surface. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/rss/run, /v1/scrape/run and /v1/jobs/{kind}/trigger to run jobs on demand.
//   - GET /v1/financial/... for exchange rates, gold prices and history.
//   - GET /v1/robots/check to explain a robots.txt decision.
package api
