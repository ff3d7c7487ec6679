// Package api hosts the HTTP server, middleware and REST handlers. Notable
// routes:
//   - POST /start-process/ queues a scrape job; GET /status/{job_id},
//     GET /result/{job_id} and GET /reports/{job_id} follow it.
//   - GET /jobs and DELETE /jobs/{job_id} manage job records.
//   - POST /process/, /filter_text/, /topics/ and /wordcloud/ run the
//     pipeline inline.
//   - GET /health, /healthz and /metrics for probes and Prometheus.
package api
