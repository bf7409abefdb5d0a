// Package api exposes the HTTP surface of the request-serving process and a
// client for it.
//
// # Routes
//
//	POST   /transcribe        multipart upload (field "file"), API key
//	GET    /result/{task_id}  job status, API key
//	DELETE /job/{job_id}      remove the job's working directory, API key
//	GET    /health            liveness, no auth
//	GET    /metrics           Prometheus exposition, no auth
//
// The API key is accepted as "X-API-Key: <key>" or "Authorization: Bearer
// <key>". An empty configured key disables authentication.
//
// # Wire format
//
// Payloads use snake_case JSON. GET /result always answers 200 with one of
// four shapes selected by "status": not_found, processing, error or done.
// Errors raised by the server itself are {"error": "..."} with a 4xx or 5xx
// status.
package api
