// Package httpx provides the shared outbound HTTP client: resty on a
// retrying transport, token-bucket pacing, correlation IDs, and status-code
// error conversion for the resilience layer.
package httpx
