// Package http holds the chi HTTP handlers: update triggering and
// progress, seasonal statistics queries, catalog search and provider
// comparison, plus the websocket progress stream. Errors render as
// RFC 7807 problem details.
package http
