// Package handler implements the HTTP API of the document chain service:
// gated document routes, the ungated chain verdict, alert recipients and
// on-demand integrity checks, plus the shared metrics, rate limiting and
// bearer-token middleware.
package handler
