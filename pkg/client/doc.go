// Package client is the Go SDK for the document chain service.
//
// It wraps the HTTP API exposed by chaind: appending and reading documents
// through the integrity gate, reading the local chain verdict, managing
// alert recipients, and triggering on-demand integrity checks.
//
//	c, err := client.New("http://localhost:8080",
//	    client.WithBearerToken(os.Getenv("CHAIN_TOKEN")),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	doc, err := c.AppendDocument(ctx, map[string]any{
//	    "dataType":   "invoice",
//	    "identifier": "INV-1",
//	})
//
// Gated reads fail with an *APIError whose Code is "integrity_violation"
// (HTTP 409) or "integrity_indeterminate" (HTTP 503) when the server
// refuses to serve an untrusted chain. IsViolation and IsIndeterminate test
// for those cases.
package client
