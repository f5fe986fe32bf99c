// Package api exposes the ledger and the task pipeline over HTTP.
//
// Client routes identify the caller with the X-Account-ID header, set by an
// authenticating proxy in front of the service. Worker callbacks that report
// progress and results are keyed by task ID only. Errors are mapped to
// status codes and safe messages in errors.go; internal details only reach
// the logs, after redaction.
package api
