// Package errs defines the error taxonomy shared by every gateway package.
//
// Sentinels are matched with errors.Is. UpstreamError and ValidationError
// carry structured detail and match their sentinel too, so callers never
// need to compare strings.
package errs
