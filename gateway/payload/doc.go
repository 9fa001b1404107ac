// Package payload converts command payloads to and from their transport
// encoding. Payloads travel as standard base64 so arbitrary bytes and
// multi-line commit messages survive JSON and YAML batches unchanged.
package payload
