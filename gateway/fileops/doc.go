// Package fileops is the file operation adapter. A Manager creates, reads,
// modifies, deletes and searches files below a base directory, usually the
// root of a working copy. Paths are confined to the base: ".." segments
// cannot escape it.
//
// Contents travel base64 encoded (see package payload). Reads and writes
// report the SHA-256 digest of the resulting file.
package fileops
