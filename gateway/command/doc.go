// Package command defines the command records a batch is made of, the
// per-kind validation table and the typed operations the pipeline
// dispatches on.
//
// A Command is the wire record. Parse turns a well-formed Command into an
// Op, one concrete type per kind, with payload decoding rules already
// applied: append markers are stripped from modify paths, search queries
// are split into a mode and a term, and commit messages are decoded.
package command
