// Package server exposes the gateway over HTTP.
//
//	GET  /health              liveness and session count
//	POST /auth/start          start (or reuse) a session for user/owner/repo
//	GET  /auth/status/{id}    session state
//	POST /commands/execute    run a command batch in a session
//	POST /webhook             platform events, HMAC-SHA256 verified
//	POST /auth/logout         drop a session and its working copy
//
// Each session polls the device flow in a background goroutine and owns one
// pipeline, so sessions are isolated from each other.
package server
