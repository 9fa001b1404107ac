// Package auth implements the credential session: an OAuth device
// authorization flow driven as an explicit state machine.
//
//	unauthenticated --Start--> pending --authorized--> authenticated
//	pending --access_denied--> denied
//	pending --expired_token | timeout--> expired
//	pending --slow_down--> pending (interval grows by 5s)
//
// Each token exchange is one discrete transition (Session.Step). Poll drives
// Step from an injected Clock so tests control time. The access token lives
// in memory only and is dropped by Invalidate.
package auth
