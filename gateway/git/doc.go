// Package git is the git operation adapter. Repo wraps a local working copy
// and shells out to the git CLI for commit, push, pull, branch creation,
// branch switching and status.
//
// Network operations take a short-lived token. The remote URL is rewritten
// to carry the token only for the duration of the operation, under the
// repository lock, and is always restored afterwards so the credential never
// stays in the repository configuration.
package git
