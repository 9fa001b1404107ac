// Package workcopy provisions ephemeral working copies. A Provisioner checks
// the actor can read the repository, clones it into a fresh temporary
// directory with a short-lived credential, strips the credential from the
// remote and configures the committer identity of the authenticated actor.
package workcopy
