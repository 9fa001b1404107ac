// Package pipeline executes command batches against a repository. A
// Pipeline validates the whole batch, makes sure the credential session is
// authenticated and a working copy is provisioned, then dispatches commands
// one by one in ascending step order and stops at the first failure.
//
// The main entry point is Pipeline.Run, which returns a Result aggregating
// one StepResult per processed command.
package pipeline
