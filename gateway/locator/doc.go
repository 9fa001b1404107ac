// Package locator finds the hosted repository a local working copy belongs
// to. It walks up from a start directory to the nearest working copy, reads
// the origin remote and parses owner and name from HTTPS or SSH URLs.
//
// Detection never touches the network. Failure to detect is reported as
// errs.ErrNotDetected and is not fatal for callers that can be given a
// repository explicitly.
package locator
