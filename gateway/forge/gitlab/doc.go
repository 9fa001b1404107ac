// Package gitlab implements forge.Platform for GitLab
// (gitlab.com or self-managed) using an OAuth bearer token.
package gitlab
