// Package github implements forge.Platform for GitHub (cloud or
// enterprise). Configure with a Config holding an authenticated HTTP client
// or an access token. Set EnterpriseHost for GitHub Enterprise
// installations.
package github
