// Package forge abstracts the hosting platform behind a strategy interface.
//
// Platform answers the two questions the gateway asks a host once a session
// holds a token: who is the actor, and what may the actor do on a given
// repository. Implementations for GitHub and GitLab live in sub-packages.
package forge
