// Package config loads gateway settings from the environment and builds the
// runtime collaborators from them: OAuth endpoints, the credential session,
// the hosting platform client and the working copy provisioner.
package config
