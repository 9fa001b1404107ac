package forge

import (
	"context"
	"strings"

	"github.com/valyala/fasttemplate"
)

// Pattern: Strategy -- swap hosting platform without
// changing session or provisioning logic.

// noReplyTemplate builds the fallback commit address for
// actors without a usable email.
const noReplyTemplate = "{login}@users.noreply.{host}"

// Identity is the resolved actor of a session.
type Identity struct {
	// Login is the platform account name.
	Login string `json:"login"`
	// DisplayName is the human name, the login when unset.
	DisplayName string `json:"name"`
	// Email is empty when no public or primary address
	// could be found.
	Email string `json:"email,omitempty"`
}

// CommitEmail returns Email, or the platform no-reply
// address for the login when Email is empty.
func (id Identity) CommitEmail(host string) string {
	if id.Email != "" {
		return id.Email
	}

	return fasttemplate.ExecuteString(
		noReplyTemplate, "{", "}",
		map[string]any{
			"login": id.Login,
			"host":  strings.ToLower(host),
		},
	)
}

// CommitName returns DisplayName, or Login when unset.
func (id Identity) CommitName() string {
	if id.DisplayName != "" {
		return id.DisplayName
	}

	return id.Login
}

// Permissions are an actor's rights on a repository.
type Permissions struct {
	Read  bool `json:"read"`
	Write bool `json:"write"`
	Admin bool `json:"admin"`
}

// Platform queries a hosting platform on behalf of an
// authenticated actor.
type Platform interface {
	// Identity returns the authenticated actor.
	Identity(ctx context.Context) (Identity, error)
	// Permissions returns login's rights on owner/name.
	Permissions(
		ctx context.Context,
		owner string,
		name string,
		login string,
	) (Permissions, error)
}
