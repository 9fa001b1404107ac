package gitlab

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	gl "gitlab.com/gitlab-org/api/client-go"

	"github.com/byte4ever/repogate/gateway/errs"
	"github.com/byte4ever/repogate/gateway/forge"
)

// Config holds the settings needed to create a GitLab
// platform.
type Config struct {
	// Host is the base URL of the GitLab instance
	// (e.g. "https://gitlab.com").
	Host string
	// AccessToken is the OAuth token obtained through the
	// device flow.
	AccessToken string
	// HTTPClient is optional; the library default is used
	// when nil.
	HTTPClient *http.Client
}

// Platform queries GitLab.
//
// Pattern: Strategy -- implements forge.Platform.
type Platform struct {
	client *gl.Client
}

// NewPlatform validates cfg and returns a Platform.
func NewPlatform(cfg Config) (*Platform, error) {
	const errCtx = "creating gitlab platform"

	if cfg.AccessToken == "" {
		return nil, fmt.Errorf(
			"%s: access token must be set: %w",
			errCtx, errs.ErrConfiguration,
		)
	}

	host := cfg.Host
	if host == "" {
		host = "https://gitlab.com"
	}

	opts := []gl.ClientOptionFunc{gl.WithBaseURL(host)}
	if cfg.HTTPClient != nil {
		opts = append(opts, gl.WithHTTPClient(cfg.HTTPClient))
	}

	client, err := gl.NewOAuthClient(cfg.AccessToken, opts...)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: new client: %w", errCtx, err,
		)
	}

	return &Platform{client: client}, nil
}

// Identity fetches the current user. The commit email is
// preferred over the public one, which is preferred over the
// account email.
func (p *Platform) Identity(
	ctx context.Context,
) (forge.Identity, error) {
	const errCtx = "fetching gitlab identity"

	user, _, err := p.client.Users.CurrentUser(
		gl.WithContext(ctx),
	)
	if err != nil {
		return forge.Identity{}, fmt.Errorf(
			"%s: %w", errCtx, upstream(err),
		)
	}

	id := forge.Identity{
		Login:       user.Username,
		DisplayName: user.Name,
	}

	if id.DisplayName == "" {
		id.DisplayName = id.Login
	}

	for _, e := range []string{
		user.CommitEmail, user.PublicEmail, user.Email,
	} {
		if e != "" {
			id.Email = e

			break
		}
	}

	return id, nil
}

// Permissions returns the token owner's effective access on
// owner/name. GitLab reports access for the authenticated
// user only, so login is informational.
func (p *Platform) Permissions(
	ctx context.Context,
	owner string,
	name string,
	_ string,
) (forge.Permissions, error) {
	const errCtx = "fetching gitlab permissions"

	project, _, err := p.client.Projects.GetProject(
		owner+"/"+name, nil, gl.WithContext(ctx),
	)
	if err != nil {
		return forge.Permissions{}, fmt.Errorf(
			"%s: %w", errCtx, upstream(err),
		)
	}

	var level gl.AccessLevelValue

	if pm := project.Permissions; pm != nil {
		if pm.ProjectAccess != nil {
			level = max(level, pm.ProjectAccess.AccessLevel)
		}

		if pm.GroupAccess != nil {
			level = max(level, pm.GroupAccess.AccessLevel)
		}
	}

	return permissionsFor(level), nil
}

// permissionsFor maps a GitLab access level onto flags.
func permissionsFor(level gl.AccessLevelValue) forge.Permissions {
	return forge.Permissions{
		Read:  level >= gl.ReporterPermissions,
		Write: level >= gl.DeveloperPermissions,
		Admin: level >= gl.MaintainerPermissions,
	}
}

// upstream converts a client error response into an
// *errs.UpstreamError. Other errors pass through.
func upstream(err error) error {
	var er *gl.ErrorResponse
	if !errors.As(err, &er) {
		return err
	}

	ue := &errs.UpstreamError{Message: er.Message}
	if er.Response != nil {
		ue.Status = er.Response.StatusCode
	}

	return ue
}
