package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	gh "github.com/google/go-github/v68/github"

	"github.com/byte4ever/repogate/gateway/errs"
	"github.com/byte4ever/repogate/gateway/forge"
)

// Config holds the settings needed to create a GitHub
// platform.
type Config struct {
	// HTTPClient is an already authenticated client (for
	// instance the one bound to a session token).
	HTTPClient *http.Client
	// AccessToken is used when HTTPClient is nil.
	AccessToken string
	// EnterpriseHost is an optional GitHub Enterprise
	// hostname (e.g. "git.corp.example.com"). Leave
	// empty for github.com.
	EnterpriseHost string
	// BaseURL overrides the API root. Takes precedence
	// over EnterpriseHost.
	BaseURL string
}

// Platform queries GitHub.
//
// Pattern: Strategy -- implements forge.Platform.
type Platform struct {
	client *gh.Client
}

// NewPlatform validates cfg and returns a Platform.
func NewPlatform(cfg Config) (*Platform, error) {
	const errCtx = "creating github platform"

	if cfg.HTTPClient == nil && cfg.AccessToken == "" {
		return nil, fmt.Errorf(
			"%s: http client or access token must be set: %w",
			errCtx, errs.ErrConfiguration,
		)
	}

	client := gh.NewClient(cfg.HTTPClient)
	if cfg.HTTPClient == nil {
		client = client.WithAuthToken(cfg.AccessToken)
	}

	switch {
	case cfg.BaseURL != "":
		base, err := url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf(
				"%s: base url: %w", errCtx, err,
			)
		}

		if base.Path == "" || base.Path[len(base.Path)-1] != '/' {
			base.Path += "/"
		}

		client.BaseURL = base

	case cfg.EnterpriseHost != "":
		baseURL := "https://" +
			cfg.EnterpriseHost + "/api/v3/"
		uploadURL := "https://" +
			cfg.EnterpriseHost + "/api/uploads/"

		var err error

		client, err = client.WithEnterpriseURLs(
			baseURL, uploadURL,
		)
		if err != nil {
			return nil, fmt.Errorf(
				"%s: enterprise urls: %w",
				errCtx, err,
			)
		}
	}

	return &Platform{client: client}, nil
}

// Identity fetches the authenticated user's profile. When
// the profile email is private the primary address of the
// user's email list is used; failing that Email stays
// empty.
func (p *Platform) Identity(
	ctx context.Context,
) (forge.Identity, error) {
	const errCtx = "fetching github identity"

	user, _, err := p.client.Users.Get(ctx, "")
	if err != nil {
		return forge.Identity{}, fmt.Errorf(
			"%s: %w", errCtx, upstream(err),
		)
	}

	id := forge.Identity{
		Login:       user.GetLogin(),
		DisplayName: user.GetName(),
		Email:       user.GetEmail(),
	}

	if id.DisplayName == "" {
		id.DisplayName = id.Login
	}

	if id.Email == "" {
		id.Email = p.primaryEmail(ctx)
	}

	return id, nil
}

// primaryEmail returns the primary address from the private
// email list, or empty string when unavailable.
func (p *Platform) primaryEmail(ctx context.Context) string {
	emails, _, err := p.client.Users.ListEmails(ctx, nil)
	if err != nil {
		slog.Warn(
			"cannot list private emails",
			"error", err,
		)

		return ""
	}

	for _, e := range emails {
		if e.GetPrimary() {
			return e.GetEmail()
		}
	}

	return ""
}

// Permissions returns the permission flags GitHub reports
// on owner/name for the authenticated actor. login is
// implied by the token. A repository GitHub returns is
// readable even without flags, as public ones are to
// non-collaborators.
func (p *Platform) Permissions(
	ctx context.Context,
	owner string,
	name string,
	_ string,
) (forge.Permissions, error) {
	const errCtx = "fetching github permissions"

	repo, _, err := p.client.Repositories.Get(ctx, owner, name)
	if err != nil {
		return forge.Permissions{}, fmt.Errorf(
			"%s: %w", errCtx, upstream(err),
		)
	}

	return permissionsFor(repo.GetPermissions()), nil
}

// permissionsFor maps repository permission flags onto
// forge.Permissions. Higher levels imply lower ones.
func permissionsFor(flags map[string]bool) forge.Permissions {
	perms := forge.Permissions{
		Admin: flags["admin"],
	}

	perms.Write = perms.Admin || flags["maintain"] || flags["push"]
	perms.Read = true

	return perms
}

// upstream converts a go-github error response into an
// *errs.UpstreamError. Other errors pass through.
func upstream(err error) error {
	var er *gh.ErrorResponse
	if !errors.As(err, &er) {
		return err
	}

	ue := &errs.UpstreamError{Message: er.Message}
	if er.Response != nil {
		ue.Status = er.Response.StatusCode
	}

	return ue
}
