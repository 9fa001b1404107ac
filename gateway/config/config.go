package config

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"golang.org/x/oauth2"

	"github.com/byte4ever/repogate/gateway/auth"
	"github.com/byte4ever/repogate/gateway/errs"
	"github.com/byte4ever/repogate/gateway/forge"
	ghplat "github.com/byte4ever/repogate/gateway/forge/github"
	glplat "github.com/byte4ever/repogate/gateway/forge/gitlab"
	"github.com/byte4ever/repogate/gateway/git"
	"github.com/byte4ever/repogate/gateway/workcopy"
)

// Supported hosting platforms.
const (
	PlatformGitHub = "github"
	PlatformGitLab = "gitlab"
)

// Config holds the gateway settings.
type Config struct {
	// ClientID is the OAuth application id used for the
	// device flow.
	ClientID string `env:"GITHUB_CLIENT_ID"`
	// ClientSecret is not needed by the device flow.
	ClientSecret string `env:"GITHUB_CLIENT_SECRET"`
	// WebhookSecret verifies webhook signatures. Empty
	// disables the webhook endpoint.
	WebhookSecret string `env:"GITHUB_WEBHOOK_SECRET"`

	// Platform is "github" or "gitlab".
	Platform string `env:"GATEWAY_PLATFORM" envDefault:"github"`
	// Host is the platform hostname. Defaults to
	// github.com or gitlab.com.
	Host string `env:"GATEWAY_HOST"`
	// Scopes requested with the device code. Defaults
	// depend on the platform.
	Scopes []string `env:"GATEWAY_SCOPES" envSeparator:","`

	AuthTimeout time.Duration `env:"GATEWAY_AUTH_TIMEOUT" envDefault:"5m"`
	TmpDir      string        `env:"GATEWAY_TMP_DIR"`
	GitMirror   string        `env:"GATEWAY_GIT_MIRROR"`

	AppBaseURL string `env:"APP_BASE_URL" envDefault:"http://localhost:8080"`
	Port       int    `env:"PORT" envDefault:"8080"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load reads the process environment.
func Load() (Config, error) {
	return parse(env.Options{})
}

// LoadFrom reads the given environment instead of the
// process one.
func LoadFrom(environ map[string]string) (Config, error) {
	return parse(env.Options{Environment: environ})
}

func parse(opts env.Options) (Config, error) {
	const errCtx = "loading configuration"

	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf(
			"%s: %w: %w", errCtx, errs.ErrConfiguration, err,
		)
	}

	cfg.Platform = strings.ToLower(strings.TrimSpace(cfg.Platform))
	cfg.Host = strings.ToLower(strings.TrimSpace(cfg.Host))

	if cfg.Host == "" {
		switch cfg.Platform {
		case PlatformGitLab:
			cfg.Host = "gitlab.com"
		default:
			cfg.Host = "github.com"
		}
	}

	if len(cfg.Scopes) == 0 {
		switch cfg.Platform {
		case PlatformGitLab:
			cfg.Scopes = []string{"api"}
		default:
			cfg.Scopes = []string{"repo", "user:email"}
		}
	}

	return cfg, nil
}

// Validate reports settings the gateway cannot run with.
func (c Config) Validate() error {
	const errCtx = "validating configuration"

	if c.ClientID == "" {
		return fmt.Errorf(
			"%s: GITHUB_CLIENT_ID must be set: %w",
			errCtx, errs.ErrConfiguration,
		)
	}

	switch c.Platform {
	case PlatformGitHub, PlatformGitLab:
	default:
		return fmt.Errorf(
			"%s: unknown platform %q: %w",
			errCtx, c.Platform, errs.ErrConfiguration,
		)
	}

	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf(
			"%s: invalid port %d: %w",
			errCtx, c.Port, errs.ErrConfiguration,
		)
	}

	return nil
}

// SlogLevel parses LogLevel, falling back to info.
func (c Config) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}

	return lvl
}

// Endpoint returns the OAuth device flow endpoints of the
// platform.
func (c Config) Endpoint() oauth2.Endpoint {
	base := "https://" + c.Host

	if c.Platform == PlatformGitLab {
		return oauth2.Endpoint{
			DeviceAuthURL: base + "/oauth/authorize_device",
			TokenURL:      base + "/oauth/token",
		}
	}

	return oauth2.Endpoint{
		DeviceAuthURL: base + "/login/device/code",
		TokenURL:      base + "/login/oauth/access_token",
	}
}

// CredentialUser is the URL username paired with a token
// for git remotes.
func (c Config) CredentialUser() string {
	if c.Platform == PlatformGitLab {
		return "oauth2"
	}

	return git.DefaultCredentialUser
}

// NewPlatform builds the platform client bound to an
// authenticated HTTP client.
//
// Pattern: Factory -- selects platform implementation at
// runtime.
func (c Config) NewPlatform(
	client *http.Client,
	token string,
) (forge.Platform, error) {
	switch c.Platform {
	case PlatformGitLab:
		return glplat.NewPlatform(glplat.Config{
			Host:        "https://" + c.Host,
			AccessToken: token,
			HTTPClient:  client,
		})
	default:
		cfg := ghplat.Config{HTTPClient: client, AccessToken: token}
		if c.Host != "github.com" {
			cfg.EnterpriseHost = c.Host
		}

		return ghplat.NewPlatform(cfg)
	}
}

// NewSession builds an unauthenticated credential session.
// base may be nil.
func (c Config) NewSession(base *http.Client) (*auth.Session, error) {
	return auth.NewSession(auth.Config{
		ClientID:    c.ClientID,
		Scopes:      c.Scopes,
		Endpoint:    c.Endpoint(),
		HTTPClient:  base,
		NewPlatform: c.NewPlatform,
	})
}

// NewProvisioner builds the working copy provisioner.
func (c Config) NewProvisioner() *workcopy.Provisioner {
	return workcopy.NewProvisioner(workcopy.Config{
		TmpDir:         c.TmpDir,
		Mirror:         c.GitMirror,
		CredentialUser: c.CredentialUser(),
	})
}

// Addr is the listen address of the HTTP service.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
