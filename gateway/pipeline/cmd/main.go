// Command repogate runs command batches against a
// repository on behalf of a device-flow authenticated
// user, or serves the same over HTTP.
//
//	repogate run -file batch.yaml [-workspace dir] [-format text]
//	repogate run -stdin -repo owner/name
//	repogate auth [-workspace dir]
//	repogate serve [-addr :8080]
//
// Settings come from the environment (see package config).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"

	"github.com/byte4ever/repogate/gateway/auth"
	"github.com/byte4ever/repogate/gateway/command"
	"github.com/byte4ever/repogate/gateway/config"
	"github.com/byte4ever/repogate/gateway/forge"
	"github.com/byte4ever/repogate/gateway/locator"
	"github.com/byte4ever/repogate/gateway/pipeline"
	"github.com/byte4ever/repogate/gateway/server"
)

const usage = `usage: repogate <command> [flags]

commands:
  run     execute a command batch
  auth    authenticate and print the resolved identity
  serve   start the HTTP service
`

// errBatchFailed marks a batch that ran but did not fully
// succeed; its report is already printed.
var errBatchFailed = errors.New("batch failed")

// sliceFlag implements flag.Value for multi-value
// string flags (repeated -flag=val usage).
type sliceFlag []string

// String returns the flag value as a comma-separated
// string representation.
func (s *sliceFlag) String() string {
	if s == nil {
		return ""
	}

	return strings.Join(*s, ",")
}

// Set appends a value to the slice.
func (s *sliceFlag) Set(val string) error {
	*s = append(*s, val)

	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM,
	)

	err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)

	stop()

	switch {
	case err == nil:
	case errors.Is(err, errBatchFailed):
		os.Exit(1)
	default:
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

// run dispatches to the subcommand named by args[0].
func run(
	ctx context.Context,
	args []string,
	stdin io.Reader,
	stdout io.Writer,
	stderr io.Writer,
) error {
	const errCtx = "running repogate"

	if len(args) == 0 {
		fmt.Fprint(stderr, usage)

		return fmt.Errorf("%s: missing command", errCtx)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(
		stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()},
	)))

	cli := &cli{cfg: cfg, stdin: stdin, stdout: stdout, stderr: stderr}

	switch args[0] {
	case "run":
		err = cli.run(ctx, args[1:])
	case "auth":
		err = cli.auth(ctx, args[1:])
	case "serve":
		err = cli.serve(ctx, args[1:])
	case "help", "-h", "-help", "--help":
		fmt.Fprint(stdout, usage)

		return nil
	default:
		fmt.Fprint(stderr, usage)

		return fmt.Errorf("%s: unknown command %q", errCtx, args[0])
	}

	if err != nil {
		return fmt.Errorf("%s: %s: %w", errCtx, args[0], err)
	}

	return nil
}

type cli struct {
	cfg    config.Config
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

// target holds the flags shared by run and auth.
type target struct {
	workspace *string
	repo      *string
	scopes    sliceFlag
}

func (c *cli) targetFlags(fs *flag.FlagSet) *target {
	t := &target{
		workspace: fs.String(
			"workspace", ".",
			"Directory the repository is detected from",
		),
		repo: fs.String(
			"repo", "",
			"Repository as owner/name, skips detection",
		),
	}

	fs.Var(
		&t.scopes,
		"scope",
		"OAuth scope to request (repeatable)",
	)

	return t
}

// prepare applies target flags to the configuration and
// resolves the explicit repository, nil when detection
// should run.
func (c *cli) prepare(t *target) (*locator.Reference, error) {
	if len(t.scopes) > 0 {
		c.cfg.Scopes = t.scopes
	}

	if err := c.cfg.Validate(); err != nil {
		return nil, err
	}

	if *t.repo == "" {
		return nil, nil //nolint:nilnil // nil means detect
	}

	owner, name, ok := strings.Cut(*t.repo, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return nil, fmt.Errorf("invalid -repo %q, want owner/name", *t.repo)
	}

	ref := locator.NewReference(c.cfg.Host, owner, name)

	return &ref, nil
}

func (c *cli) printGrant(g *auth.DeviceGrant) {
	fmt.Fprintln(c.stderr, g.Prompt(time.Now()))
}

func (c *cli) run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(c.stderr)

	t := c.targetFlags(fs)
	file := fs.String("file", "", "Batch file (.json, .yaml or .yml)")
	stdin := fs.Bool("stdin", false, "Read a JSON batch from stdin")
	format := fs.String("format", "json", "Output format: json or text")

	if err := fs.Parse(args); err != nil {
		return ignoreHelp(err)
	}

	if (*file == "") == !*stdin {
		return errors.New("exactly one of -file or -stdin is required")
	}

	if *format != "json" && *format != "text" {
		return fmt.Errorf("unknown format %q", *format)
	}

	ref, err := c.prepare(t)
	if err != nil {
		return err
	}

	var cmds []command.Command
	if *stdin {
		cmds, err = decodeBatch(c.stdin, formatJSON)
	} else {
		cmds, err = loadBatch(*file)
	}

	if err != nil {
		return err
	}

	session, err := c.cfg.NewSession(nil)
	if err != nil {
		return err
	}

	pl, err := pipeline.New(pipeline.Config{
		Session:       session,
		Provisioner:   c.cfg.NewProvisioner(),
		Repository:    ref,
		WorkspacePath: *t.workspace,
		Host:          c.cfg.Host,
		AuthTimeout:   c.cfg.AuthTimeout,
		OnDeviceCode:  c.printGrant,
	})
	if err != nil {
		return err
	}

	defer pl.Close()

	res := pl.Run(ctx, cmds)

	if *format == "text" {
		writeReport(c.stdout, res)
	} else if err := writeJSON(c.stdout, res); err != nil {
		return err
	}

	if !res.Success {
		return errBatchFailed
	}

	return nil
}

// authReport is printed by the auth command.
type authReport struct {
	State       auth.State         `json:"state"`
	Identity    forge.Identity     `json:"user"`
	Repository  *locator.Reference `json:"repository,omitempty"`
	Permissions *forge.Permissions `json:"permissions,omitempty"`
}

func (c *cli) auth(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("auth", flag.ContinueOnError)
	fs.SetOutput(c.stderr)

	t := c.targetFlags(fs)

	if err := fs.Parse(args); err != nil {
		return ignoreHelp(err)
	}

	ref, err := c.prepare(t)
	if err != nil {
		return err
	}

	session, err := c.cfg.NewSession(nil)
	if err != nil {
		return err
	}

	if err := session.Authenticate(
		ctx, c.cfg.AuthTimeout, c.printGrant,
	); err != nil {
		return err
	}

	id, err := session.Identity()
	if err != nil {
		return err
	}

	report := authReport{State: session.State(), Identity: id}

	if ref == nil {
		detected, err := locator.Detect(ctx, *t.workspace, c.cfg.Host)
		if err != nil {
			slog.Info("no repository detected", "error", err)

			return writeJSON(c.stdout, report)
		}

		ref = &detected
	}

	report.Repository = ref

	platform, err := session.Platform()
	if err != nil {
		return err
	}

	perms, err := platform.Permissions(ctx, ref.Owner, ref.Name, id.Login)
	if err != nil {
		return err
	}

	report.Permissions = &perms

	return writeJSON(c.stdout, report)
}

func (c *cli) serve(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(c.stderr)

	addr := fs.String("addr", c.cfg.Addr(), "Listen address")

	if err := fs.Parse(args); err != nil {
		return ignoreHelp(err)
	}

	if err := c.cfg.Validate(); err != nil {
		return err
	}

	srv, err := server.New(server.Config{
		NewSession: func() (*auth.Session, error) {
			return c.cfg.NewSession(nil)
		},
		Provisioner:   c.cfg.NewProvisioner(),
		Host:          c.cfg.Host,
		AuthTimeout:   c.cfg.AuthTimeout,
		WebhookSecret: c.cfg.WebhookSecret,
	})
	if err != nil {
		return err
	}

	slog.Info(
		"starting gateway",
		"platform", c.cfg.Platform,
		"host", c.cfg.Host,
		"base_url", c.cfg.AppBaseURL,
	)

	if err := srv.Serve(ctx, *addr); err != nil {
		return err
	}

	return nil
}

// ignoreHelp turns a -h request into a clean exit.
func ignoreHelp(err error) error {
	if errors.Is(err, flag.ErrHelp) {
		return nil
	}

	return err
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}

	return nil
}
