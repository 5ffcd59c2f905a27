package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/agx/internal/bridge"
	"github.com/desertthunder/agx/internal/commands"
	"github.com/desertthunder/agx/internal/dispatch"
	"github.com/desertthunder/agx/internal/repositories"
	"github.com/desertthunder/agx/internal/services"
	"github.com/desertthunder/agx/internal/session"
	"github.com/desertthunder/agx/internal/shared"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"
)

// usedCommands lists every command the CLI and shell dispatch. The registry is checked against it before
// the first network call.
var usedCommands = []commands.Name{
	commands.HealthCheck, commands.AuthStatus, commands.AuthSetup, commands.AuthLogin, commands.AuthLogout,
	commands.ListAccounts, commands.CurrentAccount, commands.AddAccount, commands.DeleteAccount,
	commands.DeleteAccounts, commands.SwitchAccount, commands.ReorderAccounts, commands.ToggleProxyStatus,
	commands.FetchAccountQuota, commands.RefreshAllQuotas,
	commands.LoadConfig, commands.SaveConfig, commands.DataFolderPath,
	commands.ProxyStatus, commands.StartProxyService, commands.StopProxyService, commands.UpdateModelMapping,
	commands.FetchModels, commands.ClearProxySessionBindings, commands.GenerateAPIKey,
	commands.ProxyStats, commands.ProxyLogs, commands.SetProxyMonitorEnabled, commands.ClearProxyLogs,
	commands.WebOAuthURL, commands.SubmitWebOAuthCode,
	commands.PrepareOAuthURL, commands.StartOAuthLogin, commands.CompleteOAuthLogin, commands.CancelOAuthLogin,
	commands.ImportFromDB, commands.ImportV1Accounts, commands.ImportCustomDB,
}

// Runner holds all dependencies for CLI commands and provides methods for each command action.
//
// The transport is connected lazily so commands that never reach the backend (setup) work offline.
type Runner struct {
	config     *shared.Config
	configSet  bool
	httpClient *http.Client
	logger     *log.Logger
	output     io.Writer
	input      *bufio.Reader
	tty        *os.File
	getenv     func(string) string

	sender  dispatch.Sender
	network *dispatch.NetworkTransport
	bridge  *bridge.Client
	db      *sql.DB
	jar     *repositories.PersistentJar
	runs    *repositories.ImportRunRepository
	guard   *session.Guard
	admin   *services.AdminService
	closers []io.Closer
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	// Config skips loading the --config file when set.
	Config *shared.Config
	// Sender replaces transport detection. Used by tests.
	Sender     dispatch.Sender
	HTTPClient *http.Client
	Logger     *log.Logger
	Output     io.Writer
	Input      io.Reader
	Getenv     func(string) string
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	r := &Runner{configSet: opts.Config != nil, sender: opts.Sender}
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.Input == nil {
		opts.Input = os.Stdin
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Config.Backend.Timeout()}
	}
	if opts.Getenv == nil {
		opts.Getenv = os.Getenv
	}

	r.config = opts.Config
	r.httpClient = opts.HTTPClient
	r.logger = opts.Logger
	r.output = opts.Output
	r.input = bufio.NewReader(opts.Input)
	if f, ok := opts.Input.(*os.File); ok {
		r.tty = f
	}
	r.getenv = opts.Getenv
	return r
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		healthCommand, authCommand, accountsCommand, quotaCommand, configCommand, proxyCommand, monitorCommand,
		oauthCommand, importCommand, callCommand, setupCommand, tuiCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// app builds the root command.
func (r *Runner) app() *cli.Command {
	return &cli.Command{
		Name:    "agx",
		Usage:   "Administer an Antigravity proxy backend from the terminal",
		Version: "0.1.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Value:   "config.toml",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Override the configured log level (debug, info, warn, error)",
			},
		},
		Before:   r.before,
		After:    r.after,
		Commands: r.register(),
	}
}

// before loads the config file when one exists, then applies environment overrides.
func (r *Runner) before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	if !r.configSet {
		path := cmd.String("config")
		if _, err := os.Stat(path); err == nil {
			config, err := shared.LoadConfig(path)
			if err != nil {
				return ctx, err
			}
			r.config = config
			r.httpClient.Timeout = config.Backend.Timeout()
		}
	}
	r.config.ApplyEnv(r.getenv)
	if err := r.config.Validate(); err != nil {
		return ctx, err
	}

	level := r.config.Log.Level
	if v := cmd.String("log-level"); v != "" {
		level = v
	}
	shared.SetLogLevel(r.logger, shared.ParseLogLevel(level))
	return ctx, nil
}

func (r *Runner) after(ctx context.Context, cmd *cli.Command) error {
	r.Close()
	return nil
}

// Close releases the bridge connection and the database.
func (r *Runner) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i].Close(); err != nil {
			r.logger.Debug("close failed", "error", err)
		}
	}
	r.closers = nil
}

// SetLogger replaces the logger. Components created afterwards use it.
func (r *Runner) SetLogger(l *log.Logger) {
	r.logger = l
}

// store opens the local database once. Callers treat an error as "no persistence".
func (r *Runner) store() (*sql.DB, error) {
	if r.db != nil {
		return r.db, nil
	}
	db, err := shared.OpenDatabase(r.config.Database)
	if err != nil {
		return nil, err
	}
	r.db = db
	r.runs = repositories.NewImportRunRepository(db)
	r.closers = append(r.closers, db)
	return db, nil
}

// connect selects the transport and builds the guard and admin service.
func (r *Runner) connect(ctx context.Context) error {
	if r.admin != nil {
		return nil
	}

	if r.sender == nil {
		sender, err := r.dial(ctx)
		if err != nil {
			return err
		}
		r.sender = sender
	}

	r.guard = session.New(r.sender, session.Opts{
		MinPasswordLength: r.config.Session.MinPasswordLength,
		Logger:            r.logger,
	})
	r.admin = services.NewAdminService(r.sender, r.logger)

	if r.network != nil {
		r.network.SetUnauthorizedHandler(func(name commands.Name) {
			r.guard.ForceLogin(fmt.Sprintf("%s rejected the session", name))
			if r.jar != nil {
				if err := r.jar.Clear(r.jarURL()); err != nil {
					r.logger.Warn("failed to clear stored session", "error", err)
				}
			}
		})
	}
	return nil
}

// jarURL is the backend address the session cookie is stored under.
func (r *Runner) jarURL() *url.URL {
	u, err := url.Parse(r.network.BaseURL())
	if err != nil {
		return &url.URL{}
	}
	return u
}

func (r *Runner) dial(ctx context.Context) (dispatch.Sender, error) {
	sel, err := dispatch.Detect(r.config.Transport, r.getenv)
	if err != nil {
		return nil, err
	}

	if sel.Kind == dispatch.TransportBridge {
		client, err := bridge.Dial(ctx, sel.Socket, r.logger)
		if err != nil {
			return nil, err
		}
		r.bridge = client
		r.closers = append(r.closers, client)
		r.logger.Debug("using native bridge", "socket", sel.Socket)
		return dispatch.New(dispatch.NewBridgeTransport(client, r.logger), r.logger), nil
	}

	registry := commands.Default()
	if err := registry.Verify(usedCommands...); err != nil {
		return nil, err
	}

	base, err := url.Parse(r.config.Backend.BaseURL)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("%w: invalid backend base_url %q", shared.ErrInvalidConfig, r.config.Backend.BaseURL)
	}

	client := *r.httpClient
	if client.Jar == nil {
		client.Jar = r.cookieJar(base)
	}

	r.network = dispatch.NewNetworkTransport(base.String(),
		dispatch.WithHTTPClient(&client),
		dispatch.WithRegistry(registry),
		dispatch.WithLogger(r.logger),
	)
	r.logger.Debug("using admin api", "base_url", r.network.BaseURL())
	return dispatch.New(r.network, r.logger), nil
}

// cookieJar returns the persistent jar, or an in-memory one when the database cannot be opened.
func (r *Runner) cookieJar(base *url.URL) http.CookieJar {
	if _, err := r.store(); err != nil {
		r.logger.Warn("session will not persist between runs", "error", err)
		jar, _ := cookiejar.New(nil)
		return jar
	}

	r.jar = repositories.NewPersistentJar(repositories.NewCookieRepository(r.db), r.logger)
	if err := r.jar.Load(base); err != nil {
		r.logger.Warn("failed to load stored session", "error", err)
	}
	return r.jar
}

// protected connects and confirms the admin session before a protected command runs.
func (r *Runner) protected(ctx context.Context) error {
	if err := r.connect(ctx); err != nil {
		return err
	}
	if err := r.guard.Mount(ctx); err != nil {
		return err
	}
	return r.guard.RequireAuthenticated()
}

// readPassword prompts on the terminal without echo, or reads one line from piped input.
func (r *Runner) readPassword(prompt string) (string, error) {
	if r.tty != nil && term.IsTerminal(int(r.tty.Fd())) {
		fmt.Fprint(r.output, prompt)
		pw, err := term.ReadPassword(int(r.tty.Fd()))
		fmt.Fprintln(r.output)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(pw), nil
	}
	return r.readLine()
}

func (r *Runner) readLine() (string, error) {
	line, err := r.input.ReadString('\n')
	if err != nil {
		if !errors.Is(err, io.EOF) {
			return "", err
		}
		if line == "" {
			return "", fmt.Errorf("%w: no input", shared.ErrMissingArgument)
		}
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	output, err := shared.MarshalJSON(data, pretty)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainHeader(title string) {
	r.writePlain("═══════════════════════════════════════\n")
	r.writePlain("%v\n", title)
	r.writePlain("═══════════════════════════════════════\n")
}
