// submodule cmd contains command definitions
package main

import (
	"time"

	"github.com/urfave/cli/v3"
)

func jsonFlag() cli.Flag {
	return &cli.BoolFlag{Name: "json", Usage: "Output raw JSON"}
}

// healthCommand probes the backend
func healthCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "Check that the backend is reachable",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "wait", Usage: "Poll until the backend reports ready"},
			&cli.DurationFlag{Name: "timeout", Usage: "Give up waiting after this long", Value: 30 * time.Second},
			&cli.DurationFlag{Name: "interval", Usage: "Delay between probes while waiting", Value: time.Second},
		},
		Action: r.Health,
	}
}

// authCommand handles the admin session
func authCommand(r *Runner) *cli.Command {
	passwordFlag := &cli.StringFlag{
		Name:    "password",
		Aliases: []string{"p"},
		Usage:   "Admin password (prompted when omitted)",
		Sources: cli.EnvVars("AGX_PASSWORD"),
	}
	return &cli.Command{
		Name:  "auth",
		Usage: "Manage the admin session",
		Commands: []*cli.Command{
			{
				Name:   "status",
				Usage:  "Show whether a password is set and the stored session is valid",
				Flags:  []cli.Flag{jsonFlag()},
				Action: r.AuthStatus,
			},
			{
				Name:   "setup",
				Usage:  "Set the first admin password",
				Flags:  []cli.Flag{passwordFlag},
				Action: r.AuthSetup,
			},
			{
				Name:   "login",
				Usage:  "Log in and store the session cookie",
				Flags:  []cli.Flag{passwordFlag},
				Action: r.AuthLogin,
			},
			{
				Name:   "logout",
				Usage:  "End the session",
				Action: r.AuthLogout,
			},
		},
	}
}

// accountsCommand handles upstream accounts
func accountsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "accounts",
		Aliases: []string{"acc"},
		Usage:   "Manage upstream accounts",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List accounts with status and lowest quota",
				Flags:  []cli.Flag{jsonFlag()},
				Action: r.AccountsList,
			},
			{
				Name:   "current",
				Usage:  "Show the account currently serving requests",
				Flags:  []cli.Flag{jsonFlag()},
				Action: r.AccountsCurrent,
			},
			{
				Name:  "add",
				Usage: "Add an account from a refresh token",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "token", Aliases: []string{"t"}, Usage: "Refresh token (1//...)", Required: true},
					&cli.StringFlag{Name: "email", Usage: "Account email, when known"},
				},
				Action: r.AccountsAdd,
			},
			{
				Name:      "delete",
				Aliases:   []string{"rm"},
				Usage:     "Delete one or more accounts",
				ArgsUsage: "<id> [id...]",
				Action:    r.AccountsDelete,
			},
			{
				Name:      "switch",
				Usage:     "Make an account current",
				Arguments: []cli.Argument{&cli.StringArg{Name: "id"}},
				Action:    r.AccountsSwitch,
			},
			{
				Name:      "reorder",
				Usage:     "Set the rotation order",
				ArgsUsage: "<id> [id...]",
				Action:    r.AccountsReorder,
			},
			{
				Name:      "toggle-proxy",
				Usage:     "Enable or disable an account for proxy traffic",
				Arguments: []cli.Argument{&cli.StringArg{Name: "id"}},
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "enable", Usage: "Enable instead of disable"},
					&cli.StringFlag{Name: "reason", Usage: "Reason shown next to a disabled account"},
				},
				Action: r.AccountsToggleProxy,
			},
			{
				Name:  "export",
				Usage: "Export accounts as json, csv, markdown or txt",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Usage: "Export format", Value: "txt"},
					&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "Output file path (stdout when empty)"},
				},
				Action: r.AccountsExport,
			},
		},
	}
}

// quotaCommand handles quota refreshes
func quotaCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "quota",
		Usage: "Refresh account quotas",
		Commands: []*cli.Command{
			{
				Name:      "refresh",
				Usage:     "Refresh one account, or all of them",
				Arguments: []cli.Argument{&cli.StringArg{Name: "id"}},
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "each", Usage: "Refresh accounts one by one with a worker pool"},
					&cli.IntFlag{Name: "workers", Usage: "Concurrent refreshes with --each", Value: 3},
					&cli.FloatFlag{Name: "rate", Usage: "Requests per second with --each", Value: 5},
					jsonFlag(),
				},
				Action: r.QuotaRefresh,
			},
		},
	}
}

// configCommand handles the backend configuration
func configCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Read and update the backend configuration",
		Commands: []*cli.Command{
			{
				Name:      "get",
				Usage:     "Print the configuration, or one key",
				Arguments: []cli.Argument{&cli.StringArg{Name: "key"}},
				Action:    r.ConfigGet,
			},
			{
				Name:      "set",
				Usage:     "Set keys (dotted paths allowed); values are parsed as JSON when possible",
				ArgsUsage: "<key=value> [key=value...]",
				Action:    r.ConfigSet,
			},
			{
				Name:   "path",
				Usage:  "Print the backend data folder",
				Action: r.ConfigPath,
			},
		},
	}
}

// proxyCommand handles the local proxy service
func proxyCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "proxy",
		Usage: "Control the proxy service",
		Commands: []*cli.Command{
			{Name: "status", Usage: "Show proxy status", Flags: []cli.Flag{jsonFlag()}, Action: r.ProxyStatus},
			{Name: "start", Usage: "Start the proxy service", Action: r.ProxyStart},
			{Name: "stop", Usage: "Stop the proxy service", Action: r.ProxyStop},
			{
				Name:      "mapping",
				Usage:     "Replace the model mapping",
				ArgsUsage: "<from=to> [from=to...]",
				Action:    r.ProxyMapping,
			},
			{
				Name:  "models",
				Usage: "List models offered by an upstream provider",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{Name: "param", Usage: "Provider parameter as key=value"},
					jsonFlag(),
				},
				Action: r.ProxyModels,
			},
			{Name: "clear-sessions", Usage: "Drop sticky session bindings", Action: r.ProxyClearSessions},
			{Name: "generate-key", Usage: "Generate a new proxy API key", Action: r.ProxyGenerateKey},
		},
	}
}

// monitorCommand handles request monitoring
func monitorCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "monitor",
		Usage: "Inspect proxy traffic",
		Commands: []*cli.Command{
			{Name: "stats", Usage: "Show request counters", Flags: []cli.Flag{jsonFlag()}, Action: r.MonitorStats},
			{
				Name:  "logs",
				Usage: "Show recent requests",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Usage: "Number of entries", Value: 50},
					jsonFlag(),
				},
				Action: r.MonitorLogs,
			},
			{Name: "enable", Usage: "Start recording requests", Action: r.MonitorEnable},
			{Name: "disable", Usage: "Stop recording requests", Action: r.MonitorDisable},
			{Name: "clear", Usage: "Delete recorded requests", Action: r.MonitorClear},
		},
	}
}

// oauthCommand handles browser authorization of new accounts
func oauthCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "oauth",
		Usage: "Add accounts through the browser sign-in",
		Commands: []*cli.Command{
			{
				Name:  "login",
				Usage: "Authorize a new account",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "code", Usage: "Authorization code or redirect URL, skips the browser"},
					&cli.BoolFlag{Name: "no-browser", Usage: "Print the link instead of opening it"},
				},
				Action: r.OAuthLogin,
			},
		},
	}
}

// importCommand handles batch credential imports
func importCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "import",
		Usage: "Import refresh tokens in bulk",
		Commands: []*cli.Command{
			{
				Name:      "text",
				Usage:     "Import every token found in the arguments, or in stdin when none are given",
				ArgsUsage: "[text...]",
				Action:    r.ImportText,
			},
			{
				Name:      "file",
				Usage:     "Import a JSON or YAML array of tokens",
				Arguments: []cli.Argument{&cli.StringArg{Name: "path"}},
				Action:    r.ImportFile,
			},
			{
				Name:   "db",
				Usage:  "Import the account signed in to the local IDE (desktop shell only)",
				Action: r.ImportLocal("db"),
			},
			{
				Name:   "v1",
				Usage:  "Migrate accounts from the v1 desktop app (desktop shell only)",
				Action: r.ImportLocal("v1"),
			},
			{
				Name:      "custom",
				Usage:     "Import from an IDE state database file (desktop shell only)",
				Arguments: []cli.Argument{&cli.StringArg{Name: "path"}},
				Action:    r.ImportLocal("custom"),
			},
			{
				Name:  "history",
				Usage: "List previous imports",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Usage: "Maximum number of runs", Value: 20},
					&cli.StringFlag{Name: "source", Usage: "Only runs from this source"},
					jsonFlag(),
				},
				Action: r.ImportHistory,
			},
		},
	}
}

// callCommand sends an arbitrary command
func callCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:      "call",
		Usage:     "Dispatch a command by name and print its raw result",
		Arguments: []cli.Argument{&cli.StringArg{Name: "command"}},
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "args", Aliases: []string{"a"}, Usage: "Arguments as a JSON object"},
			&cli.BoolFlag{Name: "list", Usage: "List known command names"},
		},
		Action: r.Call,
	}
}

// setupCommand handles local setup
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Setup and configuration commands",
		Commands: []*cli.Command{
			{
				Name:   "database",
				Usage:  "Initialize the local database and run migrations",
				Action: r.SetupDatabase,
			},
			{
				Name:   "config",
				Usage:  "Write a config file from the built-in template",
				Action: r.SetupConfig,
			},
		},
	}
}

// tuiCommand returns the top-level TUI command.
func tuiCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "tui",
		Aliases: []string{"interactive", "ui"},
		Usage:   "Launch the interactive terminal shell",
		Action:  r.TUI,
	}
}
