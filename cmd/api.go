package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/buger/jsonparser"
	"github.com/desertthunder/agx/internal/commands"
	"github.com/desertthunder/agx/internal/formatter"
	"github.com/desertthunder/agx/internal/shared"
	"github.com/urfave/cli/v3"
)

// splitPair splits key=value. Both sides must be non-empty.
func splitPair(arg string) (string, string, error) {
	k, v, ok := strings.Cut(arg, "=")
	k = strings.TrimSpace(k)
	if !ok || k == "" {
		return "", "", fmt.Errorf("%w: expected key=value, got %q", shared.ErrInvalidArgument, arg)
	}
	return k, v, nil
}

// jsonValue returns v when it is valid JSON and a quoted string otherwise.
func jsonValue(v string) []byte {
	if json.Valid([]byte(v)) {
		return []byte(v)
	}
	quoted, _ := json.Marshal(v)
	return quoted
}

// ConfigGet prints the backend configuration, or the value at a dotted key.
func (r *Runner) ConfigGet(ctx context.Context, cmd *cli.Command) error {
	if err := r.protected(ctx); err != nil {
		return err
	}

	cfg, err := r.admin.LoadConfig(ctx)
	if err != nil {
		return err
	}
	key := cmd.StringArg("key")
	if key == "" {
		return r.writeJSON(cfg, true)
	}

	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	value, kind, _, err := jsonparser.Get(raw, strings.Split(key, ".")...)
	if errors.Is(err, jsonparser.KeyPathNotFoundError) {
		return fmt.Errorf("%w: no config key %q", shared.ErrInvalidArgument, key)
	} else if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrInvalidFormat, err)
	}

	if kind == jsonparser.String {
		return r.writePlain("%s\n", value)
	}
	return r.writeJSON(json.RawMessage(value), true)
}

// ConfigSet updates dotted keys and saves the whole configuration back.
func (r *Runner) ConfigSet(ctx context.Context, cmd *cli.Command) error {
	pairs := cmd.Args().Slice()
	if len(pairs) == 0 {
		return fmt.Errorf("%w: at least one key=value", shared.ErrMissingArgument)
	}
	if err := r.protected(ctx); err != nil {
		return err
	}

	cfg, err := r.admin.LoadConfig(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	for _, pair := range pairs {
		k, v, err := splitPair(pair)
		if err != nil {
			return err
		}
		if raw, err = jsonparser.Set(raw, jsonValue(v), strings.Split(k, ".")...); err != nil {
			return fmt.Errorf("%w: cannot set %q: %v", shared.ErrInvalidArgument, k, err)
		}
		r.logger.Debug("config key set", "key", k)
	}

	updated := map[string]any{}
	if err := json.Unmarshal(raw, &updated); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrInvalidFormat, err)
	}
	if err := r.admin.SaveConfig(ctx, updated); err != nil {
		return err
	}
	return r.writePlain("✓ Saved %d key(s)\n", len(pairs))
}

// ConfigPath prints the backend data folder.
func (r *Runner) ConfigPath(ctx context.Context, cmd *cli.Command) error {
	if err := r.protected(ctx); err != nil {
		return err
	}
	path, err := r.admin.DataPath(ctx)
	if err != nil {
		return err
	}
	return r.writePlain("%s\n", path)
}

func (r *Runner) ProxyStatus(ctx context.Context, cmd *cli.Command) error {
	if err := r.protected(ctx); err != nil {
		return err
	}

	status, err := r.admin.ProxyStatus(ctx)
	if err != nil {
		return err
	}
	if cmd.Bool("json") {
		return r.writeJSON(status, true)
	}
	if !status.Running {
		return r.writePlain("Proxy: ✗ stopped\n")
	}
	r.writePlain("Proxy: ✓ running on port %d\n", status.Port)
	r.writePlain("Base URL: %s\n", status.BaseURL)
	return r.writePlain("Active accounts: %d\n", status.ActiveAccounts)
}

func (r *Runner) ProxyStart(ctx context.Context, cmd *cli.Command) error {
	if err := r.protected(ctx); err != nil {
		return err
	}
	if err := r.admin.StartProxy(ctx); err != nil {
		return err
	}
	return r.writePlain("✓ Proxy started\n")
}

func (r *Runner) ProxyStop(ctx context.Context, cmd *cli.Command) error {
	if err := r.protected(ctx); err != nil {
		return err
	}
	if err := r.admin.StopProxy(ctx); err != nil {
		return err
	}
	return r.writePlain("✓ Proxy stopped\n")
}

// ProxyMapping replaces the model mapping with the given from=to pairs.
func (r *Runner) ProxyMapping(ctx context.Context, cmd *cli.Command) error {
	mapping := map[string]string{}
	for _, pair := range cmd.Args().Slice() {
		k, v, err := splitPair(pair)
		if err != nil {
			return err
		}
		mapping[k] = strings.TrimSpace(v)
	}
	if err := r.protected(ctx); err != nil {
		return err
	}
	if err := r.admin.UpdateModelMapping(ctx, mapping); err != nil {
		return err
	}
	return r.writePlain("✓ Mapping updated (%d model(s))\n", len(mapping))
}

func (r *Runner) ProxyModels(ctx context.Context, cmd *cli.Command) error {
	params := map[string]any{}
	for _, pair := range cmd.StringSlice("param") {
		k, v, err := splitPair(pair)
		if err != nil {
			return err
		}
		params[k] = v
	}
	if err := r.protected(ctx); err != nil {
		return err
	}

	ids, err := r.admin.FetchModels(ctx, params)
	if err != nil {
		return err
	}
	if cmd.Bool("json") {
		return r.writeJSON(ids, true)
	}
	for _, id := range ids {
		r.writePlain("%s\n", id)
	}
	return nil
}

func (r *Runner) ProxyClearSessions(ctx context.Context, cmd *cli.Command) error {
	if err := r.protected(ctx); err != nil {
		return err
	}
	if err := r.admin.ClearSessionBindings(ctx); err != nil {
		return err
	}
	return r.writePlain("✓ Session bindings cleared\n")
}

func (r *Runner) ProxyGenerateKey(ctx context.Context, cmd *cli.Command) error {
	if err := r.protected(ctx); err != nil {
		return err
	}
	key, err := r.admin.GenerateAPIKey(ctx)
	if err != nil {
		return err
	}
	return r.writePlain("%s\n", key)
}

func (r *Runner) MonitorStats(ctx context.Context, cmd *cli.Command) error {
	if err := r.protected(ctx); err != nil {
		return err
	}

	stats, err := r.admin.MonitorStats(ctx)
	if err != nil {
		return err
	}
	if cmd.Bool("json") {
		return r.writeJSON(stats, true)
	}
	r.writePlain("Requests: %d\n", stats.TotalRequests)
	r.writePlain("Success: %d\n", stats.SuccessCount)
	return r.writePlain("Errors: %d\n", stats.ErrorCount)
}

func (r *Runner) MonitorLogs(ctx context.Context, cmd *cli.Command) error {
	if err := r.protected(ctx); err != nil {
		return err
	}

	logs, err := r.admin.MonitorLogs(ctx, int(cmd.Int("limit")))
	if err != nil {
		return err
	}
	if cmd.Bool("json") {
		return r.writeJSON(logs, true)
	}
	if len(logs) == 0 {
		return r.writePlain("No requests recorded\n")
	}
	r.writePlain("%s", formatter.ProxyLogsToText(logs))
	return nil
}

func (r *Runner) MonitorEnable(ctx context.Context, cmd *cli.Command) error {
	return r.setMonitor(ctx, true)
}

func (r *Runner) MonitorDisable(ctx context.Context, cmd *cli.Command) error {
	return r.setMonitor(ctx, false)
}

func (r *Runner) setMonitor(ctx context.Context, enabled bool) error {
	if err := r.protected(ctx); err != nil {
		return err
	}
	if err := r.admin.SetMonitorEnabled(ctx, enabled); err != nil {
		return err
	}
	if enabled {
		return r.writePlain("✓ Monitor enabled\n")
	}
	return r.writePlain("✓ Monitor disabled\n")
}

func (r *Runner) MonitorClear(ctx context.Context, cmd *cli.Command) error {
	if err := r.protected(ctx); err != nil {
		return err
	}
	if err := r.admin.ClearLogs(ctx); err != nil {
		return err
	}
	return r.writePlain("✓ Logs cleared\n")
}

// Call dispatches any command by name and prints the raw result.
func (r *Runner) Call(ctx context.Context, cmd *cli.Command) error {
	if cmd.Bool("list") {
		for _, name := range commands.All() {
			switch {
			case commands.IsBridgeOnly(name):
				r.writePlain("%s (bridge only)\n", name)
			case commands.IsNoop(name):
				r.writePlain("%s (no-op on network)\n", name)
			default:
				r.writePlain("%s\n", name)
			}
		}
		return nil
	}

	name := cmd.StringArg("command")
	if name == "" {
		return fmt.Errorf("%w: command name", shared.ErrMissingArgument)
	}

	var args map[string]any
	if raw := cmd.String("args"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return fmt.Errorf("%w: --args must be a JSON object: %v", shared.ErrInvalidArgument, err)
		}
	}

	if err := r.connect(ctx); err != nil {
		return err
	}
	result, err := r.admin.Call(ctx, name, args)
	if err != nil {
		return err
	}
	if len(result) == 0 {
		return r.writePlain("null\n")
	}
	return r.writeJSON(result, true)
}
