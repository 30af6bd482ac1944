package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/mitchellh/cli"

	"vlog/internal/models"
)

// SettingsListCommand implements `vlogctl settings list`.
type SettingsListCommand struct {
	ui     cli.Ui
	client *client
}

func (c *SettingsListCommand) Synopsis() string { return "List settings" }
func (c *SettingsListCommand) Help() string     { return "Usage: vlogctl settings list [-category=CATEGORY]" }

func (c *SettingsListCommand) Run(args []string) int {
	fs := flag.NewFlagSet("settings list", flag.ContinueOnError)
	category := fs.String("category", "", "restrict to one settings category")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	settings, err := c.client.listSettings(context.Background(), *category)
	if err != nil {
		return exitFromError(c.ui, err)
	}
	for _, s := range settings {
		c.ui.Output(fmt.Sprintf("%s=%s\t(%s, %s)", s.Key, s.Value, s.Type, s.Category))
	}
	return 0
}

// SettingsGetCommand implements `vlogctl settings get`.
type SettingsGetCommand struct {
	ui     cli.Ui
	client *client
}

func (c *SettingsGetCommand) Synopsis() string { return "Get one setting's value" }
func (c *SettingsGetCommand) Help() string     { return "Usage: vlogctl settings get KEY" }

func (c *SettingsGetCommand) Run(args []string) int {
	if len(args) != 1 {
		c.ui.Error("settings get requires exactly one KEY argument")
		return 2
	}
	value, err := c.client.getSetting(context.Background(), args[0])
	if err != nil {
		return exitFromError(c.ui, err)
	}
	c.ui.Output(value)
	return 0
}

// SettingsSetCommand implements `vlogctl settings set`.
type SettingsSetCommand struct {
	ui     cli.Ui
	client *client
}

func (c *SettingsSetCommand) Synopsis() string { return "Set one setting's value" }
func (c *SettingsSetCommand) Help() string {
	return "Usage: vlogctl settings set KEY VALUE [-type=string|int|float|bool|enum|json] [-category=CATEGORY]"
}

func (c *SettingsSetCommand) Run(args []string) int {
	fs := flag.NewFlagSet("settings set", flag.ContinueOnError)
	typ := fs.String("type", string(models.SettingString), "setting type")
	category := fs.String("category", "general", "settings category")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	rest := fs.Args()
	if len(rest) != 2 {
		c.ui.Error("settings set requires KEY and VALUE arguments")
		return 2
	}
	key, value := rest[0], rest[1]
	err := c.client.putSetting(context.Background(), key, models.Setting{
		Key:      key,
		Type:     models.SettingType(*typ),
		Value:    value,
		Category: *category,
	})
	if err != nil {
		return exitFromError(c.ui, err)
	}
	c.ui.Output("ok")
	return 0
}

// SettingsMigrateCommand implements `vlogctl settings migrate-from-env`: it
// scans the coordinator's current settings, and for each one whose matching
// VLOG_<KEY> env var is set in the CLI's own environment, writes that value
// through to the coordinator. This is the one-time cutover path operators
// use when moving a deployment from env-var configuration to the live
// settings store.
type SettingsMigrateCommand struct {
	ui     cli.Ui
	client *client
}

func (c *SettingsMigrateCommand) Synopsis() string {
	return "Copy VLOG_<KEY> environment variables into the settings store"
}

func (c *SettingsMigrateCommand) Help() string {
	return "Usage: vlogctl settings migrate-from-env [-category=CATEGORY] [-dry-run]"
}

func (c *SettingsMigrateCommand) Run(args []string) int {
	fs := flag.NewFlagSet("settings migrate-from-env", flag.ContinueOnError)
	category := fs.String("category", "", "restrict migration to one category")
	dryRun := fs.Bool("dry-run", false, "print what would change without writing")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	ctx := context.Background()
	settings, err := c.client.listSettings(ctx, *category)
	if err != nil {
		return exitFromError(c.ui, err)
	}

	migrated := 0
	for _, s := range settings {
		envKey := settingEnvName(s.Key)
		envValue, ok := os.LookupEnv(envKey)
		if !ok {
			continue
		}
		c.ui.Output(fmt.Sprintf("%s <- %s=%q", s.Key, envKey, envValue))
		if *dryRun {
			migrated++
			continue
		}
		if err := c.client.putSetting(ctx, s.Key, models.Setting{
			Key:         s.Key,
			Type:        s.Type,
			Value:       envValue,
			Category:    s.Category,
			Constraints: s.Constraints,
		}); err != nil {
			return exitFromError(c.ui, err)
		}
		migrated++
	}
	c.ui.Output(fmt.Sprintf("migrated %d setting(s)", migrated))
	return 0
}

// settingEnvName mirrors internal/settingsvc's envName: drop the
// dot-delimited category prefix, upper-case the rest, fold dots to
// underscores, and prepend VLOG_.
func settingEnvName(key string) string {
	parts := strings.SplitN(key, ".", 2)
	rest := key
	if len(parts) == 2 {
		rest = parts[1]
	}
	rest = strings.ReplaceAll(rest, ".", "_")
	return "VLOG_" + strings.ToUpper(rest)
}
