package main

import (
	"fmt"
	"os"

	"github.com/mitchellh/cli"
)

const version = "0.1.0"

func main() {
	ui := &cli.BasicUi{
		Writer:      os.Stdout,
		ErrorWriter: os.Stderr,
		Reader:      os.Stdin,
	}

	baseURL := envOrDefault("VLOGCTL_COORDINATOR_URL", "http://127.0.0.1:8080")
	secret := os.Getenv("VLOGCTL_ADMIN_SECRET")
	cl := newClient(baseURL, secret)

	app := cli.NewCLI("vlogctl", version)
	app.Args = os.Args[1:]
	app.Commands = map[string]cli.CommandFactory{
		"upload":     func() (cli.Command, error) { return &UploadCommand{ui: ui, client: cl}, nil },
		"list":       func() (cli.Command, error) { return &ListCommand{ui: ui, client: cl}, nil },
		"categories": func() (cli.Command, error) { return &CategoriesCommand{ui: ui, client: cl}, nil },
		"delete":     func() (cli.Command, error) { return &DeleteCommand{ui: ui, client: cl}, nil },
		"download":   func() (cli.Command, error) { return &DownloadCommand{ui: ui, client: cl}, nil },

		"worker": func() (cli.Command, error) {
			return &parentCommand{synopsis: "Manage workers", subcommands: "register, list, status, revoke"}, nil
		},
		"worker register": func() (cli.Command, error) { return &WorkerRegisterCommand{ui: ui, client: cl}, nil },
		"worker list":     func() (cli.Command, error) { return &WorkerListCommand{ui: ui, client: cl}, nil },
		"worker status":   func() (cli.Command, error) { return &WorkerStatusCommand{ui: ui, client: cl}, nil },
		"worker revoke":   func() (cli.Command, error) { return &WorkerRevokeCommand{ui: ui, client: cl}, nil },

		"settings": func() (cli.Command, error) {
			return &parentCommand{synopsis: "Manage runtime settings", subcommands: "migrate-from-env, list, get, set"}, nil
		},
		"settings migrate-from-env": func() (cli.Command, error) { return &SettingsMigrateCommand{ui: ui, client: cl}, nil },
		"settings list":             func() (cli.Command, error) { return &SettingsListCommand{ui: ui, client: cl}, nil },
		"settings get":              func() (cli.Command, error) { return &SettingsGetCommand{ui: ui, client: cl}, nil },
		"settings set":              func() (cli.Command, error) { return &SettingsSetCommand{ui: ui, client: cl}, nil },
	}

	exitStatus, err := app.Run()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(exitStatus)
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// parentCommand backs a group name (e.g. "worker") that exists only so
// `vlogctl worker` with no further subcommand prints something useful
// instead of "unknown command".
type parentCommand struct {
	synopsis    string
	subcommands string
}

func (p *parentCommand) Help() string     { return "Subcommands: " + p.subcommands }
func (p *parentCommand) Synopsis() string { return p.synopsis }
func (p *parentCommand) Run(args []string) int {
	return cli.RunResultHelp
}

// exitFromError maps a coordinator/transport error to the conventional exit
// codes from spec.md §8: 2 for validation failures the coordinator
// reports, 1 for everything else (connection failures, auth, not-found).
func exitFromError(ui cli.Ui, err error) int {
	if err == nil {
		return 0
	}
	var apiErr *apiError
	if asAPIError(err, &apiErr) {
		ui.Error(apiErr.Error())
		if apiErr.status == 400 {
			return 2
		}
		return 1
	}
	ui.Error(err.Error())
	return 1
}

func asAPIError(err error, target **apiError) bool {
	for err != nil {
		if e, ok := err.(*apiError); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
