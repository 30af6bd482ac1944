package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/mitchellh/cli"

	"vlog/internal/models"
)

// WorkerRegisterCommand implements `vlogctl worker register`, mostly useful
// for pre-provisioning a worker's API key out of band from the worker
// process's own first-run registration.
type WorkerRegisterCommand struct {
	ui     cli.Ui
	client *client
}

func (c *WorkerRegisterCommand) Synopsis() string { return "Register a new worker" }
func (c *WorkerRegisterCommand) Help() string {
	return "Usage: vlogctl worker register -name=NAME [-type=local|remote]"
}

func (c *WorkerRegisterCommand) Run(args []string) int {
	fs := flag.NewFlagSet("worker register", flag.ContinueOnError)
	name := fs.String("name", "", "worker display name")
	workerType := fs.String("type", "local", "worker type: local or remote")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *name == "" {
		c.ui.Error("worker register requires -name")
		return 2
	}
	resp, err := c.client.registerWorker(context.Background(), *name, models.WorkerType(*workerType), models.Capabilities{})
	if err != nil {
		return exitFromError(c.ui, err)
	}
	c.ui.Output(fmt.Sprintf("worker_id=%s api_key=%s", resp.WorkerID, resp.APIKey))
	return 0
}

// WorkerListCommand implements `vlogctl worker list`.
type WorkerListCommand struct {
	ui     cli.Ui
	client *client
}

func (c *WorkerListCommand) Synopsis() string { return "List registered workers" }
func (c *WorkerListCommand) Help() string     { return "Usage: vlogctl worker list" }

func (c *WorkerListCommand) Run(args []string) int {
	workers, err := c.client.listWorkers(context.Background())
	if err != nil {
		return exitFromError(c.ui, err)
	}
	for _, w := range workers {
		c.ui.Output(fmt.Sprintf("%s\t%s\t%s\t%s", w.WorkerID, w.WorkerName, w.WorkerType, w.Status))
	}
	return 0
}

// WorkerStatusCommand implements `vlogctl worker status`: it filters the
// admin worker list down to a single worker, since the coordinator has no
// dedicated get-one-worker endpoint.
type WorkerStatusCommand struct {
	ui     cli.Ui
	client *client
}

func (c *WorkerStatusCommand) Synopsis() string { return "Show one worker's status" }
func (c *WorkerStatusCommand) Help() string     { return "Usage: vlogctl worker status WORKER_ID" }

func (c *WorkerStatusCommand) Run(args []string) int {
	if len(args) != 1 {
		c.ui.Error("worker status requires exactly one WORKER_ID argument")
		return 2
	}
	workers, err := c.client.listWorkers(context.Background())
	if err != nil {
		return exitFromError(c.ui, err)
	}
	for _, w := range workers {
		if w.WorkerID == args[0] {
			job := "none"
			if w.CurrentJobID != nil {
				job = *w.CurrentJobID
			}
			c.ui.Output(fmt.Sprintf("worker_id=%s name=%s type=%s status=%s current_job=%s last_heartbeat=%s",
				w.WorkerID, w.WorkerName, w.WorkerType, w.Status, job, w.LastHeartbeat.Format("2006-01-02T15:04:05Z07:00")))
			return 0
		}
	}
	c.ui.Error("no such worker: " + args[0])
	return 1
}

// WorkerRevokeCommand implements `vlogctl worker revoke`.
type WorkerRevokeCommand struct {
	ui     cli.Ui
	client *client
}

func (c *WorkerRevokeCommand) Synopsis() string { return "Revoke a worker's API key" }
func (c *WorkerRevokeCommand) Help() string     { return "Usage: vlogctl worker revoke WORKER_ID" }

func (c *WorkerRevokeCommand) Run(args []string) int {
	if len(args) != 1 {
		c.ui.Error("worker revoke requires exactly one WORKER_ID argument")
		return 2
	}
	if err := c.client.revokeWorker(context.Background(), args[0]); err != nil {
		return exitFromError(c.ui, err)
	}
	c.ui.Output("revoked")
	return 0
}
