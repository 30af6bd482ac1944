package agent

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"time"

	"github.com/rs/zerolog"

	"vlog/internal/eventbus"
)

// CommandListener subscribes to this worker's command channel and answers
// both deployment commands (restart/update) and immediate ones
// (get_logs/get_metrics), which must reply on a dedicated response channel
// within the coordinator's bounded wait. Deployment commands are handled on
// receipt, not deferred until the current job finishes: restart exits the
// process two seconds later whether or not a job is in flight, and update is
// only logged.
type CommandListener struct {
	bus      *eventbus.Bus
	workerID string
	logPath  string
	log      zerolog.Logger
}

// NewCommandListener builds a listener for workerID's command channel.
// logPath, when non-empty, is tailed to answer get_logs requests.
func NewCommandListener(bus *eventbus.Bus, workerID, logPath string, log zerolog.Logger) *CommandListener {
	return &CommandListener{bus: bus, workerID: workerID, logPath: logPath, log: log}
}

// Run subscribes and dispatches until ctx is cancelled.
func (l *CommandListener) Run(ctx context.Context) {
	sub := l.bus.Subscribe(ctx, eventbus.ChannelName(eventbus.ChannelCommands, l.workerID))
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var evt eventbus.CommandEvent
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				l.log.Warn().Err(err).Msg("malformed command event")
				continue
			}
			l.handle(ctx, evt)
		}
	}
}

func (l *CommandListener) handle(ctx context.Context, evt eventbus.CommandEvent) {
	switch evt.Command {
	case "get_logs":
		l.respond(ctx, evt, l.tailLog())
	case "get_metrics":
		l.respond(ctx, evt, l.snapshotMetrics(ctx))
	case "restart":
		l.log.Info().Str("command_id", evt.CommandID).Msg("restart command received, exiting for supervisor restart")
		go func() {
			time.Sleep(2 * time.Second)
			os.Exit(0)
		}()
	case "update":
		l.log.Info().Str("command_id", evt.CommandID).Msg("update command received")
	default:
		l.log.Warn().Str("command", evt.Command).Msg("unknown worker command")
	}
}

func (l *CommandListener) respond(ctx context.Context, evt eventbus.CommandEvent, payload map[string]any) {
	if !evt.Immediate {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		l.log.Warn().Err(err).Msg("marshal command response")
		return
	}
	channel := eventbus.ChannelName(eventbus.ChannelCommands, l.workerID+":response")
	if err := l.bus.PublishRaw(ctx, channel, raw); err != nil {
		l.log.Warn().Err(err).Msg("publish command response")
	}
}

func (l *CommandListener) tailLog() map[string]any {
	if l.logPath == "" {
		return map[string]any{"lines": []string{}}
	}
	out, err := exec.Command("tail", "-n", "200", l.logPath).Output()
	if err != nil {
		return map[string]any{"error": err.Error()}
	}
	return map[string]any{"lines": string(out)}
}

func (l *CommandListener) snapshotMetrics(ctx context.Context) map[string]any {
	load, err := currentLoad(ctx)
	if err != nil {
		return map[string]any{"error": err.Error()}
	}
	return map[string]any{"cpu_percent": load}
}
