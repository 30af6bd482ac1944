package executor

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"
)

// ffmpegProcess wraps a running ffmpeg invocation, mirroring the teacher's
// processState (cmd + cancel + done), generalized so wait() can be called
// exactly once from the caller's goroutine instead of baking an onExit
// callback into the process itself.
type ffmpegProcess struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
}

// startFFmpeg launches ffmpeg with args, streaming stdout/stderr into log
// line by line (the teacher's logWriter pattern, rebased onto zerolog).
func startFFmpeg(ctx context.Context, bin string, args []string, log zerolog.Logger) (*ffmpegProcess, error) {
	runCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(runCtx, bin, args...)
	cmd.Stdout = &lineLogWriter{log: log, stream: "stdout"}
	cmd.Stderr = &lineLogWriter{log: log, stream: "stderr"}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, err
	}
	return &ffmpegProcess{cmd: cmd, cancel: cancel}, nil
}

// wait blocks until ffmpeg exits, returning its error (nil on a clean
// exit). Safe to call from a single goroutine only.
func (p *ffmpegProcess) wait() error {
	defer p.cancel()
	return p.cmd.Wait()
}

// kill terminates ffmpeg immediately, used when the segment pipeline gives
// up (claim expired, missing segments) before the encoder exits on its own.
func (p *ffmpegProcess) kill() {
	p.cancel()
}

// lineLogWriter buffers partial writes and emits one log line per newline,
// matching the teacher's logWriter so ffmpeg's chatty stderr doesn't flood
// the structured log with partial lines.
type lineLogWriter struct {
	log    zerolog.Logger
	stream string
	buf    bytes.Buffer
}

func (w *lineLogWriter) Write(p []byte) (int, error) {
	total := len(p)
	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// Incomplete line: push it back for the next Write.
			w.buf.Reset()
			w.buf.WriteString(line)
			break
		}
		line = strings.TrimRight(line, "\n\r")
		if line != "" {
			w.log.Debug().Str("stream", w.stream).Msg(line)
		}
	}
	return total, nil
}
