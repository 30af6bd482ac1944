package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/mitchellh/cli"
)

// UploadCommand implements `vlogctl upload`: it streams a local source file
// to the coordinator, which creates a pending Video plus an unclaimed Job
// for workers to pick up.
type UploadCommand struct {
	ui     cli.Ui
	client *client
}

func (c *UploadCommand) Synopsis() string { return "Upload a source video and queue it for transcoding" }

func (c *UploadCommand) Help() string {
	return `Usage: vlogctl upload -slug=NAME -file=PATH [-title=TITLE] [-format=hls_ts|cmaf] [-codec=h264|hevc|av1]

  Uploads the local file at -file as the source for a new video, creating a
  pending Video and an unclaimed Job for workers to claim.`
}

func (c *UploadCommand) Run(args []string) int {
	fs := flag.NewFlagSet("upload", flag.ContinueOnError)
	slug := fs.String("slug", "", "URL-safe identifier for the new video")
	file := fs.String("file", "", "path to the local source file")
	title := fs.String("title", "", "display title (defaults to slug)")
	format := fs.String("format", "hls_ts", "streaming format: hls_ts or cmaf")
	codec := fs.String("codec", "h264", "primary codec: h264, hevc, or av1")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *slug == "" || *file == "" {
		c.ui.Error("upload requires -slug and -file")
		return 2
	}

	f, err := os.Open(*file)
	if err != nil {
		c.ui.Error(fmt.Sprintf("open source file: %v", err))
		return 1
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	resp, err := c.client.createVideo(ctx, *slug, *title, *format, *codec, f)
	if err != nil {
		return exitFromError(c.ui, err)
	}
	c.ui.Output(fmt.Sprintf("video_id=%s job_id=%s slug=%s", resp.VideoID, resp.JobID, resp.Slug))
	return 0
}
