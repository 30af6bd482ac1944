package main

import (
	"bufio"
	"bytes"
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/cli"
)

// DownloadCommand implements `vlogctl download`: it fetches one rendition's
// playlist plus every segment it references into a local directory, reading
// the manifest to discover segment names rather than assuming a layout.
type DownloadCommand struct {
	ui     cli.Ui
	client *client
}

func (c *DownloadCommand) Synopsis() string { return "Download a rendition's playlist and segments" }

func (c *DownloadCommand) Help() string {
	return `Usage: vlogctl download -slug=NAME -quality=QUALITY -out=DIR

  Downloads DIR/playlist.m3u8 for the given video+quality, then every
  segment filename the playlist references.`
}

func (c *DownloadCommand) Run(args []string) int {
	fs := flag.NewFlagSet("download", flag.ContinueOnError)
	slug := fs.String("slug", "", "video slug")
	quality := fs.String("quality", "", "rendition name, e.g. 720p")
	out := fs.String("out", "", "local directory to write into")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *slug == "" || *quality == "" || *out == "" {
		c.ui.Error("download requires -slug, -quality, and -out")
		return 2
	}
	if err := os.MkdirAll(*out, 0o750); err != nil {
		c.ui.Error(fmt.Sprintf("create output dir: %v", err))
		return 1
	}

	ctx := context.Background()
	var playlist bytes.Buffer
	if err := c.client.downloadSegment(ctx, *slug, *quality+"/playlist.m3u8", &playlist); err != nil {
		return exitFromError(c.ui, err)
	}
	if err := os.WriteFile(filepath.Join(*out, "playlist.m3u8"), playlist.Bytes(), 0o640); err != nil {
		c.ui.Error(fmt.Sprintf("write playlist: %v", err))
		return 1
	}

	count := 0
	scanner := bufio.NewScanner(bytes.NewReader(playlist.Bytes()))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		var segData bytes.Buffer
		if err := c.client.downloadSegment(ctx, *slug, *quality+"/"+line, &segData); err != nil {
			return exitFromError(c.ui, err)
		}
		if err := os.WriteFile(filepath.Join(*out, filepath.Base(line)), segData.Bytes(), 0o640); err != nil {
			c.ui.Error(fmt.Sprintf("write segment %s: %v", line, err))
			return 1
		}
		count++
	}

	c.ui.Output(fmt.Sprintf("downloaded playlist and %d segments to %s", count, *out))
	return 0
}
