package main

import (
	"context"
	"fmt"

	"github.com/mitchellh/cli"
)

// ListCommand implements `vlogctl list`.
type ListCommand struct {
	ui     cli.Ui
	client *client
}

func (c *ListCommand) Synopsis() string { return "List videos" }
func (c *ListCommand) Help() string     { return "Usage: vlogctl list\n\n  Lists every non-deleted video and its status." }

func (c *ListCommand) Run(args []string) int {
	videos, err := c.client.listVideos(context.Background())
	if err != nil {
		return exitFromError(c.ui, err)
	}
	for _, v := range videos {
		c.ui.Output(fmt.Sprintf("%s\t%s\t%s\t%s/%s", v.ID, v.Slug, v.Status, v.StreamingFormat, v.PrimaryCodec))
	}
	return 0
}

// CategoriesCommand implements `vlogctl categories`.
type CategoriesCommand struct {
	ui     cli.Ui
	client *client
}

func (c *CategoriesCommand) Synopsis() string { return "List video categories" }
func (c *CategoriesCommand) Help() string     { return "Usage: vlogctl categories\n\n  Lists categories derived from primary codec, with video counts." }

func (c *CategoriesCommand) Run(args []string) int {
	categories, err := c.client.listCategories(context.Background())
	if err != nil {
		return exitFromError(c.ui, err)
	}
	for _, cat := range categories {
		c.ui.Output(fmt.Sprintf("%s\t%d", cat.Slug, cat.Count))
	}
	return 0
}

// DeleteCommand implements `vlogctl delete`.
type DeleteCommand struct {
	ui     cli.Ui
	client *client
}

func (c *DeleteCommand) Synopsis() string { return "Soft-delete a video" }
func (c *DeleteCommand) Help() string     { return "Usage: vlogctl delete VIDEO_ID" }

func (c *DeleteCommand) Run(args []string) int {
	if len(args) != 1 {
		c.ui.Error("delete requires exactly one VIDEO_ID argument")
		return 2
	}
	if err := c.client.deleteVideo(context.Background(), args[0]); err != nil {
		return exitFromError(c.ui, err)
	}
	c.ui.Output("deleted")
	return 0
}
