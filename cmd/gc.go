// cmd/gc.go

package main

import (
	"context"
	"fmt"

	"AveGrid/pkg/utils"

	"github.com/urfave/cli/v2"
)

func gcFlags() *cli.Command {
	return &cli.Command{
		Name:      "gc",
		Usage:     "find chunks left behind by unfinished writes",
		ArgsUsage: "META-URL",
		Action:    gc,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "delete",
				Usage: "remove the orphaned chunks (chunks of files being written look orphaned too)",
			},
		},
	}
}

func gc(c *cli.Context) error {
	setLoggerLevel(c)
	uri, _ := metaArgs(c)
	del := c.Bool("delete")
	fs, _ := openFS(c, uri, !del)
	ctx := context.Background()
	orphans, err := fs.Orphans(ctx)
	if err != nil {
		logger.Fatalf("scan chunks: %s", err)
	}
	var chunks int
	var size int64
	for _, o := range orphans {
		chunks += o.Chunks
		size += o.Size
		if !del {
			fmt.Printf("%v\t%d chunks\t%d bytes\n", o.FileID, o.Chunks, o.Size)
		}
	}
	logger.Infof("Found %d orphaned files with %d chunks (%d bytes)", len(orphans), chunks, size)
	if !del || len(orphans) == 0 {
		return nil
	}

	progress, bar := utils.NewDynProgressBar("Cleaning orphans: ", c.Bool("quiet"))
	bar.SetTotal(int64(len(orphans)), false)
	for _, o := range orphans {
		if _, err := fs.RemoveChunks(ctx, o.FileID); err != nil {
			logger.Errorf("remove chunks of %v: %s", o.FileID, err)
		}
		bar.Increment()
	}
	bar.SetTotal(-1, true)
	progress.Wait()
	return nil
}
