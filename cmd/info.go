// cmd/info.go

package main

import (
	"context"

	"github.com/urfave/cli/v2"
)

func infoFlags() *cli.Command {
	return &cli.Command{
		Name:      "info",
		Usage:     "show the records of files",
		ArgsUsage: "META-URL ID|NAME ...",
		Action:    info,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "version",
				Value: -1,
				Usage: "version of a file given by name, 0 is the oldest and -1 the newest",
			},
		},
	}
}

func info(c *cli.Context) error {
	setLoggerLevel(c)
	uri, args := metaArgs(c)
	if len(args) < 1 {
		logger.Infof("ID or NAME is needed")
		return nil
	}
	fs, _ := openFS(c, uri, true)
	ctx := context.Background()
	for _, arg := range args {
		r, err := openFile(ctx, fs, arg, c.Int("version"))
		if err != nil {
			logger.Errorf("lookup %s: %s", arg, err)
			continue
		}
		rec := r.Record()
		_ = r.Close()
		printJson(newFileInfo(&rec))
	}
	return nil
}
