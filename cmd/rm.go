// cmd/rm.go

package main

import (
	"context"

	"AveGrid/pkg/gridfs"
	"AveGrid/pkg/meta"

	"github.com/urfave/cli/v2"
)

func rmFlags() *cli.Command {
	return &cli.Command{
		Name:      "rm",
		Usage:     "remove files and their chunks",
		ArgsUsage: "META-URL ID ...",
		Action:    rm,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "name",
				Usage: "arguments are file names, every version is removed",
			},
		},
	}
}

func rm(c *cli.Context) error {
	setLoggerLevel(c)
	uri, args := metaArgs(c)
	if len(args) < 1 {
		logger.Infof("ID is needed")
		return nil
	}
	fs, _ := openFS(c, uri, false)
	ctx := context.Background()
	for _, arg := range args {
		var ids []interface{}
		if c.Bool("name") {
			recs, err := fs.Find(ctx, meta.Filter{gridfs.FieldFilename: arg}, nil)
			if err != nil {
				logger.Fatalf("find %s: %s", arg, err)
			}
			for _, rec := range recs {
				ids = append(ids, rec.ID)
			}
			if len(ids) == 0 {
				logger.Errorf("no file named %s", arg)
			}
		} else {
			r, err := openFile(ctx, fs, arg, -1)
			if err != nil {
				logger.Errorf("lookup %s: %s", arg, err)
				continue
			}
			ids = append(ids, r.ID())
			_ = r.Close()
		}
		for _, id := range ids {
			if err := fs.Delete(ctx, id); err != nil {
				logger.Fatalf("remove %v: %s", id, err)
			}
			logger.Infof("removed %v", id)
		}
	}
	return nil
}
