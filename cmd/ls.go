// cmd/ls.go

package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"AveGrid/pkg/gridfs"
	"AveGrid/pkg/meta"

	"github.com/urfave/cli/v2"
)

func lsFlags() *cli.Command {
	return &cli.Command{
		Name:      "ls",
		Usage:     "list stored files, all versions of NAME when given",
		ArgsUsage: "META-URL [NAME]",
		Action:    ls,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "names",
				Usage: "only print the distinct file names",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "print at most this many files, newest first",
			},
		},
	}
}

func ls(c *cli.Context) error {
	setLoggerLevel(c)
	uri, args := metaArgs(c)
	fs, _ := openFS(c, uri, true)
	ctx := context.Background()
	if c.Bool("names") {
		names, err := fs.List(ctx)
		if err != nil {
			logger.Fatalf("list: %s", err)
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return nil
	}

	var filter meta.Filter
	if len(args) > 0 {
		filter = meta.Filter{gridfs.FieldFilename: args[0]}
	}
	opts := &meta.FindOptions{Sort: []meta.Order{{Field: gridfs.FieldUploadDate, Desc: true}}, Limit: c.Int("limit")}
	recs, err := fs.Find(ctx, filter, opts)
	if err != nil {
		logger.Fatalf("list: %s", err)
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tLENGTH\tUPLOADED\tNAME")
	for _, rec := range recs {
		fmt.Fprintf(tw, "%v\t%d\t%s\t%s\n", rec.ID, rec.Length, rec.UploadDate.Format("2006-01-02 15:04:05"), rec.Filename)
	}
	return tw.Flush()
}
