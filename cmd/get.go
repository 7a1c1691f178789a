// cmd/get.go

package main

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"AveGrid/pkg/utils"

	"github.com/urfave/cli/v2"
)

func versionFlag() cli.Flag {
	return &cli.IntFlag{
		Name:  "version",
		Value: -1,
		Usage: "version of a file given by name, 0 is the oldest and -1 the newest",
	}
}

func getFlags() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "copy a stored file to a local path",
		ArgsUsage: "META-URL ID|NAME [DEST]",
		Action:    get,
		Flags:     []cli.Flag{versionFlag()},
	}
}

func catFlags() *cli.Command {
	return &cli.Command{
		Name:      "cat",
		Usage:     "write stored files to stdout",
		ArgsUsage: "META-URL ID|NAME ...",
		Action:    cat,
		Flags: []cli.Flag{
			versionFlag(),
			&cli.Int64Flag{
				Name:  "offset",
				Usage: "start at this offset, negative counts from the end",
			},
		},
	}
}

// localName turns a stored file name into a name inside the working
// directory. Names that would leave it become empty.
func localName(stored string) string {
	name := filepath.Base(filepath.Clean("/" + stored))
	if name == "/" || name == "." || name == ".." {
		return ""
	}
	return name
}

func get(c *cli.Context) error {
	setLoggerLevel(c)
	uri, args := metaArgs(c)
	if len(args) < 1 {
		logger.Fatalf("ID or NAME is needed")
	}
	fs, _ := openFS(c, uri, true)
	ctx := context.Background()
	r, err := openFile(ctx, fs, args[0], c.Int("version"))
	if err != nil {
		logger.Fatalf("lookup %s: %s", args[0], err)
	}
	defer r.Close()

	dest := localName(r.Name())
	if len(args) > 1 {
		dest = args[1]
	}
	if dest == "" {
		logger.Fatalf("file %v has no usable name, DEST is needed", r.ID())
	}
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		logger.Fatalf("create %s: %s", dest, err)
	}
	progress, bar := utils.NewBytesProgressBar(dest, r.Length(), c.Bool("quiet"))
	w := bar.ProxyWriter(f)
	_, err = r.WriteTo(w)
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		bar.Abort(false)
	} else {
		bar.SetTotal(-1, true)
	}
	progress.Wait()
	if err != nil {
		logger.Fatalf("copy %v to %s: %s", r.ID(), dest, err)
	}
	return nil
}

func cat(c *cli.Context) error {
	setLoggerLevel(c)
	uri, args := metaArgs(c)
	if len(args) < 1 {
		logger.Fatalf("ID or NAME is needed")
	}
	fs, _ := openFS(c, uri, true)
	ctx := context.Background()
	for _, arg := range args {
		r, err := openFile(ctx, fs, arg, c.Int("version"))
		if err != nil {
			logger.Fatalf("lookup %s: %s", arg, err)
		}
		if off := c.Int64("offset"); off != 0 {
			whence := io.SeekStart
			if off < 0 {
				whence = io.SeekEnd
			}
			if _, err = r.Seek(off, whence); err != nil {
				logger.Fatalf("seek %s: %s", arg, err)
			}
		}
		_, err = r.WriteTo(os.Stdout)
		_ = r.Close()
		if err != nil {
			logger.Fatalf("read %s: %s", arg, err)
		}
	}
	return nil
}
