// cmd/put.go

package main

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"AveGrid/pkg/gridfs"
	"AveGrid/pkg/utils"

	"github.com/urfave/cli/v2"
)

func putFlags() *cli.Command {
	return &cli.Command{
		Name:      "put",
		Usage:     "store local files, - reads stdin",
		ArgsUsage: "META-URL FILE ...",
		Action:    put,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "name",
				Usage: "file name to store (default: base name of FILE)",
			},
			&cli.StringFlag{
				Name:  "id",
				Usage: "id of the file (default: a random UUID)",
			},
			&cli.StringFlag{
				Name:  "content-type",
				Usage: "content type (default: guessed from the extension)",
			},
			&cli.IntFlag{
				Name:  "chunk-size",
				Usage: "size of chunks in KiB (default: the volume setting)",
			},
			&cli.StringSliceFlag{
				Name:  "alias",
				Usage: "alias of the file, can be repeated",
			},
			&cli.StringSliceFlag{
				Name:  "meta",
				Usage: "metadata as KEY=VALUE, can be repeated",
			},
		},
	}
}

func parseMetadata(kvs []string) (map[string]interface{}, error) {
	if len(kvs) == 0 {
		return nil, nil
	}
	m := make(map[string]interface{}, len(kvs))
	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid metadata %q, expect KEY=VALUE", kv)
		}
		m[k] = v
	}
	return m, nil
}

func putOne(ctx context.Context, c *cli.Context, fs *gridfs.FS, path string) (interface{}, error) {
	var in io.Reader
	var size int64
	name := c.String("name")
	if path == "-" {
		in = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		st, err := f.Stat()
		if err != nil {
			return nil, err
		}
		if st.IsDir() {
			return nil, fmt.Errorf("%s is a directory", path)
		}
		in, size = f, st.Size()
		if name == "" {
			name = filepath.Base(path)
		}
	}
	md, err := parseMetadata(c.StringSlice("meta"))
	if err != nil {
		return nil, err
	}
	opts := &gridfs.Options{
		Name:        name,
		ContentType: c.String("content-type"),
		ChunkSize:   c.Int("chunk-size") << 10,
		Aliases:     c.StringSlice("alias"),
		Metadata:    md,
	}
	if id := c.String("id"); id != "" {
		opts.ID = id
	}
	if opts.ContentType == "" {
		opts.ContentType = mime.TypeByExtension(filepath.Ext(name))
	}
	w, err := fs.Create(ctx, opts)
	if err != nil {
		return nil, err
	}

	progress, bar := utils.NewBytesProgressBar(name, size, c.Bool("quiet") || size == 0)
	if _, err = w.ReadFrom(bar.ProxyReader(in)); err == nil {
		err = w.Close()
	}
	if err != nil {
		bar.Abort(false)
	} else {
		bar.SetTotal(-1, true)
	}
	progress.Wait()
	if err != nil {
		return nil, err
	}
	length, _ := w.Length()
	sum, _ := w.Checksum()
	logger.Debugf("stored %s as %v: %d bytes, %s %s", path, w.ID(), length, w.ChecksumAlgo(), sum)
	return w.ID(), nil
}

func put(c *cli.Context) error {
	setLoggerLevel(c)
	uri, args := metaArgs(c)
	if len(args) < 1 {
		logger.Fatalf("FILE is needed")
	}
	if len(args) > 1 && (c.String("id") != "" || c.String("name") != "") {
		logger.Fatalf("--id and --name only work with a single FILE")
	}
	fs, _ := openFS(c, uri, false)
	ctx := context.Background()
	for _, path := range args {
		id, err := putOne(ctx, c, fs, path)
		if err != nil {
			logger.Fatalf("put %s: %s", path, err)
		}
		fmt.Printf("%v\t%s\n", id, path)
	}
	return nil
}
