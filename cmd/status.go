// cmd/status.go

package main

import (
	"context"
	"encoding/json"
	"fmt"

	"AveGrid/pkg/chunk"
	"AveGrid/pkg/gridfs"
	"AveGrid/pkg/meta"

	"github.com/urfave/cli/v2"
)

type usage struct {
	Files   int
	Bytes   int64
	Names   int
	Orphans int `json:",omitempty"`
}

type sections struct {
	Setting *meta.Format
	Usage   *usage
}

func printJson(v interface{}) {
	output, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		logger.Fatalf("json: %s", err)
	}
	fmt.Println(string(output))
}

func status(c *cli.Context) error {
	setLoggerLevel(c)
	uri, _ := metaArgs(c)
	fs, format := openFS(c, uri, true)
	format.EncryptSalt = ""

	ctx := context.Background()
	recs, err := fs.Find(ctx, nil, nil)
	if err != nil {
		logger.Fatalf("list files: %s", err)
	}
	u := &usage{Files: len(recs)}
	for _, rec := range recs {
		u.Bytes += rec.Length
	}
	names, err := fs.List(ctx)
	if err != nil {
		logger.Fatalf("list names: %s", err)
	}
	u.Names = len(names)
	if c.Bool("orphans") {
		orphans, err := fs.Orphans(ctx)
		if err != nil {
			logger.Fatalf("scan chunks: %s", err)
		}
		u.Orphans = len(orphans)
	}
	printJson(&sections{format, u})
	return nil
}

func statusFlags() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "show status of a volume",
		ArgsUsage: "META-URL",
		Action:    status,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "orphans",
				Usage: "also count files with chunks but no file record (scans all chunks)",
			},
		},
	}
}

// fileInfo is the printable form of a file record.
type fileInfo struct {
	ID           interface{}
	Filename     string `json:",omitempty"`
	Length       int64
	Chunks       int
	ChunkSize    int
	UploadDate   string
	Checksum     string
	ChecksumAlgo string
	ContentType  string                 `json:",omitempty"`
	Aliases      []string               `json:",omitempty"`
	Metadata     map[string]interface{} `json:",omitempty"`
	Extra        map[string]interface{} `json:",omitempty"`
}

func newFileInfo(rec *gridfs.FileRecord) *fileInfo {
	return &fileInfo{
		ID:           rec.ID,
		Filename:     rec.Filename,
		Length:       rec.Length,
		Chunks:       chunk.Count(rec.Length, rec.ChunkSize),
		ChunkSize:    rec.ChunkSize,
		UploadDate:   rec.UploadDate.Format("2006-01-02 15:04:05.000"),
		Checksum:     rec.Checksum,
		ChecksumAlgo: rec.ChecksumAlgo,
		ContentType:  rec.ContentType,
		Aliases:      rec.Aliases,
		Metadata:     rec.Metadata,
		Extra:        rec.Extra,
	}
}
