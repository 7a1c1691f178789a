// cmd/format.go

package main

import (
	"bytes"
	"context"
	crand "crypto/rand"
	"fmt"
	"math/bits"
	"os"
	"regexp"
	"time"

	"AveGrid/pkg/chunk"
	"AveGrid/pkg/gridfs"
	"AveGrid/pkg/meta"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
)

const (
	minChunkKiB = 1
	maxChunkKiB = chunk.MaxSize >> 10
)

// fixChunkSize rounds kib down to a power of two within the allowed range
// and returns it in bytes.
func fixChunkSize(kib int) int {
	if kib < minChunkKiB {
		kib = minChunkKiB
	}
	kib = 1 << (bits.Len(uint(kib)) - 1)
	if kib > maxChunkKiB {
		kib = maxChunkKiB
	}
	return kib << 10
}

// roundTrip stores data as a throwaway file, reads it back and removes it.
func roundTrip(ctx context.Context, fs *gridfs.FS, data []byte) error {
	id, err := fs.Put(ctx, gridfs.FromBytes(data), &gridfs.Options{Name: ".check/" + uuid.NewString()})
	if err != nil {
		return fmt.Errorf("put: %s", err)
	}
	defer func() {
		if err := fs.Delete(ctx, id); err != nil {
			logger.Warnf("remove check file %v: %s", id, err)
		}
	}()
	r, err := fs.Open(ctx, id)
	if err != nil {
		return fmt.Errorf("open: %s", err)
	}
	defer r.Close()
	var got bytes.Buffer
	if _, err = r.WriteTo(&got); err != nil {
		return fmt.Errorf("read: %s", err)
	}
	if !bytes.Equal(data, got.Bytes()) {
		return fmt.Errorf("read back %d bytes that differ from the %d written", got.Len(), len(data))
	}
	return nil
}

// checkVolume checks the volume with a file spanning a few chunks, retrying a
// couple of times for stores that are still starting up.
func checkVolume(ctx context.Context, fs *gridfs.FS) error {
	data := make([]byte, fs.ChunkSize()*2+100)
	_, _ = crand.Read(data)
	var err error
	for wait := time.Second; wait <= 4*time.Second; wait *= 2 {
		if err = roundTrip(ctx, fs, data); err == nil {
			return nil
		}
		logger.Warnf("volume check failed, retry in %s: %s", wait, err)
		time.Sleep(wait)
	}
	return err
}

func format(c *cli.Context) error {
	setLoggerLevel(c)
	uri, args := metaArgs(c)
	if len(args) < 1 {
		logger.Fatalf("Please give it a name")
	}
	name := args[0]
	validName := regexp.MustCompile(`^[a-z0-9][a-z0-9\-]{1,61}[a-z0-9]$`)
	if !validName.MatchString(name) {
		logger.Fatalf("invalid name: %s, only alphabet, number and - are allowed, and the length should be 3 to 63 characters.", name)
	}
	m, err := meta.NewClient(uri, &meta.Config{Retries: 2})
	if err != nil {
		logger.Fatalf("meta: %s", err)
	}
	ctx := context.Background()
	if c.Bool("no-update") {
		if _, err := meta.Load(ctx, m); err == nil {
			return nil
		}
	}

	format := meta.Format{
		Name:      name,
		UUID:      uuid.New().String(),
		Bucket:    c.String("bucket"),
		ChunkSize: fixChunkSize(c.Int("chunk-size")),
		Checksum:  c.String("checksum"),
	}
	if c.Bool("encrypt") {
		if os.Getenv(passphraseEnv) == "" {
			logger.Fatalf("%s is required to encrypt the volume", passphraseEnv)
		}
		format.EncryptSalt = meta.NewSalt()
	}
	if err = meta.Init(ctx, m, format, c.Bool("force")); err != nil {
		logger.Fatalf("format: %s", err)
	}

	fs, loaded := openFS(c, uri, false)
	if err := checkVolume(ctx, fs); err != nil {
		logger.Fatalf("Volume %s is not usable: %s", loaded.Name, err)
	}
	loaded.EncryptSalt = ""
	logger.Infof("Volume is formatted as %+v", *loaded)
	return nil
}

func formatFlags() *cli.Command {
	return &cli.Command{
		Name:      "format",
		Usage:     "format a volume",
		ArgsUsage: "META-URL NAME",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "chunk-size",
				Value: gridfs.DefaultChunkSize >> 10,
				Usage: "default size of chunks in KiB",
			},
			&cli.StringFlag{
				Name:  "bucket",
				Value: "fs",
				Usage: "prefix of the file and chunk collections",
			},
			&cli.StringFlag{
				Name:  "checksum",
				Value: gridfs.ChecksumMD5,
				Usage: "checksum algorithm of files (md5, blake3)",
			},
			&cli.BoolFlag{
				Name:  "encrypt",
				Usage: "encrypt chunk data with a key derived from " + passphraseEnv,
			},
			&cli.BoolFlag{
				Name:  "force",
				Usage: "overwrite existing format",
			},
			&cli.BoolFlag{
				Name:  "no-update",
				Usage: "don't update existing volume",
			},
		},
		Action: format,
	}
}
