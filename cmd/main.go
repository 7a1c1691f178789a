// cmd/main.go

package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"AveGrid/pkg/chunk"
	"AveGrid/pkg/gridfs"
	"AveGrid/pkg/meta"
	"AveGrid/pkg/utils"
	"AveGrid/pkg/version"

	"github.com/google/gops/agent"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

var logger = utils.GetLogger("avegrid")

func main() {
	app := &cli.App{
		Name:                 "avegrid",
		Usage:                "chunked file storage on top of Redis",
		Version:              version.Version(),
		EnableBashCompletion: true,
		Flags:                globalFlags(),
		Before:               setup,
		Commands: []*cli.Command{
			formatFlags(),
			statusFlags(),
			putFlags(),
			getFlags(),
			catFlags(),
			lsFlags(),
			infoFlags(),
			rmFlags(),
			gcFlags(),
			mountFlags(),
			umountFlags(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		logger.Fatal(err)
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"debug", "v"},
			Usage:   "enable debug log",
		},
		&cli.BoolFlag{
			Name:    "quiet",
			Aliases: []string{"q"},
			Usage:   "only warning and errors",
		},
		&cli.BoolFlag{
			Name:  "trace",
			Usage: "enable trace log",
		},
		&cli.StringFlag{
			Name:  "config",
			Usage: "YAML file with defaults for the meta URL and client options",
		},
		&cli.BoolFlag{
			Name:  "gops",
			Usage: "start the gops diagnostics agent",
		},
		&cli.Int64Flag{
			Name:  "cache-size",
			Value: 64,
			Usage: "size of the shared chunk cache in MiB",
		},
		&cli.IntFlag{
			Name:  "prefetch",
			Value: 4,
			Usage: "chunks fetched together on a cache miss",
		},
		&cli.Int64Flag{
			Name:  "upload-limit",
			Usage: "bandwidth limit for writing chunks in Mbps (0 means unlimited)",
		},
		&cli.Int64Flag{
			Name:  "download-limit",
			Usage: "bandwidth limit for reading chunks in Mbps (0 means unlimited)",
		},
	}
}

// fileConfig is the layout of the --config file. Flags given on the command
// line win over it.
type fileConfig struct {
	Meta          string `yaml:"meta"`
	CacheSize     int64  `yaml:"cache_size"`
	Prefetch      int    `yaml:"prefetch"`
	UploadLimit   int64  `yaml:"upload_limit"`
	DownloadLimit int64  `yaml:"download_limit"`
	LogFile       string `yaml:"log_file"`
}

var conf fileConfig

func loadConfig(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var fc fileConfig
	if err = yaml.Unmarshal(data, &fc); err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	return &fc, nil
}

func setup(c *cli.Context) error {
	if p := c.String("config"); p != "" {
		fc, err := loadConfig(p)
		if err != nil {
			return err
		}
		conf = *fc
		defaults := map[string]string{}
		if fc.CacheSize != 0 {
			defaults["cache-size"] = strconv.FormatInt(fc.CacheSize, 10)
		}
		if fc.Prefetch != 0 {
			defaults["prefetch"] = strconv.Itoa(fc.Prefetch)
		}
		if fc.UploadLimit != 0 {
			defaults["upload-limit"] = strconv.FormatInt(fc.UploadLimit, 10)
		}
		if fc.DownloadLimit != 0 {
			defaults["download-limit"] = strconv.FormatInt(fc.DownloadLimit, 10)
		}
		for name, v := range defaults {
			if !c.IsSet(name) {
				if err = c.Set(name, v); err != nil {
					return err
				}
			}
		}
		if fc.LogFile != "" {
			if err = utils.SetOutFile(fc.LogFile); err != nil {
				return errors.Wrapf(err, "open log file %s", fc.LogFile)
			}
		}
	}
	if c.Bool("gops") {
		if err := agent.Listen(agent.Options{ShutdownCleanup: true}); err != nil {
			logger.Warnf("start gops agent: %s", err)
		}
	}
	return nil
}

func setLoggerLevel(c *cli.Context) {
	if c.Bool("trace") {
		utils.SetLogLevel(logrus.TraceLevel)
	} else if c.Bool("verbose") {
		utils.SetLogLevel(logrus.DebugLevel)
	} else if c.Bool("quiet") {
		utils.SetLogLevel(logrus.WarnLevel)
	} else {
		utils.SetLogLevel(logrus.InfoLevel)
	}
}

// metaArgs splits the arguments into the meta URL and the rest. The URL
// may come from the config file instead.
func metaArgs(c *cli.Context) (string, []string) {
	args := c.Args().Slice()
	if conf.Meta != "" {
		return conf.Meta, args
	}
	if len(args) < 1 {
		logger.Fatalf("META-URL is needed")
	}
	return args[0], args[1:]
}

// openFS connects to the volume at uri, wrapping the store with encryption
// and bandwidth limits as configured.
func openFS(c *cli.Context, uri string, readOnly bool) (*gridfs.FS, *meta.Format) {
	m, err := meta.NewClient(uri, &meta.Config{Retries: 10, ReadOnly: readOnly})
	if err != nil {
		logger.Fatalf("meta: %s", err)
	}
	ctx := context.Background()
	format, err := meta.Load(ctx, m)
	if err != nil {
		logger.Fatalf("load setting: %s", err)
	}
	if format.EncryptSalt != "" {
		if m, err = withEncryption(m, format); err != nil {
			logger.Fatalf("%s", err)
		}
	}
	m = meta.NewLimited(m, c.Int64("upload-limit")*1e6/8, c.Int64("download-limit")*1e6/8)
	fs, err := gridfs.New(ctx, m, &gridfs.Config{
		Prefix:    format.Bucket,
		ChunkSize: format.ChunkSize,
		Checksum:  format.Checksum,
		Chunk: chunk.Config{
			CacheSize: c.Int64("cache-size") << 20,
			Prefetch:  c.Int("prefetch"),
		},
	})
	if err != nil {
		logger.Fatalf("open volume %s: %s", format.Name, err)
	}
	return fs, format
}

const passphraseEnv = "AVEGRID_PASSPHRASE"

func withEncryption(m meta.Store, format *meta.Format) (meta.Store, error) {
	passphrase := os.Getenv(passphraseEnv)
	if passphrase == "" {
		return nil, fmt.Errorf("volume %s is encrypted, %s is required", format.Name, passphraseEnv)
	}
	key, err := meta.DeriveKey(passphrase, format.EncryptSalt)
	if err != nil {
		return nil, err
	}
	enc, err := meta.NewAESEncryptor(key)
	if err != nil {
		return nil, err
	}
	return meta.NewEncrypted(m, enc, chunk.FieldData), nil
}

// openFile resolves arg as a file id first, then as a file name.
func openFile(ctx context.Context, fs *gridfs.FS, arg string, version int) (*gridfs.Reader, error) {
	r, err := fs.Open(ctx, arg)
	if !errors.Is(err, gridfs.ErrNotFound) {
		return r, err
	}
	if n, perr := strconv.ParseInt(arg, 10, 64); perr == nil {
		if r, err = fs.Open(ctx, n); !errors.Is(err, gridfs.ErrNotFound) {
			return r, err
		}
	}
	return fs.OpenByName(ctx, arg, version)
}
