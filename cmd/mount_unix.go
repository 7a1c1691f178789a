// cmd/mount_unix.go

package main

import (
	"bytes"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"time"

	"AveGrid/pkg/fuse"

	"github.com/juicedata/godaemon"
	"github.com/urfave/cli/v2"
)

// waitMounted polls until the bucket answers at mp, printing a dot per try.
func waitMounted(name, mp string, timeout time.Duration) error {
	ids := filepath.Join(mp, fuse.IDDir)
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		time.Sleep(time.Millisecond * 300)
		if st, err := os.Stat(ids); err == nil && st.IsDir() {
			os.Stdout.WriteString("\n")
			logger.Infof("\033[92mOK\033[0m, %s is ready at %s", name, mp)
			return nil
		}
		os.Stdout.WriteString(".")
	}
	os.Stdout.WriteString("\n")
	return fmt.Errorf("%s is not mounted after %s, try mounting in foreground", mp, timeout)
}

// absArgs rewrites os.Args so the daemon, which runs from /, still finds mp.
func absArgs(mp string) {
	amp, err := filepath.Abs(mp)
	if err != nil {
		logger.Warnf("abs of %s: %s", mp, err)
		return
	}
	for i, a := range os.Args {
		if a == mp {
			os.Args[i] = amp
		}
	}
}

func makeDaemon(name, mp, logfile string) error {
	attrs := godaemon.DaemonAttr{
		OnExit: func(stage int) error {
			if stage == 0 {
				return waitMounted(name, mp, 10*time.Second)
			}
			return nil
		},
	}
	if godaemon.Stage() == 0 {
		absArgs(mp)
		out, err := os.OpenFile(logfile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			logger.Errorf("open log file %s: %s", logfile, err)
		} else {
			attrs.Stdout = out
		}
	}
	_, _, err := godaemon.MakeDaemon(&attrs)
	return err
}

func mountFlags() *cli.Command {
	var defaultLogDir = "/var/log"
	if runtime.GOOS == "darwin" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			logger.Fatalf("%v", err)
		}
		defaultLogDir = path.Join(homeDir, ".avegrid")
	}
	return &cli.Command{
		Name:      "mount",
		Usage:     "mount a volume read-only",
		ArgsUsage: "META-URL MOUNTPOINT",
		Action:    mount,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "d",
				Aliases: []string{"background"},
				Usage:   "run in background",
			},
			&cli.StringFlag{
				Name:  "log",
				Value: path.Join(defaultLogDir, "avegrid.log"),
				Usage: "path of log file when running in background",
			},
			&cli.StringFlag{
				Name:  "o",
				Usage: "other FUSE options",
			},
			&cli.Float64Flag{
				Name:  "attr-cache",
				Value: 1.0,
				Usage: "attributes cache timeout in seconds",
			},
			&cli.Float64Flag{
				Name:  "entry-cache",
				Value: 1.0,
				Usage: "file entry cache timeout in seconds",
			},
			&cli.Float64Flag{
				Name:  "dir-entry-cache",
				Value: 1.0,
				Usage: "dir entry cache timeout in seconds",
			},
			&cli.BoolFlag{
				Name:  "allow-other",
				Usage: "let other users access the mount (needs user_allow_other in /etc/fuse.conf)",
			},
		},
	}
}

// disableUpdatedb keeps updatedb from crawling mounted buckets by adding
// our fs type to the PRUNEFS line of its config.
func disableUpdatedb() {
	const conf = "/etc/updatedb.conf"
	const fstype = "fuse.avegrid"
	data, err := os.ReadFile(conf)
	if err != nil || bytes.Contains(data, []byte(fstype)) {
		return
	}
	lines := bytes.Split(data, []byte("\n"))
	changed := false
	for i, l := range lines {
		if !bytes.HasPrefix(bytes.TrimSpace(l), []byte("PRUNEFS")) {
			continue
		}
		q := bytes.IndexByte(l, '"')
		if q < 0 {
			continue
		}
		nl := append([]byte{}, l[:q+1]...)
		nl = append(nl, fstype+" "...)
		lines[i] = append(nl, l[q+1:]...)
		changed = true
		break
	}
	if !changed {
		return
	}
	if err = os.WriteFile(conf, bytes.Join(lines, []byte("\n")), 0644); err != nil {
		logger.Warnf("update %s: %s", conf, err)
		return
	}
	logger.Infof("Added %s to PRUNEFS of %s", fstype, conf)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func mount(c *cli.Context) error {
	setLoggerLevel(c)
	uri, args := metaArgs(c)
	if len(args) < 1 {
		logger.Fatalf("MOUNTPOINT is needed")
	}
	mp := args[0]
	if err := os.MkdirAll(mp, 0755); err != nil {
		logger.Fatalf("create mountpoint %s: %s", mp, err)
	}

	fs, format := openFS(c, uri, true)
	if c.Bool("d") {
		if err := makeDaemon(format.Name, mp, c.String("log")); err != nil {
			logger.Fatalf("make daemon: %s", err)
		}
	}
	if os.Getuid() == 0 && os.Getpid() != 1 {
		disableUpdatedb()
	}

	logger.Infof("Mounting volume %s at %s ...", format.Name, mp)
	err := fuse.Serve(fs, &fuse.Config{
		Mountpoint:      mp,
		Name:            format.Name,
		Options:         c.String("o"),
		AttrTimeout:     seconds(c.Float64("attr-cache")),
		EntryTimeout:    seconds(c.Float64("entry-cache")),
		DirEntryTimeout: seconds(c.Float64("dir-entry-cache")),
		AllowOther:      c.Bool("allow-other"),
		Debug:           c.Bool("trace"),
	})
	if err != nil {
		logger.Fatalf("fuse: %s", err)
	}
	return nil
}
