// cmd/umount.go

package main

import (
	"fmt"
	"log"
	"os/exec"
	"runtime"

	"github.com/urfave/cli/v2"
)

func umountFlags() *cli.Command {
	return &cli.Command{
		Name:      "umount",
		Usage:     "unmount a volume",
		ArgsUsage: "MOUNTPOINT",
		Action:    umount,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "force",
				Aliases: []string{"f"},
				Usage:   "unmount a busy mount point by force",
			},
		},
	}
}

// umountCmd picks the unmount tool of the platform.
func umountCmd(mp string, force bool) (*exec.Cmd, error) {
	switch runtime.GOOS {
	case "darwin":
		if force {
			return exec.Command("diskutil", "umount", "force", mp), nil
		}
		return exec.Command("diskutil", "umount", mp), nil
	case "linux":
		if _, err := exec.LookPath("fusermount3"); err == nil {
			return exec.Command("fusermount3", fusermountArgs(mp, force)...), nil
		}
		if _, err := exec.LookPath("fusermount"); err == nil {
			return exec.Command("fusermount", fusermountArgs(mp, force)...), nil
		}
		if force {
			return exec.Command("umount", "-l", mp), nil
		}
		return exec.Command("umount", mp), nil
	}
	return nil, fmt.Errorf("OS %s is not supported", runtime.GOOS)
}

func fusermountArgs(mp string, force bool) []string {
	if force {
		return []string{"-uz", mp}
	}
	return []string{"-u", mp}
}

func umount(c *cli.Context) error {
	if c.Args().Len() < 1 {
		return fmt.Errorf("MOUNTPOINT is needed")
	}
	cmd, err := umountCmd(c.Args().Get(0), c.Bool("force"))
	if err != nil {
		return err
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		log.Print(string(out))
	}
	return err
}
