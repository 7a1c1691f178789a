// pkg/utils/utils.go

package utils

import (
	"os"

	"github.com/mattn/go-isatty"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

func Min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// CeilDiv returns the number of `size`-sized pieces needed to hold n.
func CeilDiv(n int64, size int64) int64 {
	if n <= 0 {
		return 0
	}
	return (n + size - 1) / size
}

// NewDynProgressBar init a dynamic progress bar,the title will appears at the head of the progress bar
func NewDynProgressBar(title string, quiet bool) (*mpb.Progress, *mpb.Bar) {
	progress := newProgress(quiet)
	bar := progress.AddBar(0,
		mpb.PrependDecorators(
			decor.Name(title, decor.WCSyncWidth),
			decor.CountersNoUnit("%d / %d"),
		),
		mpb.AppendDecorators(
			decor.OnComplete(decor.Percentage(decor.WC{W: 5}), "done"),
		),
	)
	return progress, bar
}

// NewBytesProgressBar shows transferred bytes of a single object with known size.
func NewBytesProgressBar(title string, total int64, quiet bool) (*mpb.Progress, *mpb.Bar) {
	progress := newProgress(quiet)
	bar := progress.AddBar(total,
		mpb.PrependDecorators(
			decor.Name(title, decor.WCSyncWidth),
			decor.Counters(decor.SizeB1024(0), "% .1f / % .1f"),
		),
		mpb.AppendDecorators(
			decor.OnComplete(decor.Percentage(decor.WC{W: 5}), "done"),
		),
	)
	return progress, bar
}

func newProgress(quiet bool) *mpb.Progress {
	if !quiet && isatty.IsTerminal(os.Stdout.Fd()) {
		return mpb.New(mpb.WithWidth(64))
	}
	return mpb.New(mpb.WithWidth(64), mpb.WithOutput(nil))
}
