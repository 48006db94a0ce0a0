// Command petabuf is a pipeline buffer between standard input and standard
// output. It re-emits its input verbatim while absorbing up to roughly one
// pebibyte of in-flight backlog, spilling pages to disk once half of
// physical memory is in use.
//
// Typical use:
//
//	producer | petabuf | consumer
package main

import (
	"os"

	"github.com/alecthomas/kong"
	"github.com/dustin/go-humanize"

	"github.com/FocuswithJustin/petabuf/core/buffer"
	"github.com/FocuswithJustin/petabuf/core/errors"
	"github.com/FocuswithJustin/petabuf/core/relay"
	"github.com/FocuswithJustin/petabuf/internal/logging"
	"github.com/FocuswithJustin/petabuf/internal/spill"
	"github.com/FocuswithJustin/petabuf/internal/sysmem"
)

// CLI is intentionally empty: petabuf accepts no flags and no positional
// arguments. Anything on the command line is rejected by kong with a usage
// message and exit status 1; kong's default --help flag is disabled.
var CLI struct{}

func main() {
	kong.Parse(&CLI,
		kong.Name("petabuf"),
		kong.Description("Buffer an arbitrarily large byte stream between a producer and a consumer: ... | petabuf | ..."),
		kong.UsageOnError(),
		kong.NoDefaultHelp(),
		kong.Exit(func(code int) {
			if code != 0 {
				code = 1
			}
			os.Exit(code)
		}),
	)

	logging.InitLogger(logging.LevelInfo, logging.DefaultFormat())

	if err := run(); err != nil {
		logging.Error("fatal", "error", err.Error())
		os.Exit(1)
	}
}

func run() error {
	memsize, err := sysmem.Total()
	if err != nil {
		return errors.Wrap(err, "probing physical memory")
	}
	logging.Info("memory probe",
		"total", humanize.IBytes(memsize),
		"budget", humanize.IBytes(memsize/2))

	scratch, err := spill.NewDir()
	if err != nil {
		return err
	}
	logging.Info("scratch directory", "path", scratch.Root())

	table, err := buffer.New(memsize, scratch)
	if err != nil {
		return err
	}

	rel, err := relay.New(int(os.Stdin.Fd()), int(os.Stdout.Fd()), table)
	if err != nil {
		return err
	}

	if err := rel.Run(); err != nil {
		return err
	}

	// Clean exit: tear down the live window, the headroom, and the scratch
	// directory. Abnormal exits leave orphans for the OS and operator.
	if err := rel.Close(); err != nil {
		return err
	}
	if err := table.Close(); err != nil {
		return err
	}
	if err := scratch.Remove(); err != nil {
		return err
	}
	return nil
}
