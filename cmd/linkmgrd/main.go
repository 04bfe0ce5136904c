// SPDX-License-Identifier: Apache-2.0

// Command linkmgrd is the control-plane daemon described by spec.md §1:
// per dual-homed ToR port, it decides which of two redundant ToR
// switches owns the attached server-side MUX cable, and drives the
// hardware and peer state accordingly. Its entrypoint follows the shape
// of pkg/pillar's single-purpose agent commands (e.g. cmd/nim): flag
// parsing, logger bring-up, component wiring, then a context cancelled
// by SIGINT/SIGTERM that every long-running goroutine observes.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/sonic-net/sonic-linkmgrd/internal/dbstore"
	"github.com/sonic-net/sonic-linkmgrd/internal/logging"
	"github.com/sonic-net/sonic-linkmgrd/internal/netlinkmon"
	"github.com/sonic-net/sonic-linkmgrd/internal/registry"
)

const (
	exitOK        = 0
	exitArgError  = 1
	exitNoStartup = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("linkmgrd", flag.ContinueOnError)
	verbosity := fs.String("v", "info", "log severity: trace|debug|info|warning|error|fatal")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "usage: linkmgrd [-v LEVEL]")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return exitOK
		}
		return exitArgError
	}

	level, err := logging.ParseLevel(*verbosity)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitArgError
	}
	log := logging.New(level)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := dbstore.NewMemClient()
	writer := dbstore.NewWriter(client, log, 256)
	reg := registry.New(writer, log)

	neighMon := netlinkmon.New(log)
	watcher := dbstore.NewWatcher(client, reg, log, neighMon.Events())

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		writer.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := neighMon.Run(ctx); err != nil {
			log.Warnf("netlink monitor exited: %v", err)
		}
	}()

	// The Watcher's startup sequence (ToR MAC -> Loopback2 IPv4 -> seed
	// mux-cable table) runs on its own goroutine and reports its result on
	// startupErr, so its fatal ConfigMissing errors (spec.md §7) can set
	// the process exit code before main returns.
	startupErr := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		startupErr <- watcher.Run(ctx)
	}()

	log.Noticef("linkmgrd started")

	var exitCode int
	select {
	case <-ctx.Done():
		exitCode = exitOK
	case err := <-startupErr:
		if err != nil {
			log.Errorf("fatal startup error: %v", err)
			exitCode = exitNoStartup
		}
		cancel()
	}

	reg.Shutdown()
	wg.Wait()
	return exitCode
}
