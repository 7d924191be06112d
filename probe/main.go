package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/chains-project/tricore-probe/probe/config"
)

type RuntimeConfig struct {
	ElfPath     string
	ConfigPath  string
	NoFlash     bool
	HaltMemtool bool
	Verbose     bool
	JSON        bool
	ListDevices bool
	Timeout     time.Duration

	// Overrides for the config file; empty keeps the file value.
	Snapshot  string
	Decoder   string
	Addr2line string
	Defmt     string
}

type mode func(ctx context.Context, args RuntimeConfig, cfg *config.Config, stdout io.Writer) error

func main() {
	log.SetHandler(cli.New(os.Stderr))

	var args RuntimeConfig
	flag.BoolVar(&args.NoFlash, "no-flash", false, "Do not flash the device, only read RTT and the halted state")
	flag.BoolVar(&args.HaltMemtool, "halt-memtool", false, "Keep the flashing tool open until it is closed manually")
	flag.BoolVar(&args.Verbose, "verbose", false, "Enable debug logging")
	flag.StringVar(&args.ConfigPath, "config", "", "Path to a TOML config file")
	flag.StringVar(&args.Snapshot, "snapshot", "", "Halt snapshot for the replay backend")
	flag.StringVar(&args.Decoder, "decoder", "", "Address decoder: 'addr2line' or 'dwarf'")
	flag.StringVar(&args.Addr2line, "addr2line", "", "addr2line binary for the target, e.g. tricore-elf-addr2line")
	flag.StringVar(&args.Defmt, "defmt", "", "defmt decoder binary")
	flag.BoolVar(&args.JSON, "json", false, "Print machine readable JSON")
	flag.BoolVar(&args.ListDevices, "list-devices", false, "List available devices and exit")
	flag.DurationVar(&args.Timeout, "timeout", 0, "Abort the whole run after this long (0 waits forever)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <elf>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if args.Verbose {
		log.SetLevel(log.DebugLevel)
	}

	modeName := "run"
	if args.ListDevices {
		modeName = "list"
	} else {
		if flag.NArg() != 1 {
			flag.Usage()
			os.Exit(2)
		}
		args.ElfPath = flag.Arg(0)
	}

	modes := map[string]mode{
		"run":  runMode,
		"list": listMode,
	}

	cfg, err := loadConfig(args)
	if err != nil {
		log.WithError(err).Fatal("Invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	if args.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, args.Timeout)
		defer cancel()
	}

	err = modes[modeName](ctx, args, cfg, os.Stdout)
	stop()
	if err != nil {
		log.WithError(err).Error("tricore-probe failed")
		os.Exit(1)
	}
}
