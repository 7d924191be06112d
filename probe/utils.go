package main

import (
	"context"
	"fmt"
	"io"

	"github.com/apex/log"
	"github.com/chains-project/tricore-probe/probe/binanalyzer"
	"github.com/chains-project/tricore-probe/probe/chip"
	"github.com/chains-project/tricore-probe/probe/config"
	"github.com/chains-project/tricore-probe/probe/defmt"
	"github.com/chains-project/tricore-probe/probe/stackanalyzer"
	"github.com/fatih/color"
)

// loadConfig reads the config file, applies flag overrides and validates
// the result.
func loadConfig(args RuntimeConfig) (*config.Config, error) {
	cfg, err := config.Load(args.ConfigPath)
	if err != nil {
		return nil, err
	}
	applyFlags(cfg, args)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyFlags(cfg *config.Config, args RuntimeConfig) {
	if args.Snapshot != "" {
		cfg.Backend.Snapshot = args.Snapshot
	}
	if args.Decoder != "" {
		cfg.Decoder.Kind = args.Decoder
	}
	if args.Addr2line != "" {
		cfg.Decoder.Command = args.Addr2line
	}
	if args.Defmt != "" {
		cfg.Defmt.Enabled = true
		cfg.Defmt.Command = args.Defmt
	}
}

func decoderFactory(cfg config.DecoderConfig) stackanalyzer.DecoderFactory {
	if cfg.Kind == config.DecoderDWARF {
		return stackanalyzer.DWARFDecoders()
	}
	return stackanalyzer.CommandDecoders(cfg.Command)
}

// rttSink is where RTT data goes: a defmt decoder, or nowhere when defmt is
// disabled. The control block address is looked up either way.
func rttSink(ctx context.Context, elf string, cfg config.DefmtConfig) (io.WriteCloser, uint64, error) {
	if !cfg.Enabled {
		controlBlock, err := binanalyzer.SymbolValue(elf, defmt.RTTControlBlockSymbol)
		if err != nil {
			return nil, 0, fmt.Errorf("locating rtt control block: %w", err)
		}
		log.Debug("defmt disabled, discarding rtt data")
		return nopWriteCloser{io.Discard}, controlBlock, nil
	}

	decoder, err := defmt.Spawn(ctx, cfg.Command, elf)
	if err != nil {
		return nil, 0, err
	}
	return decoder, decoder.RTTControlBlockAddress(), nil
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

func runMode(ctx context.Context, args RuntimeConfig, cfg *config.Config, stdout io.Writer) error {
	chipInterface, err := chip.Open(cfg.Backend)
	if err != nil {
		return fmt.Errorf("opening backend: %w", err)
	}
	defer chipInterface.Close()

	if args.NoFlash {
		log.Warn("Flashing skipped - this might lead to malformed defmt data!")
	} else if err := chipInterface.FlashElf(ctx, args.ElfPath, args.HaltMemtool); err != nil {
		return fmt.Errorf("flashing device: %w", err)
	}

	rtt, controlBlock, err := rttSink(ctx, args.ElfPath, cfg.Defmt)
	if err != nil {
		return err
	}

	log.WithField("control_block", fmt.Sprintf("%#x", controlBlock)).Info("Reading RTT until the device halts")
	snapshot, err := chipInterface.ReadRTT(ctx, controlBlock, rtt)
	if closeErr := rtt.Close(); closeErr != nil {
		log.WithError(closeErr).Warn("defmt decoder")
	}
	if err != nil {
		return fmt.Errorf("reading rtt: %w", err)
	}

	timeout, err := cfg.Decoder.TimeoutDuration()
	if err != nil {
		return err
	}
	decodeCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		decodeCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	backtrace, err := stackanalyzer.Reconstruct(decodeCtx, snapshot, args.ElfPath,
		stackanalyzer.WithDecoderFactory(decoderFactory(cfg.Decoder)))
	if err != nil {
		return fmt.Errorf("reconstructing backtrace: %w", err)
	}

	if args.JSON {
		report, err := stackanalyzer.NewReport(backtrace, args.ElfPath)
		if err != nil {
			return err
		}
		return report.Write(stdout)
	}

	fmt.Fprintln(stdout, color.RedString("Device halted, backtrace as follows"))
	return backtrace.Print(stdout)
}

func listMode(ctx context.Context, args RuntimeConfig, cfg *config.Config, stdout io.Writer) error {
	chipInterface, err := chip.Open(cfg.Backend)
	if err != nil {
		return fmt.Errorf("opening backend: %w", err)
	}
	defer chipInterface.Close()

	devices, err := chipInterface.Devices(ctx)
	if err != nil {
		return fmt.Errorf("listing devices: %w", err)
	}
	if args.JSON {
		return chip.MachineOutput(stdout, devices)
	}
	chip.PrettyPrintDevices(stdout, devices)
	return nil
}
