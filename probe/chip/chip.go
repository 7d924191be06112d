// Package chip abstracts the debug connection to a TriCore device: flashing
// an image, streaming RTT until the core halts and reading back its state.
package chip

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/apex/log"
	"github.com/chains-project/tricore-probe/probe/binanalyzer"
	"github.com/chains-project/tricore-probe/probe/config"
	"github.com/chains-project/tricore-probe/probe/csa"
)

// Device is one probe or board the backend can talk to.
type Device struct {
	ID string `json:"id"`
}

// Chip is implemented by each backend.
type Chip interface {
	// FlashHex programs an Intel hex image. With haltMemtool set the backend
	// leaves its flashing tool open until the user closes it.
	FlashHex(ctx context.Context, ihex []byte, haltMemtool bool) error
	// ReadRTT streams RTT up-channel data found via the control block into w
	// until the core halts, then returns the halted state.
	ReadRTT(ctx context.Context, controlBlock uint64, w io.Writer) (csa.Stacktrace, error)
	Devices(ctx context.Context) ([]Device, error)
	Close() error
}

// Interface wraps a backend with the steps shared by all of them.
type Interface struct {
	implementation Chip
}

func New(implementation Chip) *Interface {
	return &Interface{implementation: implementation}
}

// Open builds the backend named in cfg.
func Open(cfg config.BackendConfig) (*Interface, error) {
	switch cfg.Kind {
	case config.BackendReplay:
		replay, err := LoadReplay(cfg.Snapshot, cfg.HexOutput)
		if err != nil {
			return nil, err
		}
		return New(replay), nil
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", config.ErrInvalid, cfg.Kind)
	}
}

// FlashElf is FlashHex for an ELF file on disk.
func (i *Interface) FlashElf(ctx context.Context, elf string, haltMemtool bool) error {
	log.Infof("Converting elf %s to hex file", elf)
	data, err := os.ReadFile(elf)
	if err != nil {
		return fmt.Errorf("reading elf file: %w", err)
	}
	ihex, err := binanalyzer.ElfToHex(data)
	if err != nil {
		return fmt.Errorf("converting %s: %w", elf, err)
	}

	log.Info("Flashing hex file")
	return i.implementation.FlashHex(ctx, ihex, haltMemtool)
}

func (i *Interface) ReadRTT(ctx context.Context, controlBlock uint64, w io.Writer) (csa.Stacktrace, error) {
	return i.implementation.ReadRTT(ctx, controlBlock, w)
}

func (i *Interface) Devices(ctx context.Context) ([]Device, error) {
	return i.implementation.Devices(ctx)
}

func (i *Interface) Close() error {
	return i.implementation.Close()
}
