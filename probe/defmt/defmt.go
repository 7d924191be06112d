// Package defmt feeds raw RTT bytes from the target into an external defmt
// decoder, which prints the decoded log frames.
package defmt

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/apex/log"
	"github.com/chains-project/tricore-probe/probe/binanalyzer"
	"github.com/chains-project/tricore-probe/probe/internal/procgroup"
)

const (
	DefaultCommand = "defmt-print"

	// RTTControlBlockSymbol is the SEGGER RTT control block the firmware links in.
	RTTControlBlockSymbol = "_SEGGER_RTT"
)

var commandContext = exec.CommandContext

// Decoder is a running defmt decoder. Writes go to its stdin.
type Decoder struct {
	cmd          *exec.Cmd
	stdin        io.WriteCloser
	controlBlock uint64
}

// Spawn starts command for elf. The decoder inherits stdout and stderr.
func Spawn(ctx context.Context, command, elf string) (*Decoder, error) {
	controlBlock, err := binanalyzer.SymbolValue(elf, RTTControlBlockSymbol)
	if err != nil {
		return nil, fmt.Errorf("locating rtt control block: %w", err)
	}

	if command == "" {
		command = DefaultCommand
	}
	cmd := commandContext(ctx, command, "-e", elf)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	procgroup.Configure(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("creating defmt decoder stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("cannot spawn defmt decoder %q: %w", command, err)
	}

	log.WithFields(log.Fields{
		"command":       command,
		"elf":           elf,
		"control_block": fmt.Sprintf("%#x", controlBlock),
	}).Debug("spawned defmt decoder")

	return &Decoder{cmd: cmd, stdin: stdin, controlBlock: controlBlock}, nil
}

func (d *Decoder) Write(p []byte) (int, error) {
	return d.stdin.Write(p)
}

// Close ends the decoder input and waits for it to exit.
func (d *Decoder) Close() error {
	if err := d.stdin.Close(); err != nil {
		return fmt.Errorf("closing defmt decoder stdin: %w", err)
	}
	if err := d.cmd.Wait(); err != nil {
		return fmt.Errorf("defmt decoder did not terminate properly: %w", err)
	}
	return nil
}

// RTTControlBlockAddress is where the backend has to look for RTT data.
func (d *Decoder) RTTControlBlockAddress() uint64 {
	return d.controlBlock
}
