package addr2line

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"unicode/utf8"

	"github.com/apex/log"
	"github.com/chains-project/tricore-probe/probe/internal/procgroup"
)

const DefaultCommand = "addr2line"

// CommandDecoder runs an addr2line compatible tool once per batch:
//
//	<command> -e <elf> -f -C 0x<ADDR1> 0x<ADDR2> ...
//
// and expects a function line and a location line per address.
type CommandDecoder struct {
	Command string
	Elf     string

	commandContext func(ctx context.Context, name string, args ...string) *exec.Cmd
}

func NewCommandDecoder(command, elf string) *CommandDecoder {
	if command == "" {
		command = DefaultCommand
	}
	return &CommandDecoder{
		Command:        command,
		Elf:            elf,
		commandContext: exec.CommandContext,
	}
}

func (d *CommandDecoder) Decode(ctx context.Context, addresses []uint32) ([]AddressInfo, error) {
	if len(addresses) == 0 {
		return nil, nil
	}

	args := []string{"-e", d.Elf, "-f", "-C"}
	for _, addr := range addresses {
		args = append(args, formatAddress(addr))
	}

	cmd := d.commandContext(ctx, d.Command, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	procgroup.Configure(cmd)

	log.WithFields(log.Fields{
		"command":   d.Command,
		"elf":       d.Elf,
		"addresses": len(addresses),
	}).Debug("spawning address decoder")

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w %q for %s: %v", ErrSpawn, d.Command, d.Elf, err)
	}
	if err := cmd.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrDecode, d.Command, ctxErr)
		}
		msg := strings.TrimSpace(stderr.String())
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && msg != "" {
			return nil, fmt.Errorf("%w: %s: %v: %s", ErrDecode, d.Command, err, msg)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrDecode, d.Command, err)
	}

	return parseOutput(stdout.Bytes(), addresses)
}

// formatAddress renders 0x followed by uppercase hex digits.
func formatAddress(addr uint32) string {
	return fmt.Sprintf("0x%X", addr)
}

func parseOutput(out []byte, addresses []uint32) ([]AddressInfo, error) {
	if !utf8.Valid(out) {
		return nil, fmt.Errorf("%w: invalid decoder output", ErrDecode)
	}

	text := strings.TrimSuffix(string(out), "\n")
	var lines []string
	if text != "" {
		lines = strings.Split(text, "\n")
	}
	if len(lines) != 2*len(addresses) {
		return nil, fmt.Errorf("%w: %d lines for %d addresses", ErrDecoderOutputMismatch, len(lines), len(addresses))
	}

	infos := make([]AddressInfo, len(addresses))
	for i := range addresses {
		infos[i] = AddressInfo{
			Function: strings.TrimSuffix(lines[2*i], "\r"),
			Module:   strings.TrimSuffix(lines[2*i+1], "\r"),
		}
	}
	return infos, nil
}
