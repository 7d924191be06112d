package binanalyzer

import (
	"errors"
	"fmt"
	"math"
)

const (
	// TrapTableSymbol marks the start of the trap table in the linker script.
	TrapTableSymbol = "first_trap_table"

	trapClasses    = 8
	trapEntryBytes = 32
	trapTableBytes = trapClasses * trapEntryBytes
)

var (
	ErrMissingTrapSymbol = errors.New("elf file does not have '" + TrapTableSymbol + "' symbol")
	ErrTrapSymbolRange   = errors.New("trap table symbol does not fit a 32 bit address")
)

// TrapMetadata describes where the trap table of one binary lives. It is only
// meaningful for the binary it was loaded from.
type TrapMetadata struct {
	binaryPath string
	trapSymbol uint32
}

// LoadTrapMetadata infers the trap table location from the ELF symbol table.
//
// FIXME: this relies on the link-time symbol name. The proper source is the
// BTV register, which needs a live connection to the device.
func LoadTrapMetadata(binaryPath string) (*TrapMetadata, error) {
	value, err := SymbolValue(binaryPath, TrapTableSymbol)
	if errors.Is(err, ErrMissingSymbol) {
		return nil, fmt.Errorf("%s: %w", binaryPath, ErrMissingTrapSymbol)
	}
	if err != nil {
		return nil, err
	}
	if value > math.MaxUint32 {
		return nil, fmt.Errorf("%s: %w: %#x", binaryPath, ErrTrapSymbolRange, value)
	}

	return &TrapMetadata{binaryPath: binaryPath, trapSymbol: uint32(value)}, nil
}

// NewTrapMetadata builds metadata for a known trap table base.
func NewTrapMetadata(trapSymbol uint32) *TrapMetadata {
	return &TrapMetadata{trapSymbol: trapSymbol}
}

func (m *TrapMetadata) TrapSymbol() uint32 { return m.trapSymbol }

func (m *TrapMetadata) BinaryPath() string { return m.binaryPath }

// TrapClass maps an address inside the trap table to its slot. The address
// must still point into the trap service routine in the table itself.
func (m *TrapMetadata) TrapClass(address uint32) (uint8, bool) {
	if address < m.trapSymbol {
		return 0, false
	}

	offset := address - m.trapSymbol
	if offset >= trapTableBytes {
		return 0, false
	}
	return uint8(offset / trapEntryBytes), true
}
