// Package binanalyzer reads what the probe needs out of firmware ELF images.
package binanalyzer

import (
	"debug/elf"
	"errors"
	"fmt"

	"github.com/apex/log"
)

var (
	ErrMissingSymbolTable = errors.New("elf file does not have a symbol table")
	ErrMissingSymbol      = errors.New("elf file does not have the requested symbol")
)

// SymbolValue returns the value of the first symbol literally named name.
func SymbolValue(binaryPath string, name string) (uint64, error) {
	symbols, err := loadSymbols(binaryPath)
	if err != nil {
		return 0, err
	}

	for _, sym := range symbols {
		if sym.Name == name {
			log.WithFields(log.Fields{
				"binary": binaryPath,
				"symbol": name,
				"value":  fmt.Sprintf("%#x", sym.Value),
			}).Debug("found symbol")
			return sym.Value, nil
		}
	}
	return 0, fmt.Errorf("%s: %w: %q", binaryPath, ErrMissingSymbol, name)
}

func loadSymbols(binaryPath string) ([]elf.Symbol, error) {
	f, err := elf.Open(binaryPath)
	if err != nil {
		return nil, fmt.Errorf("opening elf file: %w", err)
	}
	defer f.Close()

	symbols, err := f.Symbols()
	if err != nil {
		if errors.Is(err, elf.ErrNoSymbols) {
			return nil, fmt.Errorf("%s: %w", binaryPath, ErrMissingSymbolTable)
		}
		return nil, fmt.Errorf("%s: reading symbols: %w", binaryPath, err)
	}
	return symbols, nil
}
