package binanalyzer

import (
	"bytes"
	"debug/elf"
	"errors"
	"fmt"
	"io"

	"github.com/apex/log"
	"github.com/marcinbor85/gohex"
)

const hexLineLength = 32

var ErrNoLoadableSegments = errors.New("elf file has no loadable segments")

// ElfToHex converts the loadable segments of an ELF image into Intel hex,
// placing each segment at its physical (load) address.
func ElfToHex(elfData []byte) ([]byte, error) {
	f, err := elf.NewFile(bytes.NewReader(elfData))
	if err != nil {
		return nil, fmt.Errorf("parsing elf file: %w", err)
	}
	defer f.Close()

	mem := gohex.NewMemory()
	segments := 0
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD || prog.Filesz == 0 {
			continue
		}
		if prog.Paddr+prog.Filesz > 1<<32 {
			return nil, fmt.Errorf("segment at %#x does not fit a 32 bit address space", prog.Paddr)
		}

		data := make([]byte, prog.Filesz)
		if _, err := io.ReadFull(prog.Open(), data); err != nil {
			return nil, fmt.Errorf("reading segment at %#x: %w", prog.Paddr, err)
		}
		if err := mem.AddBinary(uint32(prog.Paddr), data); err != nil {
			return nil, fmt.Errorf("adding segment at %#x: %w", prog.Paddr, err)
		}

		log.WithFields(log.Fields{
			"address": fmt.Sprintf("%#x", prog.Paddr),
			"size":    prog.Filesz,
		}).Debug("added segment to hex image")
		segments++
	}

	if segments == 0 {
		return nil, ErrNoLoadableSegments
	}

	var out bytes.Buffer
	if err := mem.DumpIntelHex(&out, hexLineLength); err != nil {
		return nil, fmt.Errorf("writing intel hex: %w", err)
	}
	return out.Bytes(), nil
}
