package addr2line

import (
	"context"
	"debug/dwarf"
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/apex/log"
	"github.com/ianlancetaylor/demangle"
)

// unknown mirrors what addr2line prints for addresses it cannot place.
const (
	unknownFunction = "??"
	unknownLocation = "??:0"
)

// DWARFDecoder resolves addresses in-process from the ELF debug info, falling
// back to the symbol table when there is no DWARF. Inlined frames are not
// reported.
type DWARFDecoder struct {
	Elf string
}

func NewDWARFDecoder(elf string) *DWARFDecoder {
	return &DWARFDecoder{Elf: elf}
}

type funcRange struct {
	name       string
	low, high  uint64
	unitOffset dwarf.Offset
}

func (d *DWARFDecoder) Decode(ctx context.Context, addresses []uint32) ([]AddressInfo, error) {
	f, err := elf.Open(d.Elf)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %v", ErrDecode, d.Elf, err)
	}
	defer f.Close()

	symbols := loadFuncSymbols(f)

	data, err := f.DWARF()
	if err != nil {
		log.WithError(err).WithField("elf", d.Elf).Debug("no dwarf data, using symbol table only")
		data = nil
	}

	var (
		funcs []funcRange
		units map[dwarf.Offset]*dwarf.Entry
	)
	if data != nil {
		funcs, units, err = loadFuncRanges(data)
		if err != nil {
			return nil, fmt.Errorf("%w: reading dwarf of %s: %v", ErrDecode, d.Elf, err)
		}
	}

	infos := make([]AddressInfo, len(addresses))
	for i, addr := range addresses {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDecode, err)
		}

		info := AddressInfo{Function: unknownFunction, Module: unknownLocation}
		pc := uint64(addr)

		if fn, ok := findRange(funcs, pc); ok {
			info.Function = fn.name
			if loc, ok := lineFor(data, units[fn.unitOffset], pc); ok {
				info.Module = loc
			}
		} else if name, ok := findSymbol(symbols, pc); ok {
			info.Function = name
		}
		info.Function = demangle.Filter(info.Function)
		infos[i] = info
	}
	return infos, nil
}

func loadFuncSymbols(f *elf.File) []elf.Symbol {
	symbols, err := f.Symbols()
	if err != nil {
		return nil
	}

	var funcs []elf.Symbol
	for _, sym := range symbols {
		if elf.ST_TYPE(sym.Info) == elf.STT_FUNC && sym.Value != 0 {
			funcs = append(funcs, sym)
		}
	}
	sort.Slice(funcs, func(i, j int) bool { return funcs[i].Value < funcs[j].Value })
	return funcs
}

func findSymbol(symbols []elf.Symbol, pc uint64) (string, bool) {
	i := sort.Search(len(symbols), func(i int) bool { return symbols[i].Value > pc }) - 1
	if i < 0 {
		return "", false
	}
	sym := symbols[i]
	if pc < sym.Value+sym.Size || pc == sym.Value {
		return sym.Name, true
	}
	return "", false
}

func loadFuncRanges(data *dwarf.Data) ([]funcRange, map[dwarf.Offset]*dwarf.Entry, error) {
	var (
		funcs []funcRange
		units = make(map[dwarf.Offset]*dwarf.Entry)
		unit  *dwarf.Entry
	)

	r := data.Reader()
	for {
		entry, err := r.Next()
		if err != nil {
			return nil, nil, err
		}
		if entry == nil {
			break
		}

		switch entry.Tag {
		case dwarf.TagCompileUnit:
			unit = entry
			units[entry.Offset] = entry
		case dwarf.TagSubprogram:
			if unit == nil {
				continue
			}
			name := subprogramName(data, entry)
			if name == "" {
				continue
			}
			ranges, err := data.Ranges(entry)
			if err != nil {
				continue
			}
			for _, rg := range ranges {
				funcs = append(funcs, funcRange{name: name, low: rg[0], high: rg[1], unitOffset: unit.Offset})
			}
		}
	}

	sort.Slice(funcs, func(i, j int) bool { return funcs[i].low < funcs[j].low })
	return funcs, units, nil
}

// subprogramName prefers the linkage name so it demangles like addr2line -C,
// following abstract_origin/specification for out-of-line definitions.
func subprogramName(data *dwarf.Data, entry *dwarf.Entry) string {
	for hops := 0; entry != nil && hops < 4; hops++ {
		if name, ok := entry.Val(dwarf.AttrLinkageName).(string); ok {
			return name
		}
		if name, ok := entry.Val(dwarf.AttrName).(string); ok {
			return name
		}

		ref, ok := entry.Val(dwarf.AttrAbstractOrigin).(dwarf.Offset)
		if !ok {
			ref, ok = entry.Val(dwarf.AttrSpecification).(dwarf.Offset)
		}
		if !ok {
			return ""
		}
		r := data.Reader()
		r.Seek(ref)
		next, err := r.Next()
		if err != nil {
			return ""
		}
		entry = next
	}
	return ""
}

func findRange(funcs []funcRange, pc uint64) (funcRange, bool) {
	// ranges may nest (lexical blocks are skipped, but overlapping
	// subprograms exist), so take the innermost starting at or below pc
	i := sort.Search(len(funcs), func(i int) bool { return funcs[i].low > pc })
	for j := i - 1; j >= 0; j-- {
		if pc >= funcs[j].low && pc < funcs[j].high {
			return funcs[j], true
		}
	}
	return funcRange{}, false
}

func lineFor(data *dwarf.Data, unit *dwarf.Entry, pc uint64) (string, bool) {
	if data == nil || unit == nil {
		return "", false
	}
	lr, err := data.LineReader(unit)
	if err != nil || lr == nil {
		return "", false
	}

	var entry dwarf.LineEntry
	if err := lr.SeekPC(pc, &entry); err != nil {
		if !errors.Is(err, dwarf.ErrUnknownPC) && !errors.Is(err, io.EOF) {
			log.WithError(err).Debug("line table lookup failed")
		}
		return "", false
	}
	if entry.File == nil {
		return "", false
	}
	return fmt.Sprintf("%s:%d", entry.File.Name, entry.Line), true
}
