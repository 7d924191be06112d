// Package elftest writes small ELF32 images for tests: a chosen symbol
// table and optional loadable segments, nothing else.
package elftest

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

type Symbol struct {
	Name  string
	Value uint32
	Size  uint32
	Func  bool
}

type Segment struct {
	Addr uint32
	Data []byte
}

type File struct {
	Symbols  []Symbol
	Segments []Segment
	// NoSymtab leaves out .symtab and .strtab entirely.
	NoSymtab bool
}

const (
	headerSize  = 52
	progSize    = 32
	sectionSize = 40
	symSize     = 16
)

// Bytes lays the image out as header, program headers, segment data,
// section data and finally the section header table.
func Bytes(f File) []byte {
	var (
		strtab   = []byte{0}
		shstrtab = []byte{0}
		symtab   bytes.Buffer
	)
	addName := func(tab *[]byte, name string) uint32 {
		off := uint32(len(*tab))
		*tab = append(*tab, name...)
		*tab = append(*tab, 0)
		return off
	}

	binary.Write(&symtab, binary.LittleEndian, elf.Sym32{})
	for _, s := range f.Symbols {
		typ := elf.STT_NOTYPE
		if s.Func {
			typ = elf.STT_FUNC
		}
		binary.Write(&symtab, binary.LittleEndian, elf.Sym32{
			Name:  addName(&strtab, s.Name),
			Value: s.Value,
			Size:  s.Size,
			Info:  elf.ST_INFO(elf.STB_GLOBAL, typ),
			Shndx: uint16(elf.SHN_ABS),
		})
	}

	var sections []elf.Section32
	sections = append(sections, elf.Section32{})

	off := uint32(headerSize + progSize*len(f.Segments))
	var body bytes.Buffer
	var progs []elf.Prog32
	for _, seg := range f.Segments {
		progs = append(progs, elf.Prog32{
			Type:   uint32(elf.PT_LOAD),
			Off:    off,
			Vaddr:  seg.Addr,
			Paddr:  seg.Addr,
			Filesz: uint32(len(seg.Data)),
			Memsz:  uint32(len(seg.Data)),
			Flags:  uint32(elf.PF_R | elf.PF_X),
			Align:  1,
		})
		body.Write(seg.Data)
		off += uint32(len(seg.Data))
	}

	if !f.NoSymtab {
		symtabIdx := uint32(len(sections))
		sections = append(sections, elf.Section32{
			Name:      addName(&shstrtab, ".symtab"),
			Type:      uint32(elf.SHT_SYMTAB),
			Off:       off,
			Size:      uint32(symtab.Len()),
			Link:      symtabIdx + 1,
			Info:      1,
			Addralign: 4,
			Entsize:   symSize,
		})
		body.Write(symtab.Bytes())
		off += uint32(symtab.Len())

		sections = append(sections, elf.Section32{
			Name:      addName(&shstrtab, ".strtab"),
			Type:      uint32(elf.SHT_STRTAB),
			Off:       off,
			Size:      uint32(len(strtab)),
			Addralign: 1,
		})
		body.Write(strtab)
		off += uint32(len(strtab))
	}

	shstrndx := uint16(len(sections))
	nameOff := addName(&shstrtab, ".shstrtab")
	sections = append(sections, elf.Section32{
		Name:      nameOff,
		Type:      uint32(elf.SHT_STRTAB),
		Off:       off,
		Size:      uint32(len(shstrtab)),
		Addralign: 1,
	})
	body.Write(shstrtab)
	off += uint32(len(shstrtab))

	hdr := elf.Header32{
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(elf.EM_TRICORE),
		Version:   uint32(elf.EV_CURRENT),
		Shoff:     off,
		Ehsize:    headerSize,
		Phentsize: progSize,
		Phnum:     uint16(len(progs)),
		Shentsize: sectionSize,
		Shnum:     uint16(len(sections)),
		Shstrndx:  shstrndx,
	}
	if len(progs) > 0 {
		hdr.Phoff = headerSize
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS32)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)

	var out bytes.Buffer
	binary.Write(&out, binary.LittleEndian, hdr)
	for _, p := range progs {
		binary.Write(&out, binary.LittleEndian, p)
	}
	out.Write(body.Bytes())
	for _, s := range sections {
		binary.Write(&out, binary.LittleEndian, s)
	}
	return out.Bytes()
}

// Write stores the image as fw.elf in a fresh temporary directory and
// returns its path.
func Write(t testing.TB, f File) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fw.elf")
	if err := os.WriteFile(path, Bytes(f), 0644); err != nil {
		t.Fatalf("writing test elf: %v", err)
	}
	return path
}
