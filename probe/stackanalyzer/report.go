package stackanalyzer

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/cespare/xxhash"
)

// Report is the machine readable form of a backtrace. ElfDigest ties it to
// the exact binary the addresses were symbolized against.
type Report struct {
	Elf       string        `json:"elf"`
	ElfDigest string        `json:"elf_digest"`
	Frames    []ReportFrame `json:"frames"`
}

type ReportFrame struct {
	Address  string    `json:"address"`
	Function string    `json:"function"`
	Module   string    `json:"module"`
	Trap     *TrapInfo `json:"trap"`
}

func NewReport(b *BackTraceInfo, elf string) (*Report, error) {
	data, err := os.ReadFile(elf)
	if err != nil {
		return nil, fmt.Errorf("reading %s for digest: %w", elf, err)
	}

	report := &Report{
		Elf:       elf,
		ElfDigest: fmt.Sprintf("%016x", xxhash.Sum64(data)),
		Frames:    make([]ReportFrame, 0, len(b.stackFrames)),
	}
	for _, f := range b.stackFrames {
		report.Frames = append(report.Frames, ReportFrame{
			Address:  formatAddress(f.Address),
			Function: f.Info.Function,
			Module:   f.Info.Module,
			Trap:     f.Trap,
		})
	}
	return report, nil
}

func (r *Report) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
