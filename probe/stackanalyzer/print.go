package stackanalyzer

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

var (
	colorAddress  = color.New(color.FgWhite).SprintFunc()
	colorFunction = color.New(color.Bold, color.FgBlue).SprintFunc()
	colorTrap     = color.New(color.Bold, color.FgRed, color.BgWhite).SprintFunc()
	colorModule   = color.New(color.FgHiBlack).SprintFunc()
)

// Print writes two lines per frame: address, function and trap note, then
// the source location.
func (b *BackTraceInfo) Print(w io.Writer) error {
	for _, f := range b.stackFrames {
		if err := f.Print(w); err != nil {
			return err
		}
	}
	return nil
}

func (f StackFrameInfo) Print(w io.Writer) error {
	line := fmt.Sprintf("%s -> %s", colorAddress(fmt.Sprintf("%8s", formatAddress(f.Address))), colorFunction(f.Info.Function))
	if f.Trap != nil {
		line += " " + colorTrap(fmt.Sprintf("-> detected as trap handler %s", f.Trap))
	}

	_, err := fmt.Fprintf(w, "%s\n%s\n", line, colorModule("└────────── @ "+f.Info.Module))
	return err
}

func formatAddress(addr uint32) string {
	return fmt.Sprintf("0x%X", addr)
}
