// Package stackanalyzer rebuilds a symbolized, trap annotated call stack
// from the state of a halted TriCore core.
package stackanalyzer

import (
	"fmt"

	"github.com/chains-project/tricore-probe/probe/addr2line"
)

// TrapInfo marks a frame whose address lies in the trap table.
type TrapInfo struct {
	Class  uint8 `json:"class"`
	TrapID uint8 `json:"trap_id"`
}

func (t TrapInfo) String() string {
	return fmt.Sprintf("{class: %d, trap_id: %d}", t.Class, t.TrapID)
}

type StackFrameInfo struct {
	Address uint32
	// Trap is nil unless the frame was detected as a trap handler.
	Trap *TrapInfo
	Info addr2line.AddressInfo
}

// BackTraceInfo is the finished trace, current frame first.
type BackTraceInfo struct {
	stackFrames []StackFrameInfo
}

// Frames returns a copy of the frames.
func (b *BackTraceInfo) Frames() []StackFrameInfo {
	frames := make([]StackFrameInfo, len(b.stackFrames))
	copy(frames, b.stackFrames)
	return frames
}

func (b *BackTraceInfo) Len() int { return len(b.stackFrames) }
