package stackanalyzer

import (
	"context"

	"github.com/apex/log"
	"github.com/chains-project/tricore-probe/probe/addr2line"
	"github.com/chains-project/tricore-probe/probe/binanalyzer"
	"github.com/chains-project/tricore-probe/probe/csa"
)

// DecoderFactory builds the address decoder for one binary.
type DecoderFactory func(elf string) addr2line.Decoder

type options struct {
	decoderFactory DecoderFactory
}

type Option func(*options)

// WithDecoderFactory selects how addresses are symbolized.
func WithDecoderFactory(f DecoderFactory) Option {
	return func(o *options) { o.decoderFactory = f }
}

// WithDecoder uses d regardless of the binary.
func WithDecoder(d addr2line.Decoder) Option {
	return WithDecoderFactory(func(string) addr2line.Decoder { return d })
}

// CommandDecoders runs command (an addr2line for the target) per binary.
func CommandDecoders(command string) DecoderFactory {
	return func(elf string) addr2line.Decoder { return addr2line.NewCommandDecoder(command, elf) }
}

// DWARFDecoders symbolizes in-process.
func DWARFDecoders() DecoderFactory {
	return func(elf string) addr2line.Decoder { return addr2line.NewDWARFDecoder(elf) }
}

// Reconstruct symbolizes the halted state in snapshot against elf. Frames
// come out as: current pc, the caller in a11, then every saved context in
// the order it was captured. Any failure aborts the whole trace.
func Reconstruct(ctx context.Context, snapshot csa.Stacktrace, elf string, opts ...Option) (*BackTraceInfo, error) {
	o := options{decoderFactory: CommandDecoders(addr2line.DefaultCommand)}
	for _, opt := range opts {
		opt(&o)
	}

	trapMetadata, err := binanalyzer.LoadTrapMetadata(elf)
	if err != nil {
		return nil, err
	}
	registry := addr2line.NewRegistry(o.decoderFactory(elf))

	addresses := make([]uint32, 0, len(snapshot.StackFrames)+2)
	for _, frame := range snapshot.StackFrames {
		addresses = append(addresses, frame.ReturnAddress())
	}
	addresses = append(addresses, snapshot.CurrentPC, snapshot.CurrentUpper.A11)

	if err := registry.Load(ctx, addresses); err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"elf":         elf,
		"frames":      len(snapshot.StackFrames),
		"trap_symbol": trapMetadata.TrapSymbol(),
	}).Debug("reconstructing backtrace")

	stackFrames := make([]StackFrameInfo, 0, len(snapshot.StackFrames)+2)

	current, err := frameAt(ctx, registry, snapshot.CurrentPC,
		trapInfo(trapMetadata, snapshot.CurrentPC, snapshot.CurrentUpper.D15))
	if err != nil {
		return nil, err
	}
	stackFrames = append(stackFrames, current)

	// a11 holds a return site, which is never a trap entry
	caller, err := frameAt(ctx, registry, snapshot.CurrentUpper.A11, nil)
	if err != nil {
		return nil, err
	}
	stackFrames = append(stackFrames, caller)

	for _, ctxFrame := range snapshot.StackFrames {
		var trap *TrapInfo
		if upper, ok := ctxFrame.AsUpper(); ok {
			trap = trapInfo(trapMetadata, upper.A11, upper.D15)
		}

		frame, err := frameAt(ctx, registry, ctxFrame.ReturnAddress(), trap)
		if err != nil {
			return nil, err
		}
		stackFrames = append(stackFrames, frame)
	}

	return &BackTraceInfo{stackFrames: stackFrames}, nil
}

// trapInfo only reports a trap when address is in the table; d15 holds
// the trap identification number in a trap entry context.
func trapInfo(meta *binanalyzer.TrapMetadata, address, d15 uint32) *TrapInfo {
	class, ok := meta.TrapClass(address)
	if !ok {
		return nil
	}
	return &TrapInfo{Class: class, TrapID: uint8(d15)}
}

func frameAt(ctx context.Context, registry *addr2line.Registry, address uint32, trap *TrapInfo) (StackFrameInfo, error) {
	info, err := registry.Resolve(ctx, address)
	if err != nil {
		return StackFrameInfo{}, err
	}
	return StackFrameInfo{Address: address, Trap: trap, Info: info}, nil
}
