package csa

import (
	"context"
	"errors"
	"fmt"
)

const (
	pcxiUL   = 1 << 20
	pcxiPCXS = 0x000f_0000
	pcxiPCXO = 0x0000_ffff

	// DefaultChainLimit bounds Walk when the caller does not care.
	DefaultChainLimit = 256
)

var ErrChainTooLong = errors.New("saved context chain exceeds limit")

// MemoryReader gives word access to target memory.
type MemoryReader interface {
	ReadWords(ctx context.Context, addr uint32, n int) ([]uint32, error)
}

// Link returns the effective address of the context a PCXI value points
// to; zero ends the chain.
func Link(pcxi uint32) uint32 {
	return (pcxi&pcxiPCXS)<<12 | (pcxi&pcxiPCXO)<<6
}

// IsUpper reports the UL bit: whether the linked context is an upper one.
func IsUpper(pcxi uint32) bool {
	return pcxi&pcxiUL != 0
}

// Walk follows the saved-context chain starting at pcxi, newest first.
func Walk(ctx context.Context, mem MemoryReader, pcxi uint32, limit int) ([]SavedContext, error) {
	if limit <= 0 {
		limit = DefaultChainLimit
	}

	var chain []SavedContext
	for Link(pcxi) != 0 {
		if len(chain) == limit {
			return nil, fmt.Errorf("%w (%d)", ErrChainTooLong, limit)
		}

		addr := Link(pcxi)
		words, err := mem.ReadWords(ctx, addr, Words)
		if err != nil {
			return nil, fmt.Errorf("reading context at %#x: %w", addr, err)
		}
		if len(words) != Words {
			return nil, fmt.Errorf("%w: read %d words at %#x", ErrBadContext, len(words), addr)
		}

		var w [Words]uint32
		copy(w[:], words)

		var saved SavedContext
		if IsUpper(pcxi) {
			saved = NewUpper(DecodeUpper(w))
		} else {
			saved = NewLower(DecodeLower(w))
		}
		chain = append(chain, saved)
		pcxi = saved.PCXI()
	}
	return chain, nil
}
