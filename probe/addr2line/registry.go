// Package addr2line turns code addresses into function and source location
// names, batching lookups so a whole backtrace costs one decoder run.
package addr2line

import (
	"context"
	"errors"
	"fmt"

	"github.com/apex/log"
)

var (
	ErrSpawn                 = errors.New("cannot spawn address decoder")
	ErrDecode                = errors.New("address decoder did not terminate properly")
	ErrDecoderOutputMismatch = errors.New("address decoder output does not match request")
	ErrUnresolvedAddress     = errors.New("address could not be resolved")
)

// AddressInfo is the resolved identity of a code address.
type AddressInfo struct {
	Function string `json:"function"`
	Module   string `json:"module"`
}

// Decoder resolves a batch of addresses. The result holds exactly one entry
// per requested address, in request order.
type Decoder interface {
	Decode(ctx context.Context, addresses []uint32) ([]AddressInfo, error)
}

// Registry memoizes decoder results for one binary. It is not safe for
// concurrent use.
type Registry struct {
	decoder  Decoder
	registry map[uint32]AddressInfo
}

func NewRegistry(decoder Decoder) *Registry {
	return &Registry{
		decoder:  decoder,
		registry: make(map[uint32]AddressInfo),
	}
}

// Load resolves every address not cached yet with a single decoder call.
// Nothing is cached unless the whole batch resolves.
func (r *Registry) Load(ctx context.Context, addresses []uint32) error {
	pending := make([]uint32, 0, len(addresses))
	seen := make(map[uint32]bool, len(addresses))
	for _, addr := range addresses {
		if _, cached := r.registry[addr]; cached || seen[addr] {
			continue
		}
		seen[addr] = true
		pending = append(pending, addr)
	}
	if len(pending) == 0 {
		return nil
	}

	log.WithFields(log.Fields{
		"requested": len(addresses),
		"pending":   len(pending),
	}).Debug("decoding addresses")

	infos, err := r.decoder.Decode(ctx, pending)
	if err != nil {
		return err
	}
	if len(infos) != len(pending) {
		return fmt.Errorf("%w: %d results for %d addresses", ErrDecoderOutputMismatch, len(infos), len(pending))
	}

	for i, addr := range pending {
		r.registry[addr] = infos[i]
	}
	return nil
}

// Resolve returns the cached entry, loading the address on a miss.
func (r *Registry) Resolve(ctx context.Context, address uint32) (AddressInfo, error) {
	if info, ok := r.registry[address]; ok {
		return info, nil
	}

	if err := r.Load(ctx, []uint32{address}); err != nil {
		return AddressInfo{}, fmt.Errorf("resolving %#x: %w", address, err)
	}
	info, ok := r.registry[address]
	if !ok {
		return AddressInfo{}, fmt.Errorf("%w: %#x", ErrUnresolvedAddress, address)
	}
	return info, nil
}

// Len is the number of cached addresses.
func (r *Registry) Len() int { return len(r.registry) }
