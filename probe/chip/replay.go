package chip

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/apex/log"
	"github.com/chains-project/tricore-probe/probe/csa"
)

var ErrBadSnapshot = errors.New("invalid snapshot file")

// Replay is a backend that plays back a halt recorded earlier. Flashing
// writes the hex image to disk instead of a device.
type Replay struct {
	path      string
	hexOutput string
	device    string
	rtt       []byte
	snapshot  csa.Stacktrace
}

// hexWord accepts 32 bit values as JSON numbers or "0x" strings.
type hexWord uint32

func (h *hexWord) UnmarshalJSON(data []byte) error {
	s := string(data)
	base := 10
	if strings.HasPrefix(s, `"`) {
		unquoted, err := strconv.Unquote(s)
		if err != nil {
			return err
		}
		s, base = unquoted, 0
	}
	v, err := strconv.ParseUint(s, base, 32)
	if err != nil {
		return fmt.Errorf("register value %s: %w", data, err)
	}
	*h = hexWord(v)
	return nil
}

type snapshotFile struct {
	Device       string                       `json:"device"`
	RTT          []byte                       `json:"rtt"`
	CurrentPC    hexWord                      `json:"current_pc"`
	CurrentUpper map[string]hexWord           `json:"current_upper"`
	StackFrames  []map[string]json.RawMessage `json:"stack_frames"`
	CSA          *csaDump                     `json:"csa"`
}

// csaDump is raw context save area memory plus the PCXI to start from.
type csaDump struct {
	PCXI   hexWord `json:"pcxi"`
	Memory []struct {
		Address hexWord   `json:"address"`
		Words   []hexWord `json:"words"`
	} `json:"memory"`
}

func LoadReplay(path, hexOutput string) (*Replay, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}

	var file snapshotFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w %s: %v", ErrBadSnapshot, path, err)
	}

	snapshot, err := file.stacktrace()
	if err != nil {
		return nil, fmt.Errorf("%w %s: %v", ErrBadSnapshot, path, err)
	}

	device := file.Device
	if device == "" {
		device = "replay:" + filepath.Base(path)
	}
	return &Replay{
		path:      path,
		hexOutput: hexOutput,
		device:    device,
		rtt:       file.RTT,
		snapshot:  snapshot,
	}, nil
}

func (f snapshotFile) stacktrace() (csa.Stacktrace, error) {
	upperWords, err := registerWords(f.CurrentUpper, csa.UpperRegisters)
	if err != nil {
		return csa.Stacktrace{}, fmt.Errorf("current_upper: %w", err)
	}
	snapshot := csa.Stacktrace{
		CurrentPC:    uint32(f.CurrentPC),
		CurrentUpper: csa.DecodeUpper(upperWords),
	}

	if f.CSA != nil && len(f.StackFrames) > 0 {
		return csa.Stacktrace{}, errors.New("use either stack_frames or csa, not both")
	}

	for i, frame := range f.StackFrames {
		saved, err := decodeFrame(frame)
		if err != nil {
			return csa.Stacktrace{}, fmt.Errorf("stack_frames[%d]: %w", i, err)
		}
		snapshot.StackFrames = append(snapshot.StackFrames, saved)
	}

	if f.CSA != nil {
		mem := make(memoryImage)
		for _, region := range f.CSA.Memory {
			for i, w := range region.Words {
				mem[uint32(region.Address)+uint32(4*i)] = uint32(w)
			}
		}
		chain, err := csa.Walk(context.Background(), mem, uint32(f.CSA.PCXI), csa.DefaultChainLimit)
		if err != nil {
			return csa.Stacktrace{}, fmt.Errorf("csa: %w", err)
		}
		snapshot.StackFrames = chain
	}
	return snapshot, nil
}

func decodeFrame(frame map[string]json.RawMessage) (csa.SavedContext, error) {
	var kindName string
	if err := json.Unmarshal(frame["kind"], &kindName); err != nil {
		return csa.SavedContext{}, fmt.Errorf("%w: missing kind", csa.ErrBadContext)
	}
	kind, err := csa.ParseKind(kindName)
	if err != nil {
		return csa.SavedContext{}, err
	}

	registers := make(map[string]hexWord, len(frame))
	for name, raw := range frame {
		if name == "kind" {
			continue
		}
		var v hexWord
		if err := json.Unmarshal(raw, &v); err != nil {
			return csa.SavedContext{}, fmt.Errorf("%s: %w", name, err)
		}
		registers[name] = v
	}

	if kind == csa.KindUpper {
		words, err := registerWords(registers, csa.UpperRegisters)
		if err != nil {
			return csa.SavedContext{}, err
		}
		return csa.NewUpper(csa.DecodeUpper(words)), nil
	}
	words, err := registerWords(registers, csa.LowerRegisters)
	if err != nil {
		return csa.SavedContext{}, err
	}
	return csa.NewLower(csa.DecodeLower(words)), nil
}

// registerWords places named registers at their CSA slot; missing ones are zero.
func registerWords(registers map[string]hexWord, names [csa.Words]string) ([csa.Words]uint32, error) {
	var words [csa.Words]uint32
	for name, v := range registers {
		slot := -1
		for i, n := range names {
			if n == strings.ToLower(name) {
				slot = i
				break
			}
		}
		if slot < 0 {
			return words, fmt.Errorf("%w: register %q is not part of this context", csa.ErrBadContext, name)
		}
		words[slot] = uint32(v)
	}
	return words, nil
}

// memoryImage is recorded target memory, word addressed.
type memoryImage map[uint32]uint32

func (m memoryImage) ReadWords(ctx context.Context, addr uint32, n int) ([]uint32, error) {
	words := make([]uint32, n)
	for i := range words {
		w, ok := m[addr+uint32(4*i)]
		if !ok {
			return nil, fmt.Errorf("address %#x not recorded", addr+uint32(4*i))
		}
		words[i] = w
	}
	return words, nil
}

func (r *Replay) FlashHex(ctx context.Context, ihex []byte, haltMemtool bool) error {
	if haltMemtool {
		log.Warn("Replay backend has no memtool to halt in")
	}
	if r.hexOutput == "" {
		log.WithField("bytes", len(ihex)).Info("Replay backend: discarding hex image")
		return nil
	}
	if err := os.WriteFile(r.hexOutput, ihex, 0644); err != nil {
		return fmt.Errorf("writing hex image: %w", err)
	}
	log.WithField("path", r.hexOutput).Info("Wrote hex image")
	return nil
}

func (r *Replay) ReadRTT(ctx context.Context, controlBlock uint64, w io.Writer) (csa.Stacktrace, error) {
	log.WithFields(log.Fields{
		"snapshot":      r.path,
		"control_block": fmt.Sprintf("%#x", controlBlock),
		"rtt_bytes":     len(r.rtt),
	}).Debug("replaying rtt")

	if err := ctx.Err(); err != nil {
		return csa.Stacktrace{}, err
	}
	if len(r.rtt) > 0 {
		if _, err := w.Write(r.rtt); err != nil {
			return csa.Stacktrace{}, fmt.Errorf("forwarding rtt data: %w", err)
		}
	}
	return r.snapshot, nil
}

func (r *Replay) Devices(ctx context.Context) ([]Device, error) {
	return []Device{{ID: r.device}}, nil
}

func (r *Replay) Close() error { return nil }
