package chip

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/chains-project/tricore-probe/probe/binanalyzer"
	"github.com/chains-project/tricore-probe/probe/config"
	"github.com/chains-project/tricore-probe/probe/csa"
	"github.com/chains-project/tricore-probe/probe/internal/elftest"
	"github.com/google/go-cmp/cmp"
)

func writeSnapshot(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "halt.json")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing snapshot: %v", err)
	}
	return path
}

func TestLoadReplay_NamedFrames(t *testing.T) {
	// arrange
	path := writeSnapshot(t, `{
		"device": "Aurix Lite Kit v2",
		"rtt": "aGVsbG8=",
		"current_pc": "0x80001040",
		"current_upper": {"a11": "0x80002000", "D15": 7},
		"stack_frames": [
			{"kind": "upper", "a11": "0x80000105", "d15": 1},
			{"kind": "lower", "a11": 2147483904}
		]
	}`)

	// act
	replay, err := LoadReplay(path, "")
	if err != nil {
		t.Fatalf("LoadReplay: %v", err)
	}
	var rtt bytes.Buffer
	snapshot, err := replay.ReadRTT(context.Background(), 0x7000_0000, &rtt)

	// assert
	if err != nil {
		t.Fatalf("ReadRTT: %v", err)
	}
	if rtt.String() != "hello" {
		t.Errorf("rtt = %q, want %q", rtt.String(), "hello")
	}
	want := csa.Stacktrace{
		CurrentPC:    0x8000_1040,
		CurrentUpper: csa.UpperContext{A11: 0x8000_2000, D15: 7},
		StackFrames: []csa.SavedContext{
			csa.NewUpper(csa.UpperContext{A11: 0x8000_0105, D15: 1}),
			csa.NewLower(csa.LowerContext{A11: 0x8000_0100}),
		},
	}
	if diff := cmp.Diff(want, snapshot, cmp.AllowUnexported(csa.SavedContext{})); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}

	devices, err := replay.Devices(context.Background())
	if err != nil {
		t.Fatalf("Devices: %v", err)
	}
	if diff := cmp.Diff([]Device{{ID: "Aurix Lite Kit v2"}}, devices); diff != "" {
		t.Errorf("devices mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadReplay_CSAMemory(t *testing.T) {
	// arrange: upper at 0x70000400 links to lower at 0x70000440
	path := writeSnapshot(t, `{
		"current_pc": 16,
		"csa": {
			"pcxi": "0x00370010",
			"memory": [
				{"address": "0x70000400", "words": ["0x00270011", 0, 0, "0x80000100", 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 2]},
				{"address": "0x70000440", "words": [0, "0x80000200", 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0]}
			]
		}
	}`)

	// act
	replay, err := LoadReplay(path, "")
	if err != nil {
		t.Fatalf("LoadReplay: %v", err)
	}
	snapshot, err := replay.ReadRTT(context.Background(), 0, &bytes.Buffer{})

	// assert
	if err != nil {
		t.Fatalf("ReadRTT: %v", err)
	}
	want := []csa.SavedContext{
		csa.NewUpper(csa.UpperContext{PCXI: 0x0027_0011, A11: 0x8000_0100, D15: 2}),
		csa.NewLower(csa.LowerContext{A11: 0x8000_0200}),
	}
	if diff := cmp.Diff(want, snapshot.StackFrames, cmp.AllowUnexported(csa.SavedContext{})); diff != "" {
		t.Errorf("stack frames mismatch (-want +got):\n%s", diff)
	}
	if snapshot.CurrentPC != 16 {
		t.Errorf("CurrentPC = %#x, want 0x10", snapshot.CurrentPC)
	}

	devices, _ := replay.Devices(context.Background())
	if len(devices) != 1 || devices[0].ID != "replay:halt.json" {
		t.Errorf("devices = %v, want the snapshot name", devices)
	}
}

func TestLoadReplay_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not json", `{`},
		{"bad register value", `{"current_pc": "0xZZ"}`},
		{"value too wide", `{"current_pc": 4294967296}`},
		{"unknown register", `{"current_upper": {"a2": 1}}`},
		{"missing kind", `{"stack_frames": [{"a11": 1}]}`},
		{"unknown kind", `{"stack_frames": [{"kind": "middle"}]}`},
		{"lower register in upper", `{"stack_frames": [{"kind": "upper", "d0": 1}]}`},
		{"frames and csa", `{"stack_frames": [{"kind": "lower"}], "csa": {"pcxi": 0}}`},
		{"unrecorded csa", `{"csa": {"pcxi": "0x00370010"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadReplay(writeSnapshot(t, tt.content), "")
			if !errors.Is(err, ErrBadSnapshot) {
				t.Errorf("LoadReplay error = %v, want %v", err, ErrBadSnapshot)
			}
		})
	}

	if _, err := LoadReplay(filepath.Join(t.TempDir(), "missing.json"), ""); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing snapshot error = %v, want %v", err, os.ErrNotExist)
	}
}

func TestReadRTT_CanceledContext(t *testing.T) {
	replay, err := LoadReplay(writeSnapshot(t, `{"rtt": "aGVsbG8="}`), "")
	if err != nil {
		t.Fatalf("LoadReplay: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var rtt bytes.Buffer
	if _, err := replay.ReadRTT(ctx, 0, &rtt); !errors.Is(err, context.Canceled) {
		t.Errorf("ReadRTT error = %v, want %v", err, context.Canceled)
	}
	if rtt.Len() != 0 {
		t.Errorf("rtt written after cancel: %q", rtt.String())
	}
}

func TestFlashElf_WritesHexImage(t *testing.T) {
	// arrange
	elf := elftest.Write(t, elftest.File{
		Segments: []elftest.Segment{{Addr: 0x8000_0000, Data: []byte{0xde, 0xad, 0xbe, 0xef}}},
	})
	hexOutput := filepath.Join(t.TempDir(), "fw.hex")
	replay, err := LoadReplay(writeSnapshot(t, `{}`), hexOutput)
	if err != nil {
		t.Fatalf("LoadReplay: %v", err)
	}

	// act
	err = New(replay).FlashElf(context.Background(), elf, false)

	// assert
	if err != nil {
		t.Fatalf("FlashElf: %v", err)
	}
	got, err := os.ReadFile(hexOutput)
	if err != nil {
		t.Fatalf("reading hex output: %v", err)
	}
	data, _ := os.ReadFile(elf)
	want, err := binanalyzer.ElfToHex(data)
	if err != nil {
		t.Fatalf("ElfToHex: %v", err)
	}
	if diff := cmp.Diff(string(want), string(got)); diff != "" {
		t.Errorf("hex image mismatch (-want +got):\n%s", diff)
	}
}

func TestFlashElf_Errors(t *testing.T) {
	replay, err := LoadReplay(writeSnapshot(t, `{}`), "")
	if err != nil {
		t.Fatalf("LoadReplay: %v", err)
	}
	chip := New(replay)

	if err := chip.FlashElf(context.Background(), filepath.Join(t.TempDir(), "none.elf"), false); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing elf error = %v, want %v", err, os.ErrNotExist)
	}

	empty := elftest.Write(t, elftest.File{})
	if err := chip.FlashElf(context.Background(), empty, false); !errors.Is(err, binanalyzer.ErrNoLoadableSegments) {
		t.Errorf("segmentless elf error = %v, want %v", err, binanalyzer.ErrNoLoadableSegments)
	}
}

func TestOpen(t *testing.T) {
	path := writeSnapshot(t, `{"device": "kit"}`)
	chip, err := Open(config.BackendConfig{Kind: config.BackendReplay, Snapshot: path})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer chip.Close()

	devices, err := chip.Devices(context.Background())
	if err != nil || len(devices) != 1 || devices[0].ID != "kit" {
		t.Errorf("Devices = %v, %v", devices, err)
	}

	if _, err := Open(config.BackendConfig{Kind: "miniwiggler"}); !errors.Is(err, config.ErrInvalid) {
		t.Errorf("unknown backend error = %v, want %v", err, config.ErrInvalid)
	}
}
