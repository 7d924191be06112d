package chip

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"
)

// PrettyPrintDevices lists devices for a human.
func PrettyPrintDevices(w io.Writer, devices []Device) {
	if len(devices) == 0 {
		fmt.Fprintln(w, color.YellowString("No devices available"))
		return
	}
	fmt.Fprintf(w, "Found %d devices:\n", len(devices))
	for index, device := range devices {
		fmt.Fprintf(w, "Device %d: %s\n", index, color.WhiteString("%s", device.ID))
	}
}

// MachineOutput lists devices as a JSON array for tooling.
func MachineOutput(w io.Writer, devices []Device) error {
	if devices == nil {
		devices = []Device{}
	}
	data, err := json.Marshal(devices)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
