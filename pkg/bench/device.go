package bench

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
)

// ErrUnsupportedDevice is returned for devices other than the CPU.
var ErrUnsupportedDevice = errors.New("unsupported device")

// ParseDevice validates a device name. An empty name selects the CPU.
func ParseDevice(s string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "cpu":
		return "cpu", nil
	default:
		return "", fmt.Errorf("%w %q: only cpu is available", ErrUnsupportedDevice, s)
	}
}

// DeviceInfo is a snapshot of the device and the memory the process holds.
type DeviceInfo struct {
	Device string
	Name   string

	// Allocated is the live heap. Cached adds heap memory the runtime keeps
	// but has not returned to the OS.
	Allocated uint64
	Cached    uint64
}

// ReadDeviceInfo collects DeviceInfo for device.
func ReadDeviceInfo(device string) (DeviceInfo, error) {
	device, err := ParseDevice(device)
	if err != nil {
		return DeviceInfo{}, err
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return DeviceInfo{
		Device:    device,
		Name:      cpuName(),
		Allocated: m.HeapAlloc,
		Cached:    m.HeapSys - m.HeapReleased,
	}, nil
}

// cpuName reports the processor model where the OS exposes one.
func cpuName() string {
	name := fmt.Sprintf("%s/%s, %d threads", runtime.GOOS, runtime.GOARCH, runtime.NumCPU())

	f, err := os.Open("/proc/cpuinfo")
	if err != nil {
		return name
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if ok && strings.TrimSpace(key) == "model name" {
			return fmt.Sprintf("%s (%s)", strings.TrimSpace(value), name)
		}
	}
	return name
}
