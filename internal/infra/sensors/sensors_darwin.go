//go:build darwin

package sensors

import (
	"os/exec"
	"strconv"
	"strings"
)

// readCPUTemp reads CPU temperature on macOS via osx-cpu-temp if installed.
func readCPUTemp() (float64, bool) {
	out, err := exec.Command("osx-cpu-temp").Output()
	if err != nil {
		return 0, false
	}
	s := strings.TrimSpace(string(out))
	s = strings.TrimSuffix(s, "°C")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// readCPUTicks is not available without cgo on darwin.
func readCPUTicks() (idle, total uint64, ok bool) {
	return 0, 0, false
}

// readMemPercent is not available without cgo on darwin.
func readMemPercent() (float64, bool) {
	return 0, false
}

// readDiskPercent uses statfs via the syscall package is platform-specific;
// left unimplemented here (0, false) to keep the build cgo-free.
func readDiskPercent(path string) (float64, bool) {
	return 0, false
}

// readInterfaceCounters is not available without platform-specific APIs.
func readInterfaceCounters(iface string) (InterfaceSample, bool) {
	return InterfaceSample{}, false
}

// hasBattery checks for battery on macOS.
func hasBattery() bool {
	out, err := exec.Command("pmset", "-g", "batt").Output()
	if err != nil {
		return false
	}
	return strings.Contains(string(out), "Battery")
}

// batteryPercentage returns charge on macOS.
func batteryPercentage() int {
	out, err := exec.Command("pmset", "-g", "batt").Output()
	if err != nil {
		return 100
	}
	for _, line := range strings.Split(string(out), "\n") {
		if idx := strings.Index(line, "%"); idx > 0 {
			start := idx - 1
			for start > 0 && line[start-1] >= '0' && line[start-1] <= '9' {
				start--
			}
			pct, _ := strconv.Atoi(line[start:idx])
			if pct > 0 {
				return pct
			}
		}
	}
	return 100
}
