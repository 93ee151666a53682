//go:build windows

package sensors

import (
	"os/exec"
	"strconv"
	"strings"
)

// readCPUTemp reads CPU temperature on Windows via WMI.
func readCPUTemp() (float64, bool) {
	out, err := exec.Command("powershell", "-NoProfile", "-Command",
		`Get-CimInstance MSAcpi_ThermalZoneTemperature -Namespace root/wmi -ErrorAction SilentlyContinue | Select-Object -First 1 -ExpandProperty CurrentTemperature`).Output()
	if err != nil {
		return 0, false
	}
	// WMI returns temperature in tenths of Kelvin.
	val, err := strconv.Atoi(strings.TrimSpace(string(out)))
	if err != nil {
		return 0, false
	}
	celsius := float64(val)/10 - 273.15
	if celsius < 0 || celsius > 150 {
		return 0, false
	}
	return celsius, true
}

// readCPUTicks is not implemented on Windows without cgo/PDH bindings.
func readCPUTicks() (idle, total uint64, ok bool) {
	return 0, 0, false
}

// readMemPercent reads used-memory percentage via WMI.
func readMemPercent() (float64, bool) {
	out, err := exec.Command("powershell", "-NoProfile", "-Command",
		`$os = Get-CimInstance Win32_OperatingSystem; [math]::Round((($os.TotalVisibleMemorySize - $os.FreePhysicalMemory) / $os.TotalVisibleMemorySize) * 100)`).Output()
	if err != nil {
		return 0, false
	}
	pct, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, false
	}
	return pct, true
}

// readDiskPercent reads utilization of the volume containing path via WMI.
func readDiskPercent(path string) (float64, bool) {
	drive := "C:"
	if len(path) >= 2 && path[1] == ':' {
		drive = path[:2]
	}
	script := `$d = Get-CimInstance Win32_LogicalDisk -Filter "DeviceID='` + drive + `'"; [math]::Round((($d.Size - $d.FreeSpace) / $d.Size) * 100)`
	out, err := exec.Command("powershell", "-NoProfile", "-Command", script).Output()
	if err != nil {
		return 0, false
	}
	pct, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, false
	}
	return pct, true
}

// readInterfaceCounters is not available without platform-specific APIs.
func readInterfaceCounters(iface string) (InterfaceSample, bool) {
	return InterfaceSample{}, false
}

// hasBattery checks for battery presence on Windows.
func hasBattery() bool {
	out, err := exec.Command("powershell", "-NoProfile", "-Command",
		`(Get-CimInstance Win32_Battery -ErrorAction SilentlyContinue).Count`).Output()
	if err != nil {
		return false
	}
	count, _ := strconv.Atoi(strings.TrimSpace(string(out)))
	return count > 0
}

// batteryPercentage returns charge level on Windows.
func batteryPercentage() int {
	out, err := exec.Command("powershell", "-NoProfile", "-Command",
		`(Get-CimInstance Win32_Battery -ErrorAction SilentlyContinue).EstimatedChargeRemaining`).Output()
	if err != nil {
		return 100
	}
	pct, err := strconv.Atoi(strings.TrimSpace(string(out)))
	if err != nil || pct == 0 {
		return 100
	}
	return pct
}
