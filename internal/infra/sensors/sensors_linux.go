//go:build linux

package sensors

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// readCPUTemp reads CPU temperature on Linux via sysfs thermal zone.
func readCPUTemp() (float64, bool) {
	data, err := os.ReadFile("/sys/class/thermal/thermal_zone0/temp")
	if err != nil {
		return 0, false
	}
	milliC, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false
	}
	return float64(milliC) / 1000, true
}

// readCPUTicks reads aggregate (idle, total) jiffies from /proc/stat.
func readCPUTicks() (idle, total uint64, ok bool) {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return 0, 0, false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return 0, 0, false
	}
	fields := strings.Fields(scanner.Text())
	if len(fields) < 5 || fields[0] != "cpu" {
		return 0, 0, false
	}
	var sum uint64
	var idleTicks uint64
	for i, v := range fields[1:] {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			continue
		}
		sum += n
		if i == 3 || i == 4 { // idle, iowait
			idleTicks += n
		}
	}
	return idleTicks, sum, true
}

// readMemPercent reads used-memory percentage from /proc/meminfo.
func readMemPercent() (float64, bool) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, false
	}
	defer f.Close()

	var total, avail uint64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "MemTotal:"):
			total = parseMeminfoKB(line)
		case strings.HasPrefix(line, "MemAvailable:"):
			avail = parseMeminfoKB(line)
		}
	}
	if total == 0 {
		return 0, false
	}
	used := total - avail
	return float64(used) / float64(total) * 100, true
}

func parseMeminfoKB(line string) uint64 {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0
	}
	v, _ := strconv.ParseUint(fields[1], 10, 64)
	return v
}

// readDiskPercent reads filesystem utilization for path via statfs(2).
func readDiskPercent(path string) (float64, bool) {
	if path == "" {
		path = "/"
	}
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return 0, false
	}
	total := st.Blocks * uint64(st.Bsize)
	free := st.Bfree * uint64(st.Bsize)
	if total == 0 {
		return 0, false
	}
	used := total - free
	return float64(used) / float64(total) * 100, true
}

// readInterfaceCounters reads rx/tx byte counters for iface from sysfs.
func readInterfaceCounters(iface string) (InterfaceSample, bool) {
	rx, okRx := readSysfsCounter(iface, "rx_bytes")
	tx, okTx := readSysfsCounter(iface, "tx_bytes")
	if !okRx || !okTx {
		return InterfaceSample{}, false
	}
	return InterfaceSample{RxBytes: rx, TxBytes: tx}, true
}

func readSysfsCounter(iface, name string) (uint64, bool) {
	data, err := os.ReadFile("/sys/class/net/" + iface + "/statistics/" + name)
	if err != nil {
		return 0, false
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// hasBattery checks for battery on Linux via sysfs.
func hasBattery() bool {
	_, err := os.Stat("/sys/class/power_supply/BAT0")
	return err == nil
}

// batteryPercentage returns charge on Linux.
func batteryPercentage() int {
	data, err := os.ReadFile("/sys/class/power_supply/BAT0/capacity")
	if err != nil {
		return 100
	}
	pct, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pct == 0 {
		return 100
	}
	return pct
}
