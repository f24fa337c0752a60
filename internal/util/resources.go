// SPDX-License-Identifier: MIT

package util

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ProcessSample is a point-in-time resource reading for one supervised
// child process.
type ProcessSample struct {
	CPUTicks uint64 // utime+stime, in clock ticks (see ClockTicksPerSecond)
	RSSBytes uint64
	OpenFDs  int
}

// ClockTicksPerSecond is the USER_HZ value baked into /proc/<pid>/stat's
// utime/stime fields on every Linux distribution restreamerd targets.
const ClockTicksPerSecond = 100

// SampleProcess reads /proc/<pid>/stat, /proc/<pid>/statm and the fd
// directory for pid, returning its current CPU time and resident memory.
// It is the only per-unit resource signal the FFmpeg process supervisor
// needs: both feed directly into the Prometheus gauges internal/metrics
// exports per supervised unit.
func SampleProcess(pid int) (ProcessSample, error) {
	var s ProcessSample

	statm, err := os.ReadFile(fmt.Sprintf("/proc/%d/statm", pid)) // #nosec G304 -- pid is our own supervised child
	if err != nil {
		return s, fmt.Errorf("read statm for pid %d: %w", pid, err)
	}
	fields := strings.Fields(string(statm))
	if len(fields) < 2 {
		return s, fmt.Errorf("unexpected statm format for pid %d", pid)
	}
	residentPages, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return s, fmt.Errorf("parse resident pages for pid %d: %w", pid, err)
	}
	s.RSSBytes = residentPages * uint64(os.Getpagesize())

	utime, stime, err := readStatTimes(pid)
	if err != nil {
		return s, err
	}
	s.CPUTicks = utime + stime

	if entries, err := os.ReadDir(fmt.Sprintf("/proc/%d/fd", pid)); err == nil {
		s.OpenFDs = len(entries)
	}

	return s, nil
}

// readStatTimes extracts utime (field 14) and stime (field 15) from
// /proc/<pid>/stat. The comm field (field 2) is parenthesized and may
// itself contain spaces or parens, so it is skipped by scanning to the
// last ')' rather than splitting naively on whitespace.
func readStatTimes(pid int) (utime, stime uint64, err error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid)) // #nosec G304 -- pid is our own supervised child
	if err != nil {
		return 0, 0, fmt.Errorf("read stat for pid %d: %w", pid, err)
	}
	line := string(data)
	closeIdx := strings.LastIndex(line, ")")
	if closeIdx == -1 || closeIdx+2 >= len(line) {
		return 0, 0, fmt.Errorf("unexpected stat format for pid %d", pid)
	}
	rest := strings.Fields(line[closeIdx+2:])
	// rest[0] is field 3 (state); utime is field 14 -> rest index 11.
	if len(rest) < 13 {
		return 0, 0, fmt.Errorf("stat for pid %d has too few fields", pid)
	}
	utime, err = strconv.ParseUint(rest[11], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse utime for pid %d: %w", pid, err)
	}
	stime, err = strconv.ParseUint(rest[12], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse stime for pid %d: %w", pid, err)
	}
	return utime, stime, nil
}
