// Package diag extracts structured findings from kanata's log output. The
// health probe tails the service log and scans it here instead of exposing
// raw log text to the UI.
package diag

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/keymend/keymend/internal/domain"
)

// tailChunk bounds how much of the log file is read. Kanata logs grow
// unbounded between rotations; the interesting lines are at the end.
const tailChunk = 64 * 1024

// Report is what a scan of recent kanata output yields.
type Report struct {
	// Diagnostics are user-facing findings, one per distinct problem.
	Diagnostics []domain.Diagnostic
	// VHIDConnected is true when the log shows a live connection to the
	// VirtualHIDDevice daemon with no later disconnect.
	VHIDConnected bool
}

// HasErrors reports whether any error-grade diagnostic was found.
func (r Report) HasErrors() bool {
	for _, d := range r.Diagnostics {
		if d.Severity == domain.SeverityError || d.Severity == domain.SeverityCritical {
			return true
		}
	}
	return false
}

type matcher struct {
	substr string
	diag   domain.Diagnostic
}

// matchers map known kanata log lines to findings. Substring matching is
// deliberate: kanata prefixes lines with timestamps and levels that vary
// between versions.
var matchers = []matcher{
	{
		substr: "IOHIDDeviceOpen error",
		diag: domain.Diagnostic{
			Severity: domain.SeverityError,
			Title:    "Keyboard access denied",
			Detail:   "kanata cannot open the keyboard device. Input Monitoring permission is missing or was revoked.",
		},
	},
	{
		substr: "not permitted",
		diag: domain.Diagnostic{
			Severity: domain.SeverityError,
			Title:    "Keyboard access denied",
			Detail:   "macOS refused device access. Input Monitoring permission is missing or was revoked.",
		},
	},
	{
		substr: "Address already in use",
		diag: domain.Diagnostic{
			Severity: domain.SeverityError,
			Title:    "Config server port taken",
			Detail:   "another process is bound to the kanata TCP port.",
		},
	},
	{
		substr: "Error in configuration",
		diag: domain.Diagnostic{
			Severity: domain.SeverityError,
			Title:    "Keyboard config is invalid",
			Detail:   "kanata rejected the keyboard config file.",
		},
	},
	{
		substr: "failed to parse",
		diag: domain.Diagnostic{
			Severity: domain.SeverityError,
			Title:    "Keyboard config is invalid",
			Detail:   "kanata rejected the keyboard config file.",
		},
	},
	{
		substr: "connect_failed asio.system",
		diag: domain.Diagnostic{
			Severity: domain.SeverityError,
			Title:    "Virtual device unreachable",
			Detail:   "kanata could not reach the VirtualHIDDevice daemon socket.",
		},
	},
}

const (
	connectedMarker    = "driver_connected 1"
	connectedAltMarker = "connected to Karabiner-VirtualHIDDevice-Daemon"
	disconnectedMarker = "driver_disconnected"
)

// Scan walks log lines oldest-first and reduces them to a report. A problem
// is reported once no matter how often it repeats; the connection flag
// follows the last connect/disconnect marker seen.
func Scan(lines []string) Report {
	var report Report
	seen := make(map[string]bool)
	for _, line := range lines {
		for _, m := range matchers {
			if !strings.Contains(line, m.substr) {
				continue
			}
			if !seen[m.diag.Title] {
				seen[m.diag.Title] = true
				report.Diagnostics = append(report.Diagnostics, m.diag)
			}
		}
		switch {
		case strings.Contains(line, connectedMarker), strings.Contains(line, connectedAltMarker):
			report.VHIDConnected = true
		case strings.Contains(line, disconnectedMarker):
			report.VHIDConnected = false
		}
	}
	return report
}

// TailLines returns up to max lines from the end of the file. A missing
// file returns no lines and no error: a service that never started has no
// log, which is not itself a diagnostic.
func TailLines(path string, max int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open log: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat log: %w", err)
	}

	size := info.Size()
	offset := int64(0)
	if size > tailChunk {
		offset = size - tailChunk
	}
	buf := make([]byte, size-offset)
	if _, err := f.ReadAt(buf, offset); err != nil {
		return nil, fmt.Errorf("read log tail: %w", err)
	}
	if offset > 0 {
		// drop the partial first line
		if i := bytes.IndexByte(buf, '\n'); i >= 0 {
			buf = buf[i+1:]
		}
	}

	var lines []string
	for _, raw := range bytes.Split(buf, []byte{'\n'}) {
		if line := strings.TrimRight(string(raw), "\r"); line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) > max {
		lines = lines[len(lines)-max:]
	}
	return lines, nil
}
