package probe

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/keymend/keymend/internal/domain"
)

// TestCommandBinary verifies argv[0] basename extraction.
func TestCommandBinary(t *testing.T) {
	tests := []struct {
		name    string
		command string
		want    string
	}{
		{"absolute path with args", "/opt/homebrew/bin/kanata --cfg /tmp/a.kbd", "kanata"},
		{"bare name", "kanata", "kanata"},
		{"editor with config open", "/usr/bin/vim kanata.kbd", "vim"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, commandBinary(tt.command))
		})
	}
}

// TestFilterBinary verifies that substring process matches are narrowed to
// real argv[0] hits.
func TestFilterBinary(t *testing.T) {
	procs := []domain.ProcessInfo{
		{PID: 100, Command: "/opt/homebrew/bin/kanata --cfg /tmp/a.kbd"},
		{PID: 101, Command: "/usr/bin/vim kanata.kbd"},
		{PID: 102, Command: "kanata"},
		{PID: 103, Command: "grep kanata /var/log/system.log"},
	}

	got := filterBinary(procs, "kanata")

	assert.Equal(t, []domain.ProcessInfo{procs[0], procs[2]}, got)
}
