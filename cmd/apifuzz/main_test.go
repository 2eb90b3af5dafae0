package main

import (
	"strings"
	"testing"
	"time"

	"github.com/PentesterFlow/APIFuzz/pkg/apifuzz"
)

func TestDelayFlagDefault(t *testing.T) {
	f := runCmd.Flags().Lookup("delay")
	if f == nil {
		t.Fatal("run has no --delay flag")
	}
	if f.Shorthand != "d" {
		t.Errorf("Shorthand = %q, want d", f.Shorthand)
	}
	if f.DefValue != "0.1" {
		t.Errorf("DefValue = %q, want 0.1", f.DefValue)
	}
	if !strings.Contains(f.Usage, "0.1s") {
		t.Errorf("Usage = %q, should state the 0.1s default", f.Usage)
	}
	if got := apifuzz.DefaultConfig().Delay; got != 100*time.Millisecond {
		t.Errorf("DefaultConfig().Delay = %v, want 100ms", got)
	}
}
