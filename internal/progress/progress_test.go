package progress

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestDisplay_RecordBeforeStart(t *testing.T) {
	var buf bytes.Buffer
	d := NewWithWriter(&buf)
	d.Record(false)

	if buf.Len() != 0 {
		t.Errorf("output before Start = %q, want empty", buf.String())
	}
	if done, _ := d.Stats(); done != 1 {
		t.Errorf("done = %d, want 1", done)
	}
}

func TestDisplay_Progress(t *testing.T) {
	var buf bytes.Buffer
	d := NewWithWriter(&buf)
	d.Start("http://api.local/openapi.json", 4)

	d.Record(false)
	d.Record(true)

	out := buf.String()
	if !strings.Contains(out, " 50% | Probes: 2/4 | Errors: 1") {
		t.Errorf("output = %q, want 50%% line", out)
	}

	d.SetTotal(2)
	d.Record(false)
	if !strings.Contains(buf.String(), "100% | Probes: 3/3") {
		t.Errorf("output = %q, want total clamped to done", buf.String())
	}

	d.Stop()
	d.Stop()
	if !strings.HasSuffix(buf.String(), "\n") {
		t.Error("Stop() did not end the line")
	}
	n := buf.Len()
	d.Record(false)
	if buf.Len() != n {
		t.Error("Record() after Stop() wrote output")
	}
}

func TestDisplay_Concurrent(t *testing.T) {
	var buf bytes.Buffer
	d := NewWithWriter(&buf)
	d.Start("t", 100)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				d.Record(j == i)
			}
		}(i)
	}
	wg.Wait()

	done, errs := d.Stats()
	if done != 100 || errs != 10 {
		t.Errorf("Stats() = %d, %d, want 100, 10", done, errs)
	}
}

func TestDisplay_PrintSummary(t *testing.T) {
	var buf bytes.Buffer
	d := NewWithWriter(&buf)
	d.Start("http://svc.local/UserService.asmx", 2)
	d.Record(false)
	d.PrintSummary(1)

	out := buf.String()
	for _, want := range []string{"Fuzz Complete", "UserService.asmx", "Endpoints:   1", "Requests:    1"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q", want)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0s"},
		{1500 * time.Millisecond, "2s"},
		{75 * time.Second, "1m15s"},
		{3*time.Hour + 2*time.Minute + 1*time.Second, "3h02m01s"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.in); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTruncateURL(t *testing.T) {
	if got := truncateURL("short", 10); got != "short" {
		t.Errorf("truncateURL() = %q", got)
	}
	if got := truncateURL(strings.Repeat("a", 20), 10); got != "aaaaaaa..." {
		t.Errorf("truncateURL() = %q, want aaaaaaa...", got)
	}
	if got := truncateURL("/ü"+strings.Repeat("ö", 20), 10); got != "/üööööö..." {
		t.Errorf("truncateURL() = %q, want /üööööö...", got)
	}
}
