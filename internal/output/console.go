package output

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"
)

// Tone is the display class of a status.
type Tone int

const (
	ToneNeutral Tone = iota
	ToneSuccess
	ToneRedirect
	ToneClientError
	ToneServerError
	ToneIntercepted
	ToneFailed
)

func (t Tone) String() string {
	switch t {
	case ToneSuccess:
		return "success"
	case ToneRedirect:
		return "redirect"
	case ToneClientError:
		return "client-error"
	case ToneServerError:
		return "server-error"
	case ToneIntercepted:
		return "intercepted"
	case ToneFailed:
		return "failed"
	default:
		return "neutral"
	}
}

// Classify returns the tone of a status. Authorization refusals (401, 403)
// and client errors other than 400 and 422 stay neutral.
func Classify(status string) Tone {
	switch {
	case strings.HasPrefix(status, "2"):
		return ToneSuccess
	case status == "401" || status == "403":
		return ToneNeutral
	case strings.HasPrefix(status, "5"):
		return ToneServerError
	case status == "400" || status == "422":
		return ToneClientError
	case strings.HasPrefix(status, "3"):
		return ToneRedirect
	case status == StatusIntercepted:
		return ToneIntercepted
	case status == StatusError:
		return ToneFailed
	default:
		return ToneNeutral
	}
}

// Color returns the terminal color of a tone.
func (t Tone) Color() *color.Color {
	switch t {
	case ToneSuccess:
		return color.New(color.FgGreen)
	case ToneServerError:
		return color.New(color.FgRed)
	case ToneClientError:
		return color.New(color.FgYellow)
	case ToneRedirect:
		return color.New(color.FgBlue)
	case ToneIntercepted:
		return color.New(color.FgMagenta)
	case ToneFailed:
		return color.New(color.FgHiBlack)
	default:
		return color.New(color.Reset)
	}
}

// Console prints live result lines and the end-of-run summary.
type Console struct {
	mu      sync.Mutex
	out     io.Writer
	noColor bool
}

// NewConsole creates a console on w. noColor disables escape sequences.
func NewConsole(w io.Writer, noColor bool) *Console {
	return &Console{out: w, noColor: noColor}
}

func (c *Console) paint(status, line string) string {
	if c.noColor {
		return line
	}
	col := Classify(status).Color()
	col.EnableColor()
	return col.Sprint(line)
}

// Line formats one live result line.
func (c *Console) Line(res *ProbeResult) string {
	status := res.Status
	if res.Failed() && res.Error != "" {
		status += ": " + res.Error
	}
	line := fmt.Sprintf("[%-7s  ] %-80s -> %-20s", res.Method, res.URL, status)
	if res.Namespace != "" {
		line += " [ns:" + res.Namespace + "]"
	}
	return c.paint(res.Status, line)
}

// PrintResult writes the live line of res.
func (c *Console) PrintResult(res *ProbeResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, c.Line(res))
}

var summaryOrder = []string{"2", "5", "3", "4", "other"}

// Notable reports whether a record belongs in the summary.
func Notable(res *ProbeResult) bool {
	switch res.Status {
	case "401", "403", "404":
		return false
	}
	return true
}

// SummaryGroups returns the notable records grouped 2xx, 5xx, 3xx, 4xx, then
// everything else, keeping record order within a group.
func SummaryGroups(results []*ProbeResult) [][]*ProbeResult {
	groups := make(map[string][]*ProbeResult)
	for _, res := range results {
		if !Notable(res) {
			continue
		}
		key := "other"
		if code := res.StatusCode(); code >= 200 && code < 600 {
			key = res.Status[:1]
		}
		groups[key] = append(groups[key], res)
	}
	var out [][]*ProbeResult
	for _, k := range summaryOrder {
		if len(groups[k]) > 0 {
			out = append(out, groups[k])
		}
	}
	return out
}

// PrintSummary writes the summary block.
func (c *Console) PrintSummary(results []*ProbeResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	header := "=== Summary ==="
	if !c.noColor {
		cyan := color.New(color.FgCyan)
		cyan.EnableColor()
		header = cyan.Sprint(header)
	}
	fmt.Fprintln(c.out)
	fmt.Fprintln(c.out, header)
	for _, group := range SummaryGroups(results) {
		for _, res := range group {
			line := fmt.Sprintf("[%-7s] %-80s -> %-4s", res.Method, res.URL, res.Status)
			if res.Operation != "" && res.Service != "" {
				line += " [" + res.Operation + "]"
			}
			fmt.Fprintln(c.out, c.paint(res.Status, line))
		}
	}
}
