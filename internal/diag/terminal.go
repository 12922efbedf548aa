package diag

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// Terminal: user-facing progress (not logging).
// - TTY: one mpb bar per file (total = chunks × types), colored status lines.
// - non-TTY (or CI): one plain line per milestone.
// - Safe for concurrent use; a failed write disables it.
type Terminal struct {
	w       io.Writer
	enabled bool
	isTTY   bool

	info    lipgloss.Style
	success lipgloss.Style
	warn    lipgloss.Style
	fail    lipgloss.Style

	concurrency int
	llm         string
	filesDone   int
	runStart    time.Time

	curFileID string
	total     int
	done      int
	errCount  int

	progress *mpb.Progress
	bar      *mpb.Bar

	mu sync.Mutex
}

var (
	termMu sync.RWMutex
	term   *Terminal
)

// SetTerminal installs the process-wide terminal (nil clears).
func SetTerminal(t *Terminal) { termMu.Lock(); term = t; termMu.Unlock() }

// GetTerminal returns the process-wide terminal (may be nil).
func GetTerminal() *Terminal { termMu.RLock(); defer termMu.RUnlock(); return term }

// NewTerminal builds a terminal; enabled=false makes every call a no-op.
func NewTerminal(w io.Writer, enabled bool) *Terminal {
	if w == nil {
		w = os.Stderr
	}
	t := &Terminal{w: w, enabled: enabled}
	if os.Getenv("CI") == "" {
		if f, ok := w.(*os.File); ok {
			if fi, err := f.Stat(); err == nil {
				t.isTTY = fi.Mode()&os.ModeCharDevice != 0
			}
		}
	}
	r := lipgloss.NewRenderer(w)
	t.info = r.NewStyle().Foreground(lipgloss.Color("12"))
	t.success = r.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	t.warn = r.NewStyle().Foreground(lipgloss.Color("11"))
	t.fail = r.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	return t
}

// RunStart records the run context.
func (t *Terminal) RunStart(concurrency int, llm string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.concurrency = concurrency
	t.llm = llm
	t.filesDone = 0
	t.runStart = time.Now()
	t.println(t.info.Render(fmt.Sprintf("[run] concurrency=%d | llm=%s", concurrency, safe(llm))))
}

// FileStart marks the current file and its planned invocation count.
func (t *Terminal) FileStart(fileID string, total int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.curFileID = shortenBase(fileID, 48)
	t.total = total
	t.done = 0
	t.errCount = 0
	if !t.isTTY {
		t.println(fmt.Sprintf("[file] %s | planned=%d", t.curFileID, total))
		return
	}
	t.progress = mpb.New(mpb.WithOutput(t.w), mpb.WithWidth(40))
	t.bar = t.progress.AddBar(int64(total),
		mpb.PrependDecorators(
			decor.Name(t.curFileID, decor.WCSyncSpaceR),
			decor.CountersNoUnit("%d/%d", decor.WCSyncWidth),
		),
		mpb.AppendDecorators(
			decor.Percentage(decor.WC{W: 5}),
			decor.Elapsed(decor.ET_STYLE_GO, decor.WC{W: 6}),
		),
	)
}

// Advance records one settled invocation.
func (t *Terminal) Advance(ok bool) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.done++
	if !ok {
		t.errCount++
	}
	if t.bar != nil {
		t.bar.Increment()
	}
}

// FileFinish completes the current file.
func (t *Terminal) FileFinish(ok bool, dur time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.filesDone++
	t.closeBar(ok)
	line := fmt.Sprintf("[%s] %s | invocations %d/%d | errors %d | %s",
		status(ok), t.curFileID, t.done, t.total, t.errCount, formatDur(dur))
	if ok {
		t.println(t.success.Render(line))
	} else {
		t.println(t.fail.Render(line))
	}
}

// RunFinish prints the run summary.
func (t *Terminal) RunFinish(ok bool, dur time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.closeBar(ok)
	line := fmt.Sprintf("[%s] all done | files %d | %s", status(ok), t.filesDone, formatDur(dur))
	if ok {
		t.println(t.success.Render(line))
	} else {
		t.println(t.fail.Render(line))
	}
}

// tone selects a line style; resolved after the nil check.
type tone int

const (
	toneInfo tone = iota
	toneSuccess
	toneWarn
	toneError
)

// Info prints a neutral message.
func (t *Terminal) Info(msg string) { t.line(toneInfo, "[info] "+msg) }

// Success prints a success message.
func (t *Terminal) Success(msg string) { t.line(toneSuccess, "[ok] "+msg) }

// Warn prints a warning.
func (t *Terminal) Warn(msg string) { t.line(toneWarn, "[warn] "+msg) }

// Error prints an error message.
func (t *Terminal) Error(msg string) { t.line(toneError, "[error] "+msg) }

func (t *Terminal) line(k tone, s string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	st := t.info
	switch k {
	case toneSuccess:
		st = t.success
	case toneWarn:
		st = t.warn
	case toneError:
		st = t.fail
	}
	t.println(st.Render(safe(s)))
}

// closeBar must be called with mu held.
func (t *Terminal) closeBar(ok bool) {
	if t.bar == nil {
		return
	}
	if ok {
		t.bar.SetTotal(-1, true)
	} else {
		t.bar.Abort(false)
	}
	t.progress.Wait()
	t.bar, t.progress = nil, nil
}

func (t *Terminal) println(s string) {
	if _, err := io.WriteString(t.w, s+"\n"); err != nil {
		t.enabled = false
	}
}

func status(ok bool) string {
	if ok {
		return "done"
	}
	return "fail"
}

// shortenBase takes the base name and truncates it to max runes with an ellipsis.
func shortenBase(s string, max int) string {
	if max <= 0 {
		return ""
	}
	base := filepath.Base(strings.TrimSpace(s))
	if base == "" || base == "." {
		return ""
	}
	rs := []rune(base)
	if len(rs) <= max {
		return base
	}
	cut := max - 1
	if cut < 1 {
		cut = 1
	}
	return string(rs[:cut]) + "…"
}

func safe(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "\r", " ")
}

func formatDur(d time.Duration) string {
	if d < time.Second {
		ms := d.Milliseconds()
		if ms < 0 {
			ms = 0
		}
		return fmt.Sprintf("%dms", ms)
	}
	return fmt.Sprintf("%.1fs", float64(d.Milliseconds())/1000.0)
}
