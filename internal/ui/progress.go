package ui

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
)

const (
	barWidth    = 40
	minBarWidth = 10

	// plain output prints a line every this many percent
	lineStep = 10
)

// FormatBytes renders a byte count with binary units, e.g. "1.5 GiB".
func FormatBytes(b int64) string {
	if b < 0 {
		b = 0
	}
	return humanize.IBytes(uint64(b))
}

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

type progressMsg float64

type progressDoneMsg struct {
	err error
}

type progressModel struct {
	bar      progress.Model
	label    string
	size     int64
	fraction float64

	// rate is measured from the first update so resumed bytes do not count
	started      time.Time
	baseFraction float64
	now          func() time.Time

	done   bool
	result string
}

func initialProgressModel(label string, size int64) progressModel {
	return progressModel{
		bar: progress.New(
			progress.WithDefaultGradient(),
			progress.WithWidth(barWidth),
			progress.WithoutPercentage(),
		),
		label:        label,
		size:         size,
		now:          time.Now,
		baseFraction: -1,
	}
}

func (m progressModel) Init() tea.Cmd {
	return nil
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case progressMsg:
		f := float64(msg)
		if m.baseFraction < 0 {
			m.baseFraction = f
			m.started = m.now()
		}
		if f > m.fraction {
			m.fraction = f
		}
		return m, nil
	case progressDoneMsg:
		m.done = true
		if msg.err == nil {
			m.fraction = 1
			m.result = Check(m.label)
		} else {
			m.result = Cross(fmt.Sprintf("%s: %v", m.label, msg.err))
		}
		return m, tea.Quit
	case tea.WindowSizeMsg:
		m.bar.Width = max(min(msg.Width-len(m.label)-40, barWidth), minBarWidth)
		return m, nil
	}
	return m, nil
}

func (m progressModel) View() string {
	if m.done {
		return m.result + "\n"
	}

	line := fmt.Sprintf("%s %s %3.0f%%", m.label, m.bar.ViewAs(m.fraction), m.fraction*100)
	if m.size > 0 {
		line += Muted(fmt.Sprintf(" │ %s / %s", FormatBytes(int64(m.fraction*float64(m.size))), FormatBytes(m.size)))
		if rate := m.rate(); rate > 0 {
			line += Muted(fmt.Sprintf(" │ %s/s", FormatBytes(int64(rate))))
		}
	}
	return line
}

// rate returns bytes per second since the first update.
func (m progressModel) rate() float64 {
	if m.baseFraction < 0 || m.size <= 0 {
		return 0
	}
	elapsed := m.now().Sub(m.started).Seconds()
	if elapsed < 1 {
		return 0
	}
	return (m.fraction - m.baseFraction) * float64(m.size) / elapsed
}

// DownloadProgress shows the progress of one download and implements
// download.Observer. On a terminal it draws a progress bar; elsewhere it
// prints a plain line every 10%.
type DownloadProgress struct {
	out   io.Writer
	label string
	size  int64

	program *tea.Program
	exited  chan struct{}

	mu       sync.Mutex
	lastStep int
	closed   bool
}

// NewDownloadProgress starts rendering progress for label on out. size is
// the total byte count, zero when unknown.
func NewDownloadProgress(out io.Writer, label string, size int64) *DownloadProgress {
	p := &DownloadProgress{
		out:      out,
		label:    label,
		size:     size,
		lastStep: -1,
	}

	if IsTerminal(out) {
		p.program = tea.NewProgram(initialProgressModel(label, size),
			tea.WithOutput(out),
			tea.WithInput(nil),
			tea.WithoutSignalHandler(),
		)
		p.exited = make(chan struct{})
		go func() {
			defer close(p.exited)
			p.program.Run()
		}()
	}
	return p
}

func (p *DownloadProgress) OnProgress(fraction float64) {
	if p.program != nil {
		p.program.Send(progressMsg(fraction))
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	step := int(fraction*100) / lineStep * lineStep
	if p.closed || step <= p.lastStep || step >= 100 {
		return
	}
	p.lastStep = step
	fmt.Fprintf(p.out, "%s: %d%%%s\n", p.label, step, p.sizeSuffix(fraction))
}

func (p *DownloadProgress) OnFinished() {
	p.finish(nil)
}

func (p *DownloadProgress) OnFailed(err error) {
	p.finish(err)
}

func (p *DownloadProgress) finish(err error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	if p.program != nil {
		p.program.Send(progressDoneMsg{err: err})
		<-p.exited
		return
	}

	if err != nil {
		fmt.Fprintf(p.out, "%s: failed: %v\n", p.label, err)
		return
	}
	fmt.Fprintf(p.out, "%s: done%s\n", p.label, p.sizeSuffix(1))
}

func (p *DownloadProgress) sizeSuffix(fraction float64) string {
	if p.size <= 0 {
		return ""
	}
	return fmt.Sprintf(" (%s / %s)", FormatBytes(int64(fraction*float64(p.size))), FormatBytes(p.size))
}
