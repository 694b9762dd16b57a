package ui

import (
	"fmt"
	"io"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type spinModel struct {
	spinner  spinner.Model
	message  string
	quitting bool
}

type spinFinishMsg struct {
	success bool
	message string
}

func initialSpinModel(message string) spinModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	return spinModel{
		spinner: s,
		message: message,
	}
}

func (m spinModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m spinModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case spinFinishMsg:
		m.quitting = true
		if msg.success {
			m.message = Success(msg.message)
		} else {
			m.message = ErrorMsg(msg.message)
		}
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m spinModel) View() string {
	if m.quitting {
		if m.message == "" {
			// Clear the line and stay on it (no newline)
			return "\r\033[K"
		}
		return m.message + "\n"
	}
	return fmt.Sprintf("%s %s", m.spinner.View(), m.message)
}

// Spinner animates a message on a terminal while work is in progress.
type Spinner struct {
	out  io.Writer
	prog *tea.Program
	done chan struct{}
}

func NewSpinner(out io.Writer) *Spinner {
	return &Spinner{out: out}
}

// Start shows message with a spinner. It does nothing when out is not a
// terminal.
func (s *Spinner) Start(message string) {
	if !IsTerminal(s.out) {
		return
	}
	s.prog = tea.NewProgram(initialSpinModel(message),
		tea.WithOutput(s.out),
		tea.WithInput(nil),
		tea.WithoutSignalHandler(),
	)
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		s.prog.Run()
	}()
}

// Stop replaces the spinner with message, or clears the line when message
// is empty.
func (s *Spinner) Stop(success bool, message string) {
	if s.prog == nil {
		return
	}
	s.prog.Send(spinFinishMsg{success: success, message: message})
	<-s.done
	s.prog = nil
}

// WithSpinner runs fn while a spinner shows message on out. The spinner
// line is cleared afterwards so callers can print their own result.
func WithSpinner(out io.Writer, message string, fn func() error) error {
	s := NewSpinner(out)
	s.Start(message)
	err := fn()
	s.Stop(err == nil, "")
	return err
}
