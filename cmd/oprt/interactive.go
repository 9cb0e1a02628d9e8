package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/wippyai/op-runtime/errors"
	"github.com/wippyai/op-runtime/ops"
	"github.com/wippyai/op-runtime/resource"
	"github.com/wippyai/op-runtime/runtime"
)

const callTimeout = 30 * time.Second

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	opStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#98FB98"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

func newInteractiveCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "interactive",
		Aliases: []string{"i"},
		Short:   "Pick ops and call them from a terminal UI",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, log, err := newRuntime(cmd.Context(), flags, nil)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			defer rt.Close(context.Background())

			p := tea.NewProgram(newInteractiveModel(rt), tea.WithAltScreen())
			_, err = p.Run()
			return err
		},
	}
}

type modelState int

const (
	stateSelectOp modelState = iota
	stateInputArgs
	stateShowResult
	stateResources
)

type interactiveModel struct {
	err      error
	rt       *runtime.Runtime
	result   string
	ops      []string
	entries  []resource.Entry
	input    textinput.Model
	selected int
	state    modelState
}

type callResultMsg struct {
	err    error
	result string
}

func newInteractiveModel(rt *runtime.Runtime) *interactiveModel {
	return &interactiveModel{
		rt:    rt,
		ops:   rt.Ops(),
		state: stateSelectOp,
	}
}

func (m *interactiveModel) Init() tea.Cmd {
	return nil
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit

		case "q":
			if m.state != stateInputArgs {
				return m, tea.Quit
			}

		case "up", "k":
			if m.state == stateSelectOp && m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.state == stateSelectOp && m.selected < len(m.ops)-1 {
				m.selected++
			}

		case "r":
			if m.state == stateSelectOp {
				m.entries = m.rt.Resources().Entries()
				m.state = stateResources
			}

		case "enter":
			switch m.state {
			case stateSelectOp:
				if len(m.ops) == 0 {
					break
				}
				m.input = textinput.New()
				m.input.Placeholder = `JSON args, e.g. {"rid": 3}`
				m.input.Prompt = m.ops[m.selected] + " "
				m.input.Width = 60
				m.input.Focus()
				m.state = stateInputArgs
				return m, textinput.Blink

			case stateInputArgs:
				return m, m.callOp(m.ops[m.selected], m.input.Value())

			case stateShowResult, stateResources:
				m.reset()
			}

		case "esc":
			if m.state != stateSelectOp {
				m.reset()
			}
		}

	case callResultMsg:
		m.result = msg.result
		m.err = msg.err
		m.state = stateShowResult
	}

	if m.state == stateInputArgs {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *interactiveModel) reset() {
	m.state = stateSelectOp
	m.result = ""
	m.err = nil
}

// callOp runs the op off the UI loop. Async ops are awaited.
func (m *interactiveModel) callOp(name, raw string) tea.Cmd {
	return func() tea.Msg {
		var args ops.Args
		if strings.TrimSpace(raw) != "" {
			if err := json.Unmarshal([]byte(raw), &args.Value); err != nil {
				return callResultMsg{err: errors.Wrap(errors.PhaseDecode, errors.KindInvalidInput, err, "args are not JSON")}
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()
		v, err := m.rt.Call(ctx, name, args)
		if err != nil {
			return callResultMsg{err: err}
		}
		return callResultMsg{result: formatResult(v)}
	}
}

func formatResult(v any) string {
	if b, ok := v.([]byte); ok {
		return fmt.Sprintf("%d bytes: %q", len(b), b)
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(out)
}

func (m *interactiveModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("oprt"))
	b.WriteString(" ")
	b.WriteString(string(m.rt.ID()))
	b.WriteString("\n\n")

	switch m.state {
	case stateSelectOp:
		b.WriteString("Select an op to call:\n\n")
		for i, name := range m.ops {
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + name))
			} else {
				b.WriteString("  " + opStyle.Render(name))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter call • r resources • q quit"))

	case stateInputArgs:
		b.WriteString(m.input.View())
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter call • esc back"))

	case stateShowResult:
		b.WriteString(fmt.Sprintf("Result of %s:\n\n", opStyle.Render(m.ops[m.selected])))
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("%s: %v", errors.Class(m.err), m.err)))
		} else {
			b.WriteString(resultStyle.Render(m.result))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter continue • q quit"))

	case stateResources:
		b.WriteString("Open resources:\n\n")
		for _, e := range m.entries {
			b.WriteString(fmt.Sprintf("  %4d  %s\n", e.ID, opStyle.Render(e.Name)))
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("enter back • q quit"))
	}

	return b.String()
}
