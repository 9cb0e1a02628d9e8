package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/op-runtime/ops"
	"github.com/wippyai/op-runtime/runtime"
)

type opInfo struct {
	Name string   `json:"name" yaml:"name"`
	ID   ops.OpID `json:"id" yaml:"id"`
}

type listing struct {
	Ops     []opInfo `json:"ops" yaml:"ops"`
	Modules []string `json:"modules" yaml:"modules"`
}

func newOpsCommand(flags *rootFlags) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "ops",
		Short: "List registered ops and modules",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, log, err := newRuntime(cmd.Context(), flags, nil)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			defer rt.Close(context.Background())

			color := output == "table" && isTerminal(os.Stdout)
			return render(cmd.OutOrStdout(), listRuntime(rt), output, color)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "table", "output format: table, json or yaml")
	return cmd
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

func listRuntime(rt *runtime.Runtime) listing {
	var l listing
	for _, name := range rt.Ops() {
		id, _ := rt.OpID(name)
		l.Ops = append(l.Ops, opInfo{Name: name, ID: id})
	}
	for _, m := range rt.Modules() {
		l.Modules = append(l.Modules, m.Name)
	}
	return l
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	idStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))
	nameStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#98FB98"))
)

func render(w io.Writer, l listing, format string, color bool) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(l)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(l); err != nil {
			return err
		}
		return enc.Close()
	case "table":
		return renderTable(w, l, color)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func renderTable(w io.Writer, l listing, color bool) error {
	style := func(s lipgloss.Style, text string) string {
		if !color {
			return text
		}
		return s.Render(text)
	}

	var b strings.Builder
	b.WriteString(style(headerStyle, fmt.Sprintf("%-4s %s", "ID", "OP")))
	b.WriteString("\n")
	for _, op := range l.Ops {
		b.WriteString(style(idStyle, fmt.Sprintf("%-4d", op.ID)))
		b.WriteString(" ")
		b.WriteString(style(nameStyle, op.Name))
		b.WriteString("\n")
	}
	if len(l.Modules) > 0 {
		b.WriteString("\n")
		b.WriteString(style(headerStyle, "MODULES"))
		b.WriteString("\n")
		for _, m := range l.Modules {
			b.WriteString(m)
			b.WriteString("\n")
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}
