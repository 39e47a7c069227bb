package main

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/charmbracelet/lipgloss"
	"github.com/goccy/go-json"
	"github.com/openmined/quicksave/internal/gate"
	"github.com/openmined/quicksave/internal/pipeline"
	"github.com/openmined/quicksave/internal/state"
	"github.com/openmined/quicksave/internal/status"
	"gopkg.in/yaml.v3"
)

var (
	projectStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	noticeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	dimStyle     = lipgloss.NewStyle().Faint(true)
)

func renderEvent(ev *status.Event) string {
	name := projectStyle.Render(filepath.Base(ev.Project))
	switch {
	case ev.Kind == status.KindClear:
		return ""
	case ev.Level == status.LevelError:
		return fmt.Sprintf("%s %s", name, errorStyle.Render(ev.Text))
	case ev.Kind == status.KindNotice:
		return fmt.Sprintf("%s %s", name, noticeStyle.Render(ev.Text))
	default:
		return fmt.Sprintf("%s %s", name, ev.Text)
	}
}

// printEvents writes rendered status events until events is closed.
// Notices duplicate the status line they come with, so only errors and
// status lines are printed.
func printEvents(w io.Writer, events <-chan *status.Event) {
	for ev := range events {
		if ev.Kind == status.KindNotice && ev.Level != status.LevelError {
			continue
		}
		if line := renderEvent(ev); line != "" {
			fmt.Fprintln(w, line)
		}
	}
}

func describeResult(res *pipeline.Result) string {
	name := projectStyle.Render(filepath.Base(res.Project))
	switch res.Decision.Kind {
	case gate.SkipNotConfigured:
		return fmt.Sprintf("%s %s", name, dimStyle.Render("not configured, nothing sent"))
	case gate.SkipCooldown:
		return fmt.Sprintf("%s %s", name, status.TextCooldown(res.Decision.RemainingSeconds()))
	case gate.SkipNoChange:
		return fmt.Sprintf("%s %s", name, status.TextNoChange)
	}
	if res.Err != nil {
		return fmt.Sprintf("%s %s", name, errorStyle.Render(res.Err.Error()))
	}
	return fmt.Sprintf("%s %s", name, res.Decision.String())
}

func writeState(w io.Writer, st *state.ProjectState, asJSON bool) error {
	if asJSON {
		data, err := json.MarshalIndent(st, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(st); err != nil {
		return err
	}
	return enc.Close()
}
