package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/spotauth/internal/shared"
	"github.com/desertthunder/spotauth/internal/ui"
	"github.com/urfave/cli/v3"
)

// TUI launches the interactive terminal UI on top of a running session.
func (r *Runner) TUI(ctx context.Context, cmd *cli.Command) error {
	// Redirect logs to file to avoid interfering with TUI rendering
	fileLogger, err := shared.NewFileLogger("./tmp/spotauth-tui.log")
	if err != nil {
		return fmt.Errorf("failed to create file logger: %w", err)
	}
	r.SetLogger(fileLogger)
	r.announce = func(url string) {
		r.logger.Warn("open this URL in your browser to sign in", "url", url)
	}

	return r.withSession(ctx, listenHTTP|skipReady, func(ctx context.Context, st *stack) error {
		model := ui.NewModel(ctx, st.controller, st.spotify)
		p := tea.NewProgram(model, tea.WithContext(ctx))

		if _, err := p.Run(); err != nil {
			return fmt.Errorf("error running TUI: %w", err)
		}
		return nil
	})
}
