package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tanq16/siphon/internal/app"
	"github.com/tanq16/siphon/internal/domain"
	"github.com/tanq16/siphon/internal/output"
	"github.com/tanq16/siphon/internal/ui"
)

// session runs the engine in the foreground and draws its items on the terminal.
type session struct {
	ctx     context.Context
	stop    context.CancelFunc
	app     *app.Context
	manager *output.Manager
}

func openApp() (*app.Context, error) {
	return app.NewContext(cfg, app.Options{Prompter: ui.NewPrompter(os.Stdin, os.Stderr)})
}

func openServer() (*app.Context, error) {
	return app.NewContext(cfg, app.Options{})
}

func newSession() (*session, error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	c, err := openApp()
	if err != nil {
		stop()
		return nil, err
	}
	manager := output.NewManager(os.Stdout, output.IsTerminal(os.Stdout))
	term := ui.NewTerminal(manager, nil)
	view := ui.NewView(term, nil)
	term.Attach(view)
	c.Subscribe(view.Handle)
	if err := c.Start(ctx); err != nil {
		c.Close()
		stop()
		return nil, err
	}
	manager.StartDisplay()
	return &session{ctx: ctx, stop: stop, app: c, manager: manager}, nil
}

// settle blocks until the item is terminal.
func (s *session) settle(ctx context.Context, id string) error {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		it, err := s.app.Orchestrator.Item(ctx, id)
		if err == nil && it.Status.IsTerminal() {
			if it.Status != domain.StatusCompleted {
				return fmt.Errorf("%s %s", id, it.Status)
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// wait settles every id, then shuts the engine down and reports how many did not complete.
func (s *session) wait(ids []string) (failed int) {
	for _, id := range ids {
		if err := s.settle(s.ctx, id); err != nil {
			failed++
		}
	}
	if s.ctx.Err() != nil {
		s.manager.Note("Interrupted, unfinished items resume on the next run")
	}
	s.close()
	return failed
}

func (s *session) close() {
	if err := s.app.Close(); err != nil {
		fmt.Fprintln(os.Stderr, output.FError(err.Error()))
	}
	s.manager.StopDisplay()
	s.stop()
}
