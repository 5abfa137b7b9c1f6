package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/productivity-assistant/backend/internal/model/chat"
	"github.com/zhouzirui/productivity-assistant/backend/internal/session"
	"github.com/zhouzirui/productivity-assistant/backend/internal/transport"
)

func (a *app) dialers() []transport.Dialer {
	var dialers []transport.Dialer
	for _, name := range a.cfg.Transports {
		switch name {
		case "websocket":
			dialers = append(dialers, &transport.WebSocketDialer{URL: a.cfg.WebSocketURL, WriteTimeout: 10 * time.Second})
		case "http":
			dialers = append(dialers, &transport.HTTPStreamDialer{BaseURL: a.cfg.StreamURL})
		}
	}
	return dialers
}

func (a *app) runChat(cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := session.Options{
		Dialers:          a.dialers(),
		Assistant:        a.apiClient(),
		Tokens:           a.store,
		Sender:           a.store.Username(),
		HistoryWindow:    a.cfg.HistoryWindow,
		ComposingTimeout: a.cfg.ComposingTimeout,
		Logger:           a.logger,
	}
	if a.cfg.Reconnect {
		opts.Reconnect = session.DefaultReconnectPolicy()
	}
	s, err := session.New(opts)
	if err != nil {
		return err
	}
	defer s.Close()

	out := cmd.OutOrStdout()
	mode, err := s.Start(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "[%s mode] type /clear to reset, /quit to leave\n", mode)

	g, gctx := errgroup.WithContext(ctx)
	r := &renderer{out: out}
	g.Go(func() error {
		r.render(s.Snapshot())
		for range s.Changes() {
			r.render(s.Snapshot())
		}
		return nil
	})
	g.Go(func() error {
		defer s.Close()
		return readInput(gctx, cmd.InOrStdin(), s, out)
	})

	err = g.Wait()
	if errors.Is(err, errQuit) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

var errQuit = errors.New("quit")

// readInput forwards lines to the session until EOF, /quit or ctx ends.
func readInput(ctx context.Context, in io.Reader, s *session.Session, out io.Writer) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			switch text := strings.TrimSpace(line); text {
			case "":
			case "/quit":
				return errQuit
			case "/clear":
				s.ClearHistory()
			default:
				switch err := s.SendUserMessage(text); {
				case errors.Is(err, session.ErrSendInFlight):
					fmt.Fprintln(out, "(still waiting for the previous answer)")
				case err != nil:
					return err
				}
			}
		}
	}
}

// renderer prints log entries not yet shown. A shorter log means it was cleared.
type renderer struct {
	out       io.Writer
	printed   int
	composing bool
}

func (r *renderer) render(snap session.Snapshot) {
	if len(snap.Messages) < r.printed {
		r.printed = 0
		fmt.Fprintln(r.out, "----")
	}
	for _, m := range snap.Messages[r.printed:] {
		if m.Kind == chat.KindUser {
			r.printed++
			continue
		}
		label := m.Sender
		if m.Kind == chat.KindError {
			label = "error"
		}
		fmt.Fprintf(r.out, "%s> %s\n", label, m.Content)
		r.printed++
	}
	if snap.Composing && !r.composing {
		fmt.Fprintln(r.out, "(assistant is typing...)")
	}
	r.composing = snap.Composing
}
