package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/zhouzirui/zen-companion/backend/internal/consumer"
	"github.com/zhouzirui/zen-companion/backend/internal/model/chat"
	"github.com/zhouzirui/zen-companion/backend/internal/model/persona"
	"github.com/zhouzirui/zen-companion/backend/internal/model/stream"
)

const helpText = `Commands:
  /new     start a new conversation
  /cancel  stop the reply in progress
  /help    show this help
  /quit    exit`

// syncWriter serialises output from the REPL loop and the stream listener.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

type repl struct {
	out       io.Writer
	transport consumer.Transport
	speaker   string
	chat      *consumer.Consumer
}

func newREPL(out io.Writer, transport consumer.Transport, speaker string) *repl {
	r := &repl{
		out:       &syncWriter{w: out},
		transport: transport,
		speaker:   speaker,
	}
	r.chat = r.newConsumer()
	return r
}

func (r *repl) newConsumer() *consumer.Consumer {
	return consumer.New(r.transport, nil, consumer.WithListener(r.render))
}

// render prints the reply as it streams in.
func (r *repl) render(u consumer.Update) {
	switch {
	case u.Delta != "":
		fmt.Fprint(r.out, u.Delta)
	case u.State == consumer.StateStreaming:
		fmt.Fprintf(r.out, "%s: ", r.speaker)
	case u.State == consumer.StateIdle && u.Message != nil && u.Message.Role == chat.RoleAssistant:
		fmt.Fprintln(r.out)
	case u.State == consumer.StateError:
		fmt.Fprintf(r.out, "\n[%s] %s\n", stream.KindOf(u.Err), describe(u.Err))
	}
}

// handle runs one input line and reports whether the REPL should exit.
func (r *repl) handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	switch line {
	case "":
		return false
	case "/quit", "/exit":
		r.chat.Cancel()
		return true
	case "/help":
		fmt.Fprintln(r.out, helpText)
		return false
	case "/cancel":
		if r.chat.Cancel() {
			fmt.Fprintln(r.out, "\n[cancelled]")
		}
		return false
	case "/new":
		r.chat.Cancel()
		r.chat = r.newConsumer()
		fmt.Fprintln(r.out, "Started a new conversation.")
		return false
	}

	if strings.HasPrefix(line, "/") {
		fmt.Fprintf(r.out, "unknown command %s, try /help\n", line)
		return false
	}

	if err := r.chat.Submit(ctx, line); errors.Is(err, consumer.ErrBusy) {
		fmt.Fprintln(r.out, "Still replying, use /cancel to stop.")
	} else if err != nil {
		fmt.Fprintf(r.out, "send failed: %v\n", err)
	}
	return false
}

func runInteractive(ctx context.Context, in io.Reader, out io.Writer, opts cliOptions, transport consumer.Transport) error {
	speaker := "Zen"
	if p, err := fetchPersona(ctx, opts.server); err != nil {
		fmt.Fprintf(out, "warning: could not load persona: %v\n", err)
	} else {
		if p.Name != "" {
			speaker = p.Name
		}
		if p.OpeningLine != "" {
			fmt.Fprintf(out, "%s: %s\n", p.Name, p.OpeningLine)
		}
	}
	fmt.Fprintln(out, "Type /help for commands.")

	r := newREPL(out, transport, speaker)

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)

	lines := readLines(in)
	for {
		select {
		case <-ctx.Done():
			r.chat.Cancel()
			return nil
		case <-interrupts:
			// Ctrl-C stops a reply in progress; a second one at the prompt exits.
			if !r.chat.Cancel() {
				fmt.Fprintln(r.out)
				return nil
			}
			fmt.Fprintln(r.out, "\n[cancelled]")
		case line, ok := <-lines:
			if !ok {
				return r.chat.Wait(ctx)
			}
			if r.handle(ctx, line) {
				return nil
			}
		}
	}
}

func readLines(in io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}

// runOneShot sends a single message and prints the streamed reply.
func runOneShot(ctx context.Context, out io.Writer, transport consumer.Transport, prompt string) error {
	r := newREPL(out, transport, "Zen")
	if err := r.chat.Submit(ctx, prompt); err != nil {
		return err
	}
	if err := r.chat.Wait(ctx); err != nil {
		return err
	}
	if r.chat.State() == consumer.StateError {
		return r.chat.LastError()
	}
	return nil
}

func fetchPersona(ctx context.Context, server string) (persona.Persona, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(server, "/")+"/api/persona", nil)
	if err != nil {
		return persona.Persona{}, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return persona.Persona{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return persona.Persona{}, fmt.Errorf("persona request failed: %s", resp.Status)
	}
	var p persona.Persona
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return persona.Persona{}, fmt.Errorf("decode persona: %w", err)
	}
	return p, nil
}

// describe prefers the classified message over the full wrapped chain.
func describe(err error) string {
	var se *stream.Error
	if errors.As(err, &se) && se.Message != "" {
		return se.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
