package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/MrWong99/ventriloquist/internal/conversation"
	"github.com/MrWong99/ventriloquist/internal/orchestrator"
)

// controller is the part of [*orchestrator.Orchestrator] the console drives.
type controller interface {
	Start(ctx context.Context, speaker string) error
	Finish(ctx context.Context) (*orchestrator.Exchange, error)
	Cancel() error
	History() []conversation.Turn
	Status() orchestrator.Status
}

const helpText = `commands:
  w        start talking as Will
  a        start talking as the Audience
  <enter>  finish the line and send it to Robby
  c        cancel the current recording
  h        print the conversation so far
  s        print the current state
  q        quit`

// console is the line-oriented performer console.
type console struct {
	ctl controller
	out io.Writer
}

func newConsole(ctl controller, out io.Writer) *console {
	return &console{ctl: ctl, out: out}
}

// Run reads commands from in until q, EOF or ctx is done.
func (c *console) Run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	fmt.Fprintln(c.out, helpText)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if !c.handle(ctx, strings.TrimSpace(line)) {
				return nil
			}
		}
	}
}

// handle executes one command and reports whether the console keeps running.
func (c *console) handle(ctx context.Context, cmd string) bool {
	switch strings.ToLower(cmd) {
	case "w":
		c.start(ctx, conversation.SpeakerWill)
	case "a":
		c.start(ctx, conversation.SpeakerAudience)
	case "":
		c.finish(ctx)
	case "c":
		switch err := c.ctl.Cancel(); {
		case errors.Is(err, orchestrator.ErrCancelNotAllowed):
			fmt.Fprintln(c.out, "too late to cancel, Robby is already thinking")
		case err != nil:
			fmt.Fprintf(c.out, "cancel failed: %v\n", err)
		default:
			fmt.Fprintln(c.out, "recording discarded")
		}
	case "h":
		c.printHistory()
	case "s":
		fmt.Fprintf(c.out, "state: %s\n", c.ctl.Status())
	case "q":
		if c.ctl.Status().Recording() {
			_ = c.ctl.Cancel()
		}
		return false
	case "?", "help":
		fmt.Fprintln(c.out, helpText)
	default:
		fmt.Fprintf(c.out, "unknown command %q, type ? for help\n", cmd)
	}
	return true
}

func (c *console) start(ctx context.Context, speaker string) {
	err := c.ctl.Start(ctx, speaker)
	switch {
	case err == nil:
		fmt.Fprintf(c.out, "recording %s, press enter when done\n", speaker)
	case errors.Is(err, orchestrator.ErrCycleActive):
		fmt.Fprintf(c.out, "busy (%s), finish or cancel first\n", c.ctl.Status())
	case errors.Is(err, orchestrator.ErrDeviceUnavailable):
		fmt.Fprintf(c.out, "microphone unavailable: %v\n", err)
	case errors.Is(err, orchestrator.ErrStartAborted):
		fmt.Fprintln(c.out, "recording aborted")
	default:
		fmt.Fprintf(c.out, "start failed: %v\n", err)
	}
}

func (c *console) finish(ctx context.Context) {
	if !c.ctl.Status().Recording() {
		return
	}
	ex, err := c.ctl.Finish(ctx)
	if ex != nil {
		if ex.Warmup != nil {
			fmt.Fprintf(c.out, "warm-up sound unavailable: %v\n", ex.Warmup)
		}
		fmt.Fprintf(c.out, "%s: %s\n", ex.Speaker, ex.Transcript)
		fmt.Fprintf(c.out, "Robby: %s\n", ex.Reply)
	}
	switch {
	case err == nil:
	case errors.Is(err, orchestrator.ErrEmptyCapture):
		fmt.Fprintln(c.out, "nothing was recorded")
	case errors.Is(err, orchestrator.ErrBackendFailure):
		fmt.Fprintf(c.out, "Robby did not answer: %v\n", err)
	case errors.Is(err, orchestrator.ErrPlaybackFailure):
		fmt.Fprintf(c.out, "reply could not be played: %v\n", err)
	default:
		fmt.Fprintf(c.out, "finish failed: %v\n", err)
	}
}

func (c *console) printHistory() {
	for i, t := range c.ctl.History() {
		content := t.Content
		if t.Role == conversation.RoleSystem {
			content, _, _ = strings.Cut(strings.TrimSpace(content), "\n")
			content += " [...]"
		}
		fmt.Fprintf(c.out, "%3d %-9s %s\n", i, t.Role, content)
	}
}
