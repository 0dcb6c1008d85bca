// Package term runs the interactive command loop: operator lines go to
// the session, inbound messages go to the display, and the two
// directions never block one another.
package term

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"robotterm/internal/uart"
)

// quitWord ends the session when typed on its own, as an alternative to
// Ctrl+C or EOF.
const quitWord = "q"

// Session is the slice of the transport session the loop drives.
// Satisfied by *uart.Session and by stubs in tests.
type Session interface {
	Send(line string) error
	Lines() <-chan string
	Done() <-chan struct{}
	Err() error
	Close() error
}

// Loop pumps operator input into a session and session output to the
// display.
type Loop struct {
	in     io.Reader
	out    io.Writer
	errOut io.Writer

	// outMu keeps the display goroutine and the prompt from
	// interleaving partial writes.
	outMu sync.Mutex
}

// New creates a Loop reading operator input from in and writing the
// conversation to out and per-command errors to errOut.
func New(in io.Reader, out, errOut io.Writer) *Loop {
	return &Loop{in: in, out: out, errOut: errOut}
}

func (l *Loop) printf(format string, args ...any) {
	l.outMu.Lock()
	defer l.outMu.Unlock()
	fmt.Fprintf(l.out, format, args...)
}

// Run drives the session until the operator quits (quit word, EOF, or
// ctx cancellation) or the peripheral disconnects. Operator exit closes
// the session cooperatively; a peripheral disconnect prints a notice
// and returns nil, since a powered-off robot is a normal end state.
// Per-command send failures are printed and do not end the loop.
func (l *Loop) Run(ctx context.Context, s Session) error {
	l.printf("Enter commands to send to the robot. Type %q to quit.\n", quitWord)

	// Input runs on its own goroutine so a prompt waiting for the
	// operator never stalls the display of incoming messages.
	input := make(chan string)
	go func() {
		defer close(input)
		scanner := bufio.NewScanner(l.in)
		for scanner.Scan() {
			select {
			case input <- scanner.Text():
			case <-s.Done():
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	// Display drains the inbound stream independently of the input
	// side; a burst of messages never blocks typing and vice versa.
	displayDone := make(chan struct{})
	go func() {
		defer close(displayDone)
		for line := range s.Lines() {
			l.printf("robot: %s\n", strings.TrimRight(line, " \t\r"))
		}
	}()

	for {
		l.printf("> ")
		select {
		case <-ctx.Done():
			return l.quit(s, displayDone)

		case <-s.Done():
			<-displayDone
			if errors.Is(s.Err(), uart.ErrPeerDisconnected) {
				l.printf("\nPeripheral disconnected, session over.\n")
				return nil
			}
			return s.Err()

		case line, ok := <-input:
			if !ok || strings.EqualFold(strings.TrimSpace(line), quitWord) {
				return l.quit(s, displayDone)
			}
			if err := s.Send(line); err != nil {
				fmt.Fprintf(l.errOut, "send failed: %v\n", err)
			}
		}
	}
}

// quit is the cooperative exit: stop sending, close the session, let
// the display drain the stream closure, and return.
func (l *Loop) quit(s Session, displayDone <-chan struct{}) error {
	l.printf("\nExiting...\n")
	err := s.Close()
	<-displayDone
	return err
}
