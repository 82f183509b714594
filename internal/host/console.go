// Copyright 2026 The LuaLink Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package host

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// ConsoleInvoker is the operator at the terminal. It holds every permission.
type ConsoleInvoker struct {
	mu  sync.Mutex
	out io.Writer
}

// NewConsoleInvoker writes messages to out.
func NewConsoleInvoker(out io.Writer) *ConsoleInvoker {
	return &ConsoleInvoker{out: out}
}

// Name returns "CONSOLE".
func (c *ConsoleInvoker) Name() string { return "CONSOLE" }

// SendMessage prints msg on its own line.
func (c *ConsoleInvoker) SendMessage(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, msg)
}

// HasPermission always reports true.
func (c *ConsoleInvoker) HasPermission(string) bool { return true }

// Console reads command lines and hands them to a dispatcher.
type Console struct {
	in         io.Reader
	invoker    *ConsoleInvoker
	dispatcher Dispatcher
}

// NewConsole wires a line reader to dispatcher.
func NewConsole(in io.Reader, out io.Writer, dispatcher Dispatcher) *Console {
	return &Console{in: in, invoker: NewConsoleInvoker(out), dispatcher: dispatcher}
}

// Invoker returns the console's invoker.
func (c *Console) Invoker() *ConsoleInvoker { return c.invoker }

// Run dispatches lines until the input ends or ctx is cancelled.
func (c *Console) Run(ctx context.Context) error {
	lines := make(chan string)
	errCh := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(c.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		errCh <- sc.Err()
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			if err != nil {
				return err
			}
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if !c.dispatcher.Dispatch(ctx, c.invoker, line) {
				c.invoker.SendMessage("Unknown command. Type \"help\" for help.")
			}
		}
	}
}
