package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/Paranoid-AF/aish/kernel"
)

// EchoResponder answers with the code blocks in the query itself, or the
// whole query as a single block when it has none.
type EchoResponder struct{}

func (EchoResponder) Respond(_ context.Context, q kernel.Query, _ Shell) (string, error) {
	if len(kernel.ExtractCodeBlocks(q.Query)) > 0 {
		return q.Query, nil
	}
	return "```\n" + q.Query + "\n```\n", nil
}

// StdinResponder shows each query to an operator and reads a markdown answer
// from in, terminated by a line holding a single ".".
type StdinResponder struct {
	out            io.Writer
	contextTimeout time.Duration

	lines chan string
	stop  chan struct{}
	once  sync.Once
}

// NewStdinResponder starts reading answers from in. Close stops the reader.
func NewStdinResponder(in io.Reader, out io.Writer, contextTimeout time.Duration) *StdinResponder {
	r := &StdinResponder{
		out:            out,
		contextTimeout: contextTimeout,
		lines:          make(chan string),
		stop:           make(chan struct{}),
	}
	go r.pump(in)
	return r
}

func (r *StdinResponder) pump(in io.Reader) {
	defer close(r.lines)
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		select {
		case r.lines <- scanner.Text():
		case <-r.stop:
			return
		}
	}
}

// Close stops delivering input lines.
func (r *StdinResponder) Close() {
	r.once.Do(func() { close(r.stop) })
}

func (r *StdinResponder) Respond(ctx context.Context, q kernel.Query, shell Shell) (string, error) {
	header := "query"
	if agent := q.AgentName(); agent != "" {
		header += " for " + agent
	}
	fmt.Fprintf(r.out, "\n=== %s ===\n%s\n", header, q.Prompt())
	r.showContext(ctx, shell)
	fmt.Fprintln(r.out, `answer in markdown; end with a line containing only "."`)

	var answer strings.Builder
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case line, ok := <-r.lines:
			if !ok {
				if answer.Len() == 0 {
					return "", io.ErrUnexpectedEOF
				}
				return answer.String(), nil
			}
			if strings.TrimRight(line, "\r") == "." {
				return answer.String(), nil
			}
			answer.WriteString(line)
			answer.WriteByte('\n')
		}
	}
}

func (r *StdinResponder) showContext(ctx context.Context, shell Shell) {
	ctx, cancel := context.WithTimeout(ctx, r.contextTimeout)
	defer cancel()
	reply, err := shell.AskContext(ctx)
	if err != nil {
		fmt.Fprintf(r.out, "(no shell context: %v)\n", err)
		return
	}
	if len(reply.CommandHistory) == 0 {
		return
	}
	fmt.Fprintln(r.out, "recent commands:")
	for _, line := range reply.CommandHistory {
		fmt.Fprintf(r.out, "  $ %s\n", line)
	}
}
