package main

import (
	"context"
	"os"
	"strings"

	aish "github.com/Paranoid-AF/aish"
	"github.com/Paranoid-AF/aish/hostctx"
	"github.com/Paranoid-AF/aish/integration"
	"github.com/Paranoid-AF/aish/predict"
)

type printer interface {
	Printf(format string, args ...any)
}

// session runs the host's colon commands and records everything else as
// a command line.
type session struct {
	ui         printer
	channel    *integration.Channel
	history    *hostctx.History
	workspaces *hostctx.Workspaces
	predictor  *predict.Manager // nil when prediction is off
	transcript *Transcript
	cwd        string
}

func (s *session) banner() {
	s.ui.Printf("aish host (endpoint %s)\n", s.channel.Name())
	s.ui.Printf("\ncommands:\n")
	s.ui.Printf("  :setup                    publish the endpoint for a kernel\n")
	s.ui.Printf("  :status                   show the channel state\n")
	s.ui.Printf("  :ask [--agent a] <query>  send a query to the kernel\n")
	s.ui.Printf("  :reset                    drop the kernel connection\n")
	s.ui.Printf("  :cd <path>                set the directory described to the kernel\n")
	s.ui.Printf("  :quit                     exit\n\n")
}

// handle processes one accepted line and reports whether to exit.
func (s *session) handle(line string) bool {
	text := strings.TrimSpace(line)
	switch {
	case text == "":
		return false
	case text == ":quit" || text == ":q":
		return true
	case text == ":setup":
		s.setup()
	case text == ":status":
		s.status()
	case text == ":reset":
		s.channel.Reset()
		s.ui.Printf("channel reset\n")
	case strings.HasPrefix(text, ":cd "):
		s.chdir(strings.TrimSpace(strings.TrimPrefix(text, ":cd ")))
	case text == ":ask" || strings.HasPrefix(text, ":ask "):
		s.ask(strings.TrimSpace(strings.TrimPrefix(text, ":ask")))
	case strings.HasPrefix(text, ":"):
		s.ui.Printf("unknown command %s\n", strings.Fields(text)[0])
	default:
		s.commandLine(line)
	}
	return false
}

func (s *session) setup() {
	name, err := s.channel.StartSetup()
	if err != nil {
		s.ui.Printf("setup: %v\n", err)
		return
	}
	s.ui.Printf("waiting for a kernel; run:\n  aish-kernel --channel %s\n", name)
}

func (s *session) status() {
	connected, pending := s.channel.CheckConnection(false)
	s.ui.Printf("state: %s  connected: %t  setup pending: %t\n", s.channel.State(), connected, pending)
	switch {
	case s.predictor == nil:
		s.ui.Printf("prediction: off\n")
	case !s.predictor.Registered():
		s.ui.Printf("prediction: detached\n")
	default:
		s.ui.Printf("prediction: %d candidates\n", len(s.predictor.Candidates()))
	}
}

// ask sends query text to the kernel. "--agent name" may precede it.
func (s *session) ask(args string) {
	var agent string
	if rest, ok := strings.CutPrefix(args, "--agent"); ok {
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			s.ui.Printf("usage: :ask [--agent a] <query>\n")
			return
		}
		agent = fields[0]
		args = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(rest), agent))
	}

	q, err := aish.NewPostQuery(args, s.queryContext(), agent)
	if err != nil {
		s.ui.Printf("usage: :ask [--agent a] <query>\n")
		return
	}
	if err := s.channel.PostQuery(q); err != nil {
		s.ui.Printf("%v\n", err)
		return
	}
	s.transcript.Query(q.Query, agent)
}

// commandLine records a line the user accepted. The host does not execute
// it, so it always counts as a successful run.
func (s *session) commandLine(line string) {
	s.history.Add(line)
	if s.predictor != nil {
		s.predictor.CommandLineAccepted(line)
		s.predictor.CommandLineExecuted(line, true)
	}
}

func (s *session) chdir(dir string) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		s.ui.Printf("error: not a directory: %s\n", dir)
		return
	}
	s.cwd = dir
	s.workspaces.Forget(dir)
	s.ui.Printf("cwd: %s\n", dir)
}

// queryContext describes the working directory, gathering it if needed.
func (s *session) queryContext() string {
	if s.cwd == "" {
		return ""
	}
	return s.workspaces.Lookup(context.Background(), s.cwd).Describe()
}
