package main

import (
	"context"
	"log/slog"
	"sync"

	aish "github.com/Paranoid-AF/aish"
	"github.com/Paranoid-AF/aish/kernel"
)

// Shell is the part of the kernel channel a responder may use.
type Shell interface {
	AskContext(ctx context.Context) (*aish.PostContext, error)
}

// Channel is the connected kernel channel the server answers on.
type Channel interface {
	Shell
	Queries() <-chan kernel.Query
	PostCode(blocks []string) error
}

// Responder turns a query into a markdown answer.
type Responder interface {
	Respond(ctx context.Context, q kernel.Query, shell Shell) (string, error)
}

// Server answers queries from the shell and posts the code blocks in each
// answer back to it.
type Server struct {
	ch        Channel
	responder Responder
	log       *slog.Logger

	mu        sync.Mutex
	requestID int
	cancel    context.CancelFunc // in-flight request
	wg        sync.WaitGroup
}

// NewServer creates a server answering on ch.
func NewServer(ch Channel, responder Responder, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{ch: ch, responder: responder, log: log.With("component", "server")}
}

// Serve handles queries until the shell disconnects or ctx is done. A new
// query cancels the one still being answered.
func (s *Server) Serve(ctx context.Context) error {
	defer s.wg.Wait()
	defer s.cancelInFlight()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case q, ok := <-s.ch.Queries():
			if !ok {
				s.log.Info("shell disconnected")
				return nil
			}
			s.start(ctx, q)
		}
	}
}

func (s *Server) start(parent context.Context, q kernel.Query) {
	ctx, cancel := context.WithCancel(parent)

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.requestID++
	reqID := s.requestID
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			cancel()
			s.mu.Lock()
			if s.requestID == reqID {
				s.cancel = nil
			}
			s.mu.Unlock()
		}()
		s.handle(ctx, reqID, q)
	}()
}

func (s *Server) cancelInFlight() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *Server) handle(ctx context.Context, reqID int, q kernel.Query) {
	log := s.log.With("request", reqID)
	log.Debug("query", "query", q.Query, "agent", q.AgentName())

	answer, err := s.responder.Respond(ctx, q, s.ch)

	// If cancelled, skip posting; a newer query has taken over.
	if ctx.Err() != nil {
		log.Debug("query superseded")
		return
	}
	if err != nil {
		log.Warn("respond failed", "error", err)
		return
	}

	blocks := kernel.Codes(kernel.ExtractCodeBlocks(answer))
	if len(blocks) == 0 {
		log.Info("answer has no code blocks")
		return
	}
	if err := s.ch.PostCode(blocks); err != nil {
		log.Warn("post code failed", "error", err)
		return
	}
	log.Debug("code posted", "blocks", len(blocks))
}
