package main

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	aish "github.com/Paranoid-AF/aish"
	"github.com/Paranoid-AF/aish/integration"
	"github.com/Paranoid-AF/aish/kernel"
	"github.com/Paranoid-AF/aish/predict"
)

var testSocketCounter atomic.Int64

func testName(t *testing.T, prefix string) string {
	t.Helper()
	t.Setenv("AISH_RUNTIME_DIR", "/tmp")
	return fmt.Sprintf("%s-s%d", prefix, testSocketCounter.Add(1))
}

type lineEditor struct {
	mu   sync.Mutex
	line string
}

func (e *lineEditor) Insert(text string) { e.mu.Lock(); e.line += text; e.mu.Unlock() }
func (e *lineEditor) RevertLine()        { e.mu.Lock(); e.line = ""; e.mu.Unlock() }
func (e *lineEditor) AcceptLine()        {}

func (e *lineEditor) Line() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.line
}

// connectKernel sets up shell and kernel ends with an echo server between them.
func connectKernel(t *testing.T, shell *integration.Channel) {
	t.Helper()
	name, err := shell.StartSetup()
	if err != nil {
		t.Fatal(err)
	}
	ch, err := kernel.Dial(context.Background(), name,
		kernel.WithName(testName(t, "aish-sk")), kernel.WithTimeout(2*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if !shell.Connected() {
		t.Fatal("shell not connected")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		NewServer(ch, EchoResponder{}, nil).Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		ch.Close()
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestIntegrationRoundTrip(t *testing.T) {
	editor := &lineEditor{}
	shell := integration.New(editor,
		integration.WithName(testName(t, "aish-ss")),
		integration.WithTimeout(2*time.Second))
	defer shell.Dispose()
	connectKernel(t, shell)

	q, _ := aish.NewPostQuery("git status", "", "")
	if err := shell.PostQuery(q); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "inserted line", func() bool { return editor.Line() == "git status" })
}

func TestIntegrationMultipleBlocksFeedPredictor(t *testing.T) {
	editor := &lineEditor{}
	predictor := predict.NewManager(nil)
	shell := integration.New(editor,
		integration.WithName(testName(t, "aish-ss")),
		integration.WithTimeout(2*time.Second),
		integration.WithPredictor(predictor))
	defer shell.Dispose()
	connectKernel(t, shell)

	q, _ := aish.NewPostQuery("```\n# stage\ngit add .\n```\n```\ngit commit\n```", "", "")
	if err := shell.PostQuery(q); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "inserted line", func() bool { return editor.Line() == "git add ." })

	cands := predictor.Candidates()
	if len(cands) != 2 || cands[0].Tooltip != "stage" || cands[1].Code != "git commit" {
		t.Errorf("candidates = %+v", cands)
	}
}

func TestIntegrationShellResetEndsServe(t *testing.T) {
	shell := integration.New(&lineEditor{},
		integration.WithName(testName(t, "aish-ss")),
		integration.WithTimeout(2*time.Second))
	defer shell.Dispose()

	name, err := shell.StartSetup()
	if err != nil {
		t.Fatal(err)
	}
	ch, err := kernel.Dial(context.Background(), name,
		kernel.WithName(testName(t, "aish-sk")), kernel.WithTimeout(2*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	defer ch.Close()

	errc := make(chan error, 1)
	go func() { errc <- NewServer(ch, EchoResponder{}, nil).Serve(context.Background()) }()

	shell.Reset()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("expected nil after the shell left, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after the shell reset")
	}
}
