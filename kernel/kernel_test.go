package kernel

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	aish "github.com/Paranoid-AF/aish"
	"github.com/Paranoid-AF/aish/hostctx"
	"github.com/Paranoid-AF/aish/integration"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testSocketCounter atomic.Int64

func testName(t *testing.T, prefix string) string {
	t.Helper()
	t.Setenv("AISH_RUNTIME_DIR", "/tmp")
	return fmt.Sprintf("%s-k%d", prefix, testSocketCounter.Add(1))
}

func TestExtractCodeBlocks(t *testing.T) {
	tests := []struct {
		name     string
		markdown string
		want     []CodeBlock
	}{
		{"none", "just prose", nil},
		{
			"two blocks",
			"Try this:\n```bash\nls -la\n```\nor\n```\npwd\n```\n",
			[]CodeBlock{{Code: "ls -la", Language: "bash"}, {Code: "pwd"}},
		},
		{
			"indented fence",
			"1. step\n   ```powershell\n   Get-Process\n   ```\n",
			[]CodeBlock{{Code: "   Get-Process", Language: "powershell"}},
		},
		{
			"multi-line block",
			"```sh\ncd /tmp\nls\n```",
			[]CodeBlock{{Code: "cd /tmp\nls", Language: "sh"}},
		},
		{
			"missing closing fence",
			"```python\nprint(1)\n",
			[]CodeBlock{{Code: "print(1)", Language: "python"}},
		},
		{
			"empty block skipped",
			"```\n```\n```go\nx := 1\n```",
			[]CodeBlock{{Code: "x := 1", Language: "go"}},
		},
		{
			"nested info fence is content",
			"````\n```js\n````\n```",
			[]CodeBlock{{Code: "```js\n````", Language: "`"}},
		},
		{
			"crlf",
			"```\r\nls\r\n```\r\n",
			[]CodeBlock{{Code: "ls"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractCodeBlocks(tt.markdown)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ExtractCodeBlocks() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestQueryPrompt(t *testing.T) {
	ctx, agent := "cwd is /tmp", "az"
	tests := []struct {
		q    Query
		want string
	}{
		{Query{Query: "list files"}, "list files"},
		{Query{Query: "list files", Context: &ctx}, "list files\n\nBelow is some context information regarding this query:\ncwd is /tmp"},
	}
	for _, tt := range tests {
		if got := tt.q.Prompt(); got != tt.want {
			t.Errorf("Prompt() = %q, want %q", got, tt.want)
		}
	}
	if got := (Query{Query: "x", Agent: &agent}).AgentName(); got != "az" {
		t.Errorf("AgentName() = %q", got)
	}
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

func TestDialAgainstShell(t *testing.T) {
	history := hostctx.NewHistory(5)
	defer history.Close()
	history.Add("cd ~/src")

	editor := &lineEditor{}
	shell := integration.New(editor,
		integration.WithName(testName(t, "aish-sh")),
		integration.WithTimeout(2*time.Second),
		integration.WithContextProvider(history),
	)
	defer shell.Dispose()

	name, err := shell.StartSetup()
	if err != nil {
		t.Fatal(err)
	}
	ch, err := Dial(context.Background(), name, WithName(testName(t, "aish-kn")), WithTimeout(2*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	defer ch.Close()

	if !shell.Connected() {
		t.Fatal("shell not connected")
	}

	q, _ := aish.NewPostQuery("list files", "cwd: /tmp", "")
	if err := shell.PostQuery(q); err != nil {
		t.Fatal(err)
	}
	select {
	case got := <-ch.Queries():
		if got.Query != "list files" || got.Context == nil || *got.Context != "cwd: /tmp" {
			t.Errorf("query = %#v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("query not received")
	}

	reply, err := ch.AskContext(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(reply.CommandHistory, []string{"cd ~/src"}) {
		t.Errorf("history = %q", reply.CommandHistory)
	}

	if err := ch.PostCode([]string{"ls -la"}); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for editor.Line() != "ls -la" {
		if time.Now().After(deadline) {
			t.Fatalf("line = %q, want %q", editor.Line(), "ls -la")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// The shell going away ends the query stream.
	shell.Reset()
	select {
	case <-ch.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done not closed after the shell reset")
	}
	if _, ok := <-ch.Queries(); ok {
		t.Error("Queries still open")
	}
	if err := ch.PostCode([]string{"ls"}); err == nil {
		t.Error("PostCode succeeded after the shell left")
	}
}

func TestDialNoShell(t *testing.T) {
	_, err := Dial(context.Background(), testName(t, "aish-none"),
		WithName(testName(t, "aish-kn")), WithTimeout(100*time.Millisecond))
	if err == nil {
		t.Fatal("Dial succeeded without a shell")
	}
}
