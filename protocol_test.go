package aish

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestNewPostQueryRejectsEmpty(t *testing.T) {
	if _, err := NewPostQuery("", "ctx", ""); !errors.Is(err, ErrEmptyQuery) {
		t.Errorf("expected ErrEmptyQuery, got %v", err)
	}
}

func TestNewPostQueryOptionalFields(t *testing.T) {
	q, err := NewPostQuery("list files", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if q.Context != nil || q.Agent != nil {
		t.Errorf("expected unset context and agent, got %+v", q)
	}

	data, err := json.Marshal(Wrap(q))
	if err != nil {
		t.Fatal(err)
	}
	s := string(data)
	if strings.Contains(s, `"context"`) || strings.Contains(s, `"agent"`) {
		t.Errorf("expected context and agent to be omitted, got %s", s)
	}

	q, err = NewPostQuery("list files", "ls output", "openai")
	if err != nil {
		t.Fatal(err)
	}
	if q.Context == nil || *q.Context != "ls output" {
		t.Errorf("expected context to be set, got %v", q.Context)
	}
	if q.Agent == nil || *q.Agent != "openai" {
		t.Errorf("expected agent to be set, got %v", q.Agent)
	}
}

func TestWrapSetsMatchingType(t *testing.T) {
	tests := []struct {
		payload any
		want    MessageType
	}{
		{&PostQuery{Query: "q"}, TypePostQuery},
		{&AskConnection{PipeName: "aish.1.aish"}, TypeAskConnection},
		{&AskContext{}, TypeAskContext},
		{&PostContext{CommandHistory: []string{"ls"}}, TypePostContext},
		{&PostCode{CodeBlocks: []string{"ls"}}, TypePostCode},
	}
	for _, tt := range tests {
		m := Wrap(tt.payload)
		if m.Type != tt.want {
			t.Errorf("Wrap(%T).Type = %s, want %s", tt.payload, m.Type, tt.want)
		}
		if m.Payload() != tt.payload {
			t.Errorf("Wrap(%T).Payload() did not return the wrapped value", tt.payload)
		}
		if err := m.Validate(); err != nil {
			t.Errorf("Wrap(%T).Validate() = %v", tt.payload, err)
		}
	}
}

func TestWrapPanicsOnForeignType(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for unsupported payload")
		}
	}()
	Wrap("not a message")
}

func TestValidateUnknownType(t *testing.T) {
	var m Message
	if err := json.Unmarshal([]byte(`{"type":"launch_missiles"}`), &m); err != nil {
		t.Fatal(err)
	}
	if err := m.Validate(); !errors.Is(err, ErrUnknownType) {
		t.Errorf("expected ErrUnknownType, got %v", err)
	}
}

func TestValidateMissingPayload(t *testing.T) {
	for _, raw := range []string{
		`{"type":"post_query"}`,
		`{"type":"post_query","post_query":{"query":""}}`,
		`{"type":"ask_connection","ask_connection":{}}`,
		`{"type":"post_code"}`,
		`{"type":"post_context"}`,
	} {
		var m Message
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			t.Fatal(err)
		}
		if err := m.Validate(); err == nil {
			t.Errorf("expected validation error for %s", raw)
		}
	}
}

func TestValidateExtraPayload(t *testing.T) {
	for _, raw := range []string{
		`{"type":"post_code","post_code":{"code_blocks":[]},"post_query":{"query":"ls"}}`,
		`{"type":"ask_context","post_code":{"code_blocks":["rm -rf /"]}}`,
		`{"type":"post_context","post_context":{"command_history":[]},"ask_context":{}}`,
	} {
		var m Message
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			t.Fatal(err)
		}
		if err := m.Validate(); err == nil {
			t.Errorf("expected validation error for %s", raw)
		}
	}
}

func TestValidateAskContextWithoutBody(t *testing.T) {
	var m Message
	if err := json.Unmarshal([]byte(`{"type":"ask_context"}`), &m); err != nil {
		t.Fatal(err)
	}
	if err := m.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := m.Payload().(*AskContext); !ok {
		t.Errorf("expected *AskContext payload, got %T", m.Payload())
	}
}

func TestPostCodeKeepsNewlinesOnOneLine(t *testing.T) {
	data, err := json.Marshal(Wrap(&PostCode{CodeBlocks: []string{"# list\nls -la", "pwd"}}))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "\n") {
		t.Errorf("expected encoded message on a single line, got %s", data)
	}
}

func TestNoContextEncodesEmptyHistory(t *testing.T) {
	data, err := json.Marshal(Wrap(NoContext))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"command_history":[]`) {
		t.Errorf("expected command_history:[], got %s", data)
	}
}
