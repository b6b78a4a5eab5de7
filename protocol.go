// Package aish defines the message types exchanged between a shell and the
// aish kernel. Messages are JSON envelopes sent over a Unix domain socket, one per line.
package aish

import (
	"errors"
	"fmt"
)

// MessageType identifies the payload carried by a Message.
type MessageType string

const (
	// TypePostQuery is a query from the shell to the kernel.
	TypePostQuery MessageType = "post_query"
	// TypeAskConnection is sent by the kernel to ask the shell to connect back.
	TypeAskConnection MessageType = "ask_connection"
	// TypeAskContext is sent by the kernel to ask the shell for context.
	TypeAskContext MessageType = "ask_context"
	// TypePostContext is the shell's answer to TypeAskContext.
	TypePostContext MessageType = "post_context"
	// TypePostCode carries code blocks from the kernel to the shell.
	TypePostCode MessageType = "post_code"
)

// Known reports whether t is part of the message vocabulary.
func (t MessageType) Known() bool {
	switch t {
	case TypePostQuery, TypeAskConnection, TypeAskContext, TypePostContext, TypePostCode:
		return true
	}
	return false
}

// PostQuery asks the kernel to answer a question.
type PostQuery struct {
	// Query is the question text. Never empty.
	Query string `json:"query"`
	// Context is optional text attached to the query.
	Context *string `json:"context,omitempty"`
	// Agent optionally names the agent that should handle the query.
	Agent *string `json:"agent,omitempty"`
}

// ErrEmptyQuery is returned by NewPostQuery when the query text is empty.
var ErrEmptyQuery = errors.New("query must not be empty")

// NewPostQuery builds a PostQuery. Empty context and agent are left unset.
func NewPostQuery(query, context, agent string) (*PostQuery, error) {
	if query == "" {
		return nil, ErrEmptyQuery
	}
	q := &PostQuery{Query: query}
	if context != "" {
		q.Context = &context
	}
	if agent != "" {
		q.Agent = &agent
	}
	return q, nil
}

// AskConnection is the first message the kernel sends on the shell's endpoint.
type AskConnection struct {
	// PipeName is the kernel endpoint the shell should connect to.
	PipeName string `json:"pipe_name"`
}

// AskContext requests ambient context from the shell.
type AskContext struct{}

// PostContext answers an AskContext.
type PostContext struct {
	// CommandHistory holds recent command lines, oldest first.
	CommandHistory []string `json:"command_history"`
}

// NoContext is sent when the shell has no context to share.
var NoContext = &PostContext{CommandHistory: []string{}}

// PostCode carries generated code blocks to be inserted in the shell's input line.
type PostCode struct {
	// CodeBlocks are ordered by rank; the first is the preferred one.
	CodeBlocks []string `json:"code_blocks"`
}

// Message is the envelope written on the wire. Exactly one payload field is
// set and it must match Type.
type Message struct {
	Type          MessageType    `json:"type"`
	PostQuery     *PostQuery     `json:"post_query,omitempty"`
	AskConnection *AskConnection `json:"ask_connection,omitempty"`
	AskContext    *AskContext    `json:"ask_context,omitempty"`
	PostContext   *PostContext   `json:"post_context,omitempty"`
	PostCode      *PostCode      `json:"post_code,omitempty"`
}

// ErrUnknownType is returned for envelopes whose type is not in the vocabulary.
var ErrUnknownType = errors.New("unknown message type")

// Wrap builds the envelope for a payload. It panics on types outside the vocabulary.
func Wrap(payload any) *Message {
	switch p := payload.(type) {
	case *PostQuery:
		return &Message{Type: TypePostQuery, PostQuery: p}
	case *AskConnection:
		return &Message{Type: TypeAskConnection, AskConnection: p}
	case *AskContext:
		return &Message{Type: TypeAskContext, AskContext: p}
	case *PostContext:
		return &Message{Type: TypePostContext, PostContext: p}
	case *PostCode:
		return &Message{Type: TypePostCode, PostCode: p}
	}
	panic(fmt.Sprintf("aish: cannot wrap %T", payload))
}

// Payload returns the typed payload matching m.Type, or nil.
func (m *Message) Payload() any {
	switch m.Type {
	case TypePostQuery:
		return m.PostQuery
	case TypeAskConnection:
		return m.AskConnection
	case TypeAskContext:
		return m.AskContext
	case TypePostContext:
		return m.PostContext
	case TypePostCode:
		return m.PostCode
	}
	return nil
}

// Validate checks that the type is known, its payload is present, and no
// other payload is set.
func (m *Message) Validate() error {
	if !m.Type.Known() {
		return fmt.Errorf("%w: %q", ErrUnknownType, m.Type)
	}
	switch m.Type {
	case TypePostQuery:
		if m.PostQuery == nil || m.PostQuery.Query == "" {
			return fmt.Errorf("%s: missing query", m.Type)
		}
	case TypeAskConnection:
		if m.AskConnection == nil || m.AskConnection.PipeName == "" {
			return fmt.Errorf("%s: missing pipe name", m.Type)
		}
	case TypeAskContext:
		if m.AskContext == nil {
			m.AskContext = &AskContext{}
		}
	case TypePostContext:
		if m.PostContext == nil {
			return fmt.Errorf("%s: missing payload", m.Type)
		}
	case TypePostCode:
		if m.PostCode == nil {
			return fmt.Errorf("%s: missing payload", m.Type)
		}
	}
	// The matching payload is set by now; anything beyond it is foreign.
	if m.payloadCount() != 1 {
		return fmt.Errorf("%s: unexpected payload for another type", m.Type)
	}
	return nil
}

func (m *Message) payloadCount() int {
	n := 0
	for _, set := range []bool{
		m.PostQuery != nil,
		m.AskConnection != nil,
		m.AskContext != nil,
		m.PostContext != nil,
		m.PostCode != nil,
	} {
		if set {
			n++
		}
	}
	return n
}
