package integration

import (
	aish "github.com/Paranoid-AF/aish"
	"github.com/Paranoid-AF/aish/predict"
)

// LineEditor is the shell's line-editing component.
type LineEditor interface {
	// Insert inserts text at the cursor.
	Insert(text string)
	// RevertLine discards uncommitted input.
	RevertLine()
	// AcceptLine submits the current line.
	AcceptLine()
}

// InputCapturer is implemented by editors that can tell whether they are
// reading raw input right now. Code is only inserted while they are.
type InputCapturer interface {
	CapturingInput() bool
}

// Predictor receives ranked alternatives when a code post carries several.
// *predict.Manager implements it.
type Predictor interface {
	SetCandidates(candidates []predict.Candidate)
	Unregister()
}

// ContextProvider answers the kernel's context requests. A nil result is
// sent as an empty context.
type ContextProvider interface {
	Context(req *aish.AskContext) *aish.PostContext
}

// ContextFunc adapts a function to ContextProvider.
type ContextFunc func(req *aish.AskContext) *aish.PostContext

// Context calls f.
func (f ContextFunc) Context(req *aish.AskContext) *aish.PostContext { return f(req) }

var noContext ContextProvider = ContextFunc(func(*aish.AskContext) *aish.PostContext { return nil })
