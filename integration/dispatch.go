package integration

import (
	"strings"

	aish "github.com/Paranoid-AF/aish"
	"github.com/Paranoid-AF/aish/pipe"
	"github.com/Paranoid-AF/aish/predict"
)

// dispatcher routes one attempt's transport events to its Channel. Events
// from an attempt that has since been torn down are dropped.
type dispatcher struct {
	channel *Channel
	attempt *attempt
}

func (d *dispatcher) OnAskConnection(client *pipe.ShellClient, err error) {
	c, a := d.channel, d.attempt

	c.mu.Lock()
	if err != nil {
		a.state, a.err = Failed, err
	} else {
		a.state, a.client = Connected, client
	}
	c.mu.Unlock()
	a.signal()

	if err != nil {
		c.log.Warn("channel handshake failed", "error", err)
		return
	}
	c.log.Info("channel connected", "kernel", client.Name())
}

func (d *dispatcher) OnAskContext(req *aish.AskContext) *aish.PostContext {
	if !d.channel.current(d.attempt) {
		return nil
	}
	return d.channel.provider.Context(req)
}

func (d *dispatcher) OnPostCode(code *aish.PostCode) {
	if !d.channel.current(d.attempt) {
		return
	}
	d.channel.postCode(code)
}

// postCode replaces the shell's input line with the posted code.
func (c *Channel) postCode(code *aish.PostCode) {
	if c.editor == nil {
		c.log.Debug("dropping code post: no line editor")
		return
	}
	if capturer, ok := c.editor.(InputCapturer); ok && !capturer.CapturingInput() {
		c.log.Debug("dropping code post: shell is not reading input")
		return
	}
	if code == nil || len(code.CodeBlocks) == 0 {
		return
	}

	text, candidates := composeCode(code.CodeBlocks, c.predictor != nil)
	c.editor.RevertLine()
	c.editor.Insert(text)
	if c.predictor != nil {
		c.predictor.SetCandidates(candidates)
	}
}

// composeCode returns the text to insert for blocks and the candidates to
// offer. With prediction, several one-line blocks insert the top-ranked one
// and offer all of them. Otherwise every block is followed by one '\n'.
func composeCode(blocks []string, predicting bool) (string, []predict.Candidate) {
	if len(blocks) == 1 {
		return blocks[0], nil
	}
	if predicting {
		if candidates, ok := predict.Process(blocks); ok && len(candidates) > 0 {
			return candidates[0].Code, candidates
		}
	}

	var b strings.Builder
	for _, block := range blocks {
		b.WriteString(block)
		b.WriteByte('\n')
	}
	return b.String(), nil
}
