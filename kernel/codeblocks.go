package kernel

import (
	"strings"
)

// CodeBlock is a fenced block found in a markdown answer.
type CodeBlock struct {
	Code     string
	Language string
}

// ExtractCodeBlocks returns the fenced code blocks in markdown, in order.
// A missing closing fence ends the block at the end of the text. Empty blocks
// are skipped and each block's final line break is dropped.
func ExtractCodeBlocks(markdown string) []CodeBlock {
	var (
		blocks   []CodeBlock
		code     strings.Builder
		language string
		inBlock  bool
	)
	flush := func() {
		if code.Len() > 0 {
			text := strings.TrimSuffix(code.String(), "\n")
			blocks = append(blocks, CodeBlock{Code: strings.TrimSuffix(text, "\r"), Language: language})
		}
		code.Reset()
		language, inBlock = "", false
	}

	for line := range strings.Lines(markdown) {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "```") {
			if inBlock {
				code.WriteString(line)
			}
			continue
		}

		switch {
		case !inBlock:
			inBlock = true
			language = trimmed[3:]
		case trimmed == "```":
			flush()
		default:
			// A fence with an info string inside a block is content.
			code.WriteString(line)
		}
	}
	if inBlock {
		flush()
	}
	return blocks
}

// Codes returns the code of each block.
func Codes(blocks []CodeBlock) []string {
	out := make([]string, len(blocks))
	for i, b := range blocks {
		out[i] = b.Code
	}
	return out
}
