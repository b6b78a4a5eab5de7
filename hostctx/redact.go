package hostctx

import (
	"bytes"
	"regexp"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"mvdan.cc/sh/v3/syntax"
)

// safeVars are environment variables that may be shared with the kernel as-is.
var safeVars = map[string]bool{
	"HOME": true, "USER": true, "PWD": true, "OLDPWD": true,
	"SHELL": true, "PATH": true, "LANG": true, "TERM": true,
	"EDITOR": true, "PAGER": true, "HOSTNAME": true, "LOGNAME": true,
	"TMPDIR": true, "XDG_CONFIG_HOME": true, "XDG_DATA_HOME": true,
	"XDG_RUNTIME_DIR": true, "DISPLAY": true, "SHLVL": true,
	"COLUMNS": true, "LINES": true, "LC_ALL": true, "LC_CTYPE": true,
}

// specialParams are shell special parameters ($?, $1, ...).
var specialParams = map[string]bool{
	"?": true, "!": true, "#": true, "@": true, "*": true,
	"-": true, "$": true, "_": true,
	"0": true, "1": true, "2": true, "3": true, "4": true,
	"5": true, "6": true, "7": true, "8": true, "9": true,
}

func keepVar(name string) bool {
	return safeVars[name] || specialParams[name]
}

// Redactor hides variable references and assigned values in command lines
// before they leave the shell. Results are memoized for ttl.
type Redactor struct {
	memo *ttlcache.Cache[string, string]
}

// NewRedactor starts a redactor whose memo entries live for ttl.
// Close must be called to stop the expiry loop.
func NewRedactor(ttl time.Duration) *Redactor {
	c := ttlcache.New[string, string](
		ttlcache.WithTTL[string, string](ttl),
		ttlcache.WithDisableTouchOnHit[string, string](),
		ttlcache.WithCapacity[string, string](1024),
	)
	go c.Start()
	return &Redactor{memo: c}
}

// Close stops the memo expiry loop.
func (r *Redactor) Close() {
	r.memo.Stop()
}

// Redact returns line with non-safe $VAR references replaced by $REDACTED
// and non-safe assignment values replaced by ***.
func (r *Redactor) Redact(line string) string {
	if item := r.memo.Get(line); item != nil {
		return item.Value()
	}
	out := redactLine(line)
	r.memo.Set(line, out, ttlcache.DefaultTTL)
	return out
}

// RedactAll applies Redact to each line.
func (r *Redactor) RedactAll(lines []string) []string {
	out := make([]string, len(lines))
	for i, line := range lines {
		out[i] = r.Redact(line)
	}
	return out
}

func redactLine(line string) string {
	parser := syntax.NewParser(syntax.Variant(syntax.LangBash), syntax.KeepComments(true))
	prog, err := parser.Parse(strings.NewReader(line), "")
	if err != nil {
		return regexRedact(line)
	}

	syntax.Walk(prog, func(node syntax.Node) bool {
		switch n := node.(type) {
		case *syntax.ParamExp:
			if n.Param != nil && !keepVar(n.Param.Value) {
				n.Param.Value = "REDACTED"
			}
		case *syntax.Assign:
			if n.Name != nil && n.Value != nil && !safeVars[n.Name.Value] {
				n.Value.Parts = []syntax.WordPart{&syntax.Lit{Value: "***"}}
			}
		}
		return true
	})

	var buf bytes.Buffer
	if err := syntax.NewPrinter(syntax.Indent(0)).Print(&buf, prog); err != nil {
		return regexRedact(line)
	}
	return strings.TrimRight(buf.String(), "\n")
}

var (
	reBraceVar  = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)
	reSimpleVar = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)`)
	reAssign    = regexp.MustCompile(`\b([A-Za-z_][A-Za-z0-9_]*)=(\S+)`)
)

// regexRedact handles lines the parser rejects.
func regexRedact(line string) string {
	line = reBraceVar.ReplaceAllStringFunc(line, func(m string) string {
		if keepVar(reBraceVar.FindStringSubmatch(m)[1]) {
			return m
		}
		return "${REDACTED}"
	})
	line = reSimpleVar.ReplaceAllStringFunc(line, func(m string) string {
		name := reSimpleVar.FindStringSubmatch(m)[1]
		if name == "REDACTED" || keepVar(name) {
			return m
		}
		return "$REDACTED"
	})
	return reAssign.ReplaceAllStringFunc(line, func(m string) string {
		name := reAssign.FindStringSubmatch(m)[1]
		if safeVars[name] {
			return m
		}
		return name + "=***"
	})
}
