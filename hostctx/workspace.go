package hostctx

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/BurntSushi/toml"
	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Workspace describes the directory a query is asked from.
type Workspace struct {
	Dir            string
	Listing        string // ls -A, space-separated
	GitRoot        string
	GitBranch      string
	Staged         string            // "M:file A:new" from git diff --cached
	PackageManager string            // from the lockfile present
	Manifests      map[string]string // label -> summary
}

const (
	workspaceTTL  = 10 * time.Minute
	gatherTimeout = 3 * time.Second
	fieldMaxBytes = 512
)

// Workspaces is a TTL cache of gathered Workspace values keyed by directory.
type Workspaces struct {
	log   *slog.Logger
	cache *ttlcache.Cache[string, *Workspace]
	group singleflight.Group
}

// NewWorkspaces creates a cache whose entries live for ttl (0 means 10m).
func NewWorkspaces(ttl time.Duration, log *slog.Logger) *Workspaces {
	if ttl <= 0 {
		ttl = workspaceTTL
	}
	if log == nil {
		log = slog.Default()
	}
	c := ttlcache.New[string, *Workspace](
		ttlcache.WithTTL[string, *Workspace](ttl),
		ttlcache.WithDisableTouchOnHit[string, *Workspace](),
	)
	go c.Start()
	return &Workspaces{log: log.With("component", "workspace"), cache: c}
}

// Close stops the expiration loop.
func (w *Workspaces) Close() {
	w.cache.Stop()
}

// Lookup returns the workspace for dir, gathering it on a miss. Concurrent
// misses for one directory share a single gather.
func (w *Workspaces) Lookup(ctx context.Context, dir string) *Workspace {
	if item := w.cache.Get(dir); item != nil {
		return item.Value()
	}
	v, _, _ := w.group.Do(dir, func() (any, error) {
		ws := gatherWorkspace(ctx, dir)
		w.cache.Set(dir, ws, ttlcache.DefaultTTL)
		w.log.Debug("gathered workspace", "dir", dir)
		return ws, nil
	})
	return v.(*Workspace)
}

// Forget drops the cached entry for dir.
func (w *Workspaces) Forget(dir string) {
	w.cache.Delete(dir)
}

func gatherWorkspace(ctx context.Context, dir string) *Workspace {
	ctx, cancel := context.WithTimeout(ctx, gatherTimeout)
	defer cancel()

	ws := &Workspace{Dir: dir, Manifests: make(map[string]string)}
	var g errgroup.Group
	g.Go(func() error {
		ws.Listing = truncate(strings.Join(strings.Fields(runCmd(ctx, dir, "ls", "-A")), " "), fieldMaxBytes)
		return nil
	})
	g.Go(func() error {
		ws.GitRoot = strings.TrimSpace(runCmd(ctx, dir, "git", "rev-parse", "--show-toplevel"))
		return nil
	})
	g.Go(func() error {
		ws.GitBranch = strings.TrimSpace(runCmd(ctx, dir, "git", "branch", "--show-current"))
		return nil
	})
	g.Go(func() error {
		ws.Staged = parseStaged(runCmd(ctx, dir, "git", "diff", "--cached", "--name-status"))
		return nil
	})
	g.Wait()

	readManifests(dir, ws.Manifests)
	ws.PackageManager = detectPackageManager(dir, ws.GitRoot)
	return ws
}

// Describe renders the workspace as context text for a query.
func (ws *Workspace) Describe() string {
	if ws == nil {
		return ""
	}
	var b strings.Builder
	line := func(label, value string) {
		if value != "" {
			b.WriteString(label + ": " + value + "\n")
		}
	}
	line("Current working directory", ws.Dir)
	line("Files", ws.Listing)
	if ws.GitRoot != "" && ws.GitRoot != ws.Dir {
		line("Git root", ws.GitRoot)
	}
	line("Git branch", ws.GitBranch)
	line("Staged", ws.Staged)
	line("Package manager", ws.PackageManager)
	labels := make([]string, 0, len(ws.Manifests))
	for label := range ws.Manifests {
		labels = append(labels, label)
	}
	slices.Sort(labels)
	for _, label := range labels {
		line(label, ws.Manifests[label])
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func runCmd(ctx context.Context, dir, name string, args ...string) string {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return string(out)
}

var manifestReaders = []struct {
	file  string
	label string
	read  func(string) string
}{
	{"package.json", "package.json scripts", packageScripts},
	{"Makefile", "Makefile targets", makeTargets},
	{"go.mod", "go.mod", goModule},
	{"Cargo.toml", "Cargo.toml", cargoPackage},
	{"pyproject.toml", "pyproject.toml", pyprojectName},
}

func readManifests(dir string, out map[string]string) {
	for _, m := range manifestReaders {
		data, err := os.ReadFile(filepath.Join(dir, m.file))
		if err != nil {
			continue
		}
		if summary := m.read(string(data)); summary != "" {
			out[m.label] = truncate(summary, fieldMaxBytes)
		}
	}
}

func packageScripts(content string) string {
	var pkg struct {
		Scripts map[string]string `json:"scripts"`
	}
	if err := json.Unmarshal([]byte(content), &pkg); err != nil {
		return ""
	}
	names := make([]string, 0, len(pkg.Scripts))
	for name := range pkg.Scripts {
		names = append(names, name)
	}
	slices.Sort(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = name + ": " + pkg.Scripts[name]
	}
	return strings.Join(parts, ", ")
}

// makeTargets lists explicit targets, skipping recipes, comments, special
// targets, assignments, and pattern rules.
func makeTargets(content string) string {
	var targets []string
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.ContainsRune("\t#.", rune(line[0])) {
			continue
		}
		name, rest, ok := strings.Cut(line, ":")
		if !ok || name == "" || strings.HasPrefix(rest, "=") {
			continue
		}
		name = strings.TrimSpace(name)
		if strings.ContainsAny(name, "$%= ") || slices.Contains(targets, name) {
			continue
		}
		targets = append(targets, name)
	}
	return strings.Join(targets, ", ")
}

func goModule(content string) string {
	var parts []string
	for line := range strings.Lines(content) {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "module ") || strings.HasPrefix(line, "go ") {
			parts = append(parts, line)
		}
	}
	return strings.Join(parts, ", ")
}

func cargoPackage(content string) string {
	var cargo struct {
		Package struct {
			Name string `toml:"name"`
		} `toml:"package"`
		Bin []struct {
			Name string `toml:"name"`
		} `toml:"bin"`
	}
	if _, err := toml.Decode(content, &cargo); err != nil {
		return ""
	}
	var names []string
	if cargo.Package.Name != "" {
		names = append(names, cargo.Package.Name)
	}
	for _, bin := range cargo.Bin {
		if bin.Name != "" && !slices.Contains(names, bin.Name) {
			names = append(names, bin.Name)
		}
	}
	return strings.Join(names, ", ")
}

func pyprojectName(content string) string {
	var py struct {
		Project struct {
			Name string `toml:"name"`
		} `toml:"project"`
	}
	if _, err := toml.Decode(content, &py); err != nil {
		return ""
	}
	return py.Project.Name
}

// lockfiles in priority order.
var lockfiles = []struct{ file, manager string }{
	{"pnpm-lock.yaml", "pnpm"},
	{"yarn.lock", "yarn"},
	{"bun.lockb", "bun"},
	{"package-lock.json", "npm"},
	{"Cargo.lock", "cargo"},
	{"go.sum", "go"},
	{"uv.lock", "uv"},
	{"poetry.lock", "poetry"},
}

func detectPackageManager(dir, gitRoot string) string {
	for _, d := range []string{dir, gitRoot} {
		if d == "" {
			continue
		}
		for _, lf := range lockfiles {
			if _, err := os.Stat(filepath.Join(d, lf.file)); err == nil {
				return lf.manager
			}
		}
	}
	return ""
}

// parseStaged turns `git diff --cached --name-status` output into
// "M:file R:old→new" form.
func parseStaged(out string) string {
	var parts []string
	for line := range strings.Lines(strings.TrimSpace(out)) {
		fields := strings.Split(strings.TrimRight(line, "\n"), "\t")
		if len(fields) < 2 || fields[0] == "" {
			continue
		}
		status := fields[0][:1]
		switch {
		case (status == "R" || status == "C") && len(fields) >= 3:
			parts = append(parts, status+":"+fields[1]+"→"+fields[2])
		default:
			parts = append(parts, status+":"+fields[1])
		}
	}
	return truncate(strings.Join(parts, " "), fieldMaxBytes)
}

// truncate cuts s to at most maxBytes without splitting a rune.
func truncate(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
