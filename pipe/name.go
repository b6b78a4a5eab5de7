// Package pipe implements the duplex channel between a shell and the aish
// kernel: endpoint naming, message framing, and both sides' endpoints.
//
// Each side owns a server endpoint that its peer dials. The shell publishes
// its endpoint name out of band; the kernel dials it and sends AskConnection
// carrying its own endpoint name, which the shell dials back. Queries travel
// shell → kernel and code travels kernel → shell.
package pipe

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// MaxNameLength is the ceiling for endpoint names and socket paths
// (sun_path is 104 bytes on macOS).
const MaxNameLength = 104

const (
	// ShellPrefix prefixes endpoint names published by a shell.
	ShellPrefix = "pwsh_aish"
	// KernelPrefix prefixes endpoint names owned by a kernel.
	KernelPrefix = "aish"
)

// ErrPathTooLong is returned when a socket path exceeds MaxNameLength.
var ErrPathTooLong = errors.New("socket path too long")

// EndpointName builds <prefix>.<pid>.<executable base name>, truncating the
// base name so the result fits in MaxNameLength.
func EndpointName(prefix string, pid int, exe string) string {
	base := filepath.Base(exe)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "." || base == string(filepath.Separator) || base == "" {
		base = "unknown"
	}
	base = strings.ReplaceAll(base, " ", "_")

	head := prefix + "." + strconv.Itoa(pid) + "."
	if len(head) >= MaxNameLength {
		return strings.ToValidUTF8(head[:MaxNameLength], "")
	}
	if room := MaxNameLength - len(head); len(base) > room {
		base = strings.ToValidUTF8(base[:room], "")
	}
	return head + base
}

var (
	hostName   = sync.OnceValue(func() string { return processName(ShellPrefix) })
	kernelName = sync.OnceValue(func() string { return processName(KernelPrefix) })
)

// HostName returns the shell endpoint name for this process.
func HostName() string { return hostName() }

// KernelName returns the kernel endpoint name for this process.
func KernelName() string { return kernelName() }

func processName(prefix string) string {
	exe, err := os.Executable()
	if err != nil {
		exe = os.Args[0]
	}
	return EndpointName(prefix, os.Getpid(), exe)
}

// RuntimeDir returns the directory holding endpoint sockets.
// Resolution order: $AISH_RUNTIME_DIR > $XDG_RUNTIME_DIR > os.TempDir()
func RuntimeDir() string {
	if dir := os.Getenv("AISH_RUNTIME_DIR"); dir != "" {
		return dir
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return dir
	}
	return os.TempDir()
}

// SocketPath maps an endpoint name to its Unix socket path. When
// dir/name.sock would not fit in sun_path, the socket is named after a hash
// of the endpoint name instead, so both sides still agree on the path.
func SocketPath(name string) (string, error) {
	if name == "" || strings.ContainsRune(name, filepath.Separator) {
		return "", fmt.Errorf("invalid endpoint name %q", name)
	}
	if len(name) > MaxNameLength {
		return "", fmt.Errorf("%w: name %q (%d > %d)", ErrPathTooLong, name, len(name), MaxNameLength)
	}
	dir := RuntimeDir()
	path := filepath.Join(dir, name+".sock")
	if len(path) <= MaxNameLength {
		return path, nil
	}
	sum := sha256.Sum256([]byte(name))
	path = filepath.Join(dir, "aish-"+hex.EncodeToString(sum[:8])+".sock")
	if len(path) > MaxNameLength {
		return "", fmt.Errorf("%w: %s (%d > %d)", ErrPathTooLong, path, len(path), MaxNameLength)
	}
	return path, nil
}
