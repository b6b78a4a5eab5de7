package pipe

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestEndpointName(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		pid    int
		exe    string
		want   string
	}{
		{"plain", ShellPrefix, 4242, "/usr/bin/pwsh", "pwsh_aish.4242.pwsh"},
		{"extension stripped", KernelPrefix, 7, "/opt/aish/aish-kernel.exe", "aish.7.aish-kernel"},
		{"spaces replaced", ShellPrefix, 1, "/Applications/My Shell.app", "pwsh_aish.1.My_Shell"},
		{"empty exe", KernelPrefix, 9, "", "aish.9.unknown"},
		{"root exe", KernelPrefix, 9, "/", "aish.9.unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EndpointName(tt.prefix, tt.pid, tt.exe)
			if got != tt.want {
				t.Errorf("EndpointName(%q, %d, %q) = %q, want %q", tt.prefix, tt.pid, tt.exe, got, tt.want)
			}
		})
	}
}

func TestEndpointNameTruncates(t *testing.T) {
	exe := "/bin/" + strings.Repeat("é", 200)
	got := EndpointName(ShellPrefix, 123456, exe)
	if len(got) > MaxNameLength {
		t.Errorf("len = %d, want <= %d", len(got), MaxNameLength)
	}
	if !utf8.ValidString(got) {
		t.Errorf("name %q is not valid UTF-8", got)
	}
	if !strings.HasPrefix(got, "pwsh_aish.123456.é") {
		t.Errorf("name %q lost its prefix", got)
	}
}

func TestEndpointNameStable(t *testing.T) {
	if HostName() != HostName() {
		t.Error("HostName changed between calls")
	}
	if !strings.HasPrefix(HostName(), ShellPrefix+".") {
		t.Errorf("HostName() = %q, want prefix %q", HostName(), ShellPrefix)
	}
	if !strings.HasPrefix(KernelName(), KernelPrefix+".") {
		t.Errorf("KernelName() = %q, want prefix %q", KernelName(), KernelPrefix)
	}
}

func TestSocketPath(t *testing.T) {
	t.Setenv("AISH_RUNTIME_DIR", "/tmp")

	path, err := SocketPath("aish.1.kernel")
	if err != nil {
		t.Fatal(err)
	}
	if path != "/tmp/aish.1.kernel.sock" {
		t.Errorf("path = %q", path)
	}

	if _, err := SocketPath(strings.Repeat("x", 120)); !errors.Is(err, ErrPathTooLong) {
		t.Errorf("long name: err = %v, want ErrPathTooLong", err)
	}
	if _, err := SocketPath("x"); err != nil {
		t.Errorf("short name: %v", err)
	}
	for _, name := range []string{"", "a/b"} {
		if _, err := SocketPath(name); err == nil {
			t.Errorf("SocketPath(%q) succeeded, want error", name)
		}
	}
}

func TestRuntimeDirFallback(t *testing.T) {
	t.Setenv("AISH_RUNTIME_DIR", "")
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")
	if got := RuntimeDir(); got != "/run/user/1000" {
		t.Errorf("RuntimeDir() = %q, want XDG_RUNTIME_DIR", got)
	}
}

func TestSocketPathHashesLongNames(t *testing.T) {
	t.Setenv("AISH_RUNTIME_DIR", "/tmp")
	name := EndpointName(ShellPrefix, 123456, "/usr/bin/"+strings.Repeat("x", 90))
	if len(name) != MaxNameLength {
		t.Fatalf("name len = %d, want %d", len(name), MaxNameLength)
	}

	path, err := SocketPath(name)
	if err != nil {
		t.Fatal(err)
	}
	if len(path) > MaxNameLength || !strings.HasPrefix(path, "/tmp/aish-") {
		t.Errorf("path = %q", path)
	}
	again, _ := SocketPath(name)
	if again != path {
		t.Errorf("path not stable: %q then %q", path, again)
	}
	other, _ := SocketPath(name[:len(name)-1] + "y")
	if other == path {
		t.Error("different names share a socket path")
	}

	t.Setenv("AISH_RUNTIME_DIR", "/"+strings.Repeat("d", 100))
	if _, err := SocketPath(name); !errors.Is(err, ErrPathTooLong) {
		t.Errorf("long runtime dir: err = %v, want ErrPathTooLong", err)
	}
}
