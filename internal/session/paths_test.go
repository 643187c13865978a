package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDir(t *testing.T) {
	t.Setenv("CHATTERBOX_HOME", "")
	home, _ := os.UserHomeDir()
	got := Dir("main")
	want := filepath.Join(home, ".chatterbox", "sessions", "main")
	if got != want {
		t.Errorf("Dir(main) = %q, want %q", got, want)
	}
}

func TestBaseDirOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CHATTERBOX_HOME", dir)
	if got := SharedDBPath(); got != filepath.Join(dir, "chatterbox.db") {
		t.Errorf("SharedDBPath() = %q, want it under %q", got, dir)
	}
}

func TestSocketPath(t *testing.T) {
	got := SocketPath("test")
	if !strings.HasSuffix(got, filepath.Join("sessions", "test", "daemon.sock")) {
		t.Errorf("SocketPath(test) = %q, want suffix sessions/test/daemon.sock", got)
	}
}

func TestLockPath(t *testing.T) {
	got := LockPath("test")
	if !strings.HasSuffix(got, filepath.Join("sessions", "test", "LOCK")) {
		t.Errorf("LockPath(test) = %q, want suffix sessions/test/LOCK", got)
	}
}

func TestLogPath(t *testing.T) {
	got := LogPath("test")
	if !strings.HasSuffix(got, filepath.Join("sessions", "test", "logs", "chatterboxd.log")) {
		t.Errorf("LogPath(test) = %q, want suffix sessions/test/logs/chatterboxd.log", got)
	}
}

func TestEnsureDir(t *testing.T) {
	t.Setenv("CHATTERBOX_HOME", t.TempDir())

	if err := EnsureDir("test"); err != nil {
		t.Fatal(err)
	}
	for _, dir := range []string{Dir("test"), LogDir("test")} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("%s not created: %v", dir, err)
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", dir)
		}
		if perm := info.Mode().Perm(); perm != 0700 {
			t.Errorf("%s permission = %o, want 0700", dir, perm)
		}
	}
}

func TestResolvePrecedence(t *testing.T) {
	home := t.TempDir()
	t.Setenv("CHATTERBOX_HOME", home)
	t.Setenv("CHATTERBOX_SESSION", "")
	if got := Resolve(""); got != DefaultSessionName {
		t.Errorf("Resolve(\"\") = %q, want %q", got, DefaultSessionName)
	}

	if err := os.WriteFile(filepath.Join(home, "config.toml"), []byte("default_session = \"cfg\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if got := Resolve(""); got != "cfg" {
		t.Errorf("Resolve with config = %q, want cfg", got)
	}

	t.Setenv("CHATTERBOX_SESSION", "env")
	if got := Resolve(""); got != "env" {
		t.Errorf("Resolve with env = %q, want env", got)
	}
	if got := Resolve("work"); got != "work" {
		t.Errorf("Resolve(work) = %q, want work", got)
	}
}
