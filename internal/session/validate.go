package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
)

var nameRegexp = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// maxSocketPath is the smallest sun_path limit among supported systems
// (104 on macOS, 108 on Linux), minus the terminating NUL.
const maxSocketPath = 103

// ValidateName checks that name conforms to session naming rules and that
// its daemon socket fits in a Unix socket address.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("invalid session name %q: must match ^[a-z0-9_-]{1,64}$", name)
	}
	if p := SocketPath(name); len(p) > maxSocketPath {
		return fmt.Errorf("invalid session name %q: socket path %s is longer than %d bytes; use a shorter name or CHATTERBOX_HOME", name, p, maxSocketPath)
	}
	return nil
}

// List returns the names of existing session directories, sorted.
func List() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(BaseDir(), "sessions"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && nameRegexp.MatchString(e.Name()) {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)
	return names, nil
}
