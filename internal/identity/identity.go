// Package identity loads the access point's UUID from disk.
package identity

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// ErrIdentity means the identity file is missing, unreadable or invalid.
// The daemon cannot register without it and treats it as fatal.
var ErrIdentity = errors.New("access point identity unavailable")

// Load reads the first line of path and parses it as a UUID.
func Load(fs afero.Fs, path string) (uuid.UUID, error) {
	f, err := fs.Open(path)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrIdentity, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return uuid.Nil, fmt.Errorf("%w: read %s: %v", ErrIdentity, path, err)
		}
		return uuid.Nil, fmt.Errorf("%w: %s is empty", ErrIdentity, path)
	}

	line := strings.TrimSpace(sc.Text())
	id, err := uuid.Parse(line)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s: %v", ErrIdentity, path, err)
	}
	if id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%w: %s holds the nil uuid", ErrIdentity, path)
	}
	return id, nil
}

// Generate writes a fresh random identity to path unless one exists.
func Generate(fs afero.Fs, path string) (uuid.UUID, error) {
	if ok, _ := afero.Exists(fs, path); ok {
		return Load(fs, path)
	}
	id := uuid.New()
	if err := afero.WriteFile(fs, path, []byte(id.String()+"\n"), 0o600); err != nil {
		return uuid.Nil, fmt.Errorf("write identity: %w", err)
	}
	return id, nil
}
