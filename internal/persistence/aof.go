package persistence

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const DefaultFileName = "appendonly.aof"

var ErrNoDevice = errors.New("aof storage unavailable")

type Options struct {
	Fsync bool
}

// AOF is the append-only command log. Appends and truncation share one mutex
// so lines never interleave.
type AOF struct {
	mu   sync.Mutex
	path string
	f    *os.File
	buf  *bufio.Writer
	opts Options
}

func Path(dir, name string) string {
	if name == "" {
		name = DefaultFileName
	}
	return filepath.Join(dir, name)
}

// Open attaches to the log at path, creating it if needed. It always returns
// a usable *AOF: when the file cannot be opened the error is returned
// alongside and the next Append retries.
func Open(path string, opts Options) (*AOF, error) {
	a := &AOF{path: path, opts: opts}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a, a.openLocked(os.O_APPEND)
}

func (a *AOF) Path() string {
	return a.path
}

func (a *AOF) openLocked(mode int) error {
	if err := os.MkdirAll(filepath.Dir(a.path), 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrNoDevice, err)
	}
	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_WRONLY|mode, 0o644)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoDevice, err)
	}
	a.f = f
	a.buf = bufio.NewWriter(f)
	return nil
}

func (a *AOF) Append(rec Record) error {
	line, err := Encode(rec)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.f == nil {
		if err := a.openLocked(os.O_APPEND); err != nil {
			return err
		}
	}
	if _, err := a.buf.WriteString(line + "\n"); err != nil {
		return a.failLocked(err)
	}
	if err := a.buf.Flush(); err != nil {
		return a.failLocked(err)
	}
	if a.opts.Fsync {
		if err := a.f.Sync(); err != nil {
			return a.failLocked(err)
		}
	}
	return nil
}

// Clear truncates the log in place.
func (a *AOF) Clear() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closeLocked()
	return a.openLocked(os.O_TRUNC | os.O_APPEND)
}

func (a *AOF) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.f == nil {
		return nil
	}
	flushErr := a.buf.Flush()
	closeErr := a.f.Close()
	a.f, a.buf = nil, nil
	return errors.Join(flushErr, closeErr)
}

// failLocked drops the handle so the next Append reopens the file.
func (a *AOF) failLocked(err error) error {
	a.closeLocked()
	return fmt.Errorf("%w: %v", ErrNoDevice, err)
}

func (a *AOF) closeLocked() {
	if a.f == nil {
		return
	}
	_ = a.f.Close()
	a.f, a.buf = nil, nil
}
