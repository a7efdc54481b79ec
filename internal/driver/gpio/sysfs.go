package gpio

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// DefaultSysfsRoot is where the kernel exposes the legacy GPIO interface.
const DefaultSysfsRoot = "/sys/class/gpio"

// exportWait bounds how long Open waits for udev to create the pin
// directory after an export.
const exportWait = time.Second

// Sysfs drives pins through /sys/class/gpio. Pin numbers are kernel GPIO
// numbers, not header positions.
type Sysfs struct {
	root string
	mu   sync.Mutex
	open map[int]bool
}

// NewSysfs returns a backend rooted at root.
func NewSysfs(root string) *Sysfs {
	return &Sysfs{root: root, open: make(map[int]bool)}
}

// Open exports pin if needed and sets its direction.
func (s *Sysfs) Open(pin int, dir Direction) (Pin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open[pin] {
		return nil, fmt.Errorf("%w: %d", ErrPinInUse, pin)
	}

	dirPath := filepath.Join(s.root, "gpio"+strconv.Itoa(pin))
	if _, err := os.Stat(dirPath); errors.Is(err, fs.ErrNotExist) {
		if err := writeFile(filepath.Join(s.root, "export"), strconv.Itoa(pin)); err != nil {
			return nil, fmt.Errorf("exporting gpio %d: %w", pin, err)
		}
		if err := waitFor(dirPath, exportWait); err != nil {
			return nil, fmt.Errorf("exporting gpio %d: %w", pin, err)
		}
	}
	if err := writeFile(filepath.Join(dirPath, "direction"), dir.String()); err != nil {
		return nil, fmt.Errorf("setting gpio %d direction: %w", pin, err)
	}

	s.open[pin] = true
	return &sysfsPin{backend: s, n: pin, dir: dir, value: filepath.Join(dirPath, "value")}, nil
}

func (s *Sysfs) release(pin int) {
	s.mu.Lock()
	delete(s.open, pin)
	s.mu.Unlock()
}

type sysfsPin struct {
	backend *Sysfs
	n       int
	dir     Direction
	value   string

	mu     sync.Mutex
	closed bool
}

func (p *sysfsPin) Number() int { return p.n }

func (p *sysfsPin) Read() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false, ErrClosed
	}
	b, err := os.ReadFile(p.value)
	if err != nil {
		return false, fmt.Errorf("reading gpio %d: %w", p.n, err)
	}
	return bytes.HasPrefix(bytes.TrimSpace(b), []byte("1")), nil
}

func (p *sysfsPin) Write(high bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if p.dir != Output {
		return ErrWrongDirection
	}
	v := "0"
	if high {
		v = "1"
	}
	if err := writeFile(p.value, v); err != nil {
		return fmt.Errorf("writing gpio %d: %w", p.n, err)
	}
	return nil
}

// Close releases the pin without unexporting it, so outputs hold their
// level after the process exits.
func (p *sysfsPin) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		p.backend.release(p.n)
	}
	return nil
}

func writeFile(path, v string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(v); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func waitFor(path string, limit time.Duration) error {
	deadline := time.Now().Add(limit)
	for {
		_, err := os.Stat(path)
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(10 * time.Millisecond)
	}
}
