package slogutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// LogFile is an append-only log file that rotates to path.1, path.2, ...
// once it would grow past maxSize bytes. maxSize <= 0 disables rotation.
type LogFile struct {
	path       string
	maxSize    int64
	maxBackups int

	mu   sync.Mutex
	file *os.File
	size int64
}

// OpenLogFile opens (or creates) path for appending, creating parent directories.
func OpenLogFile(path string, maxSize int64, maxBackups int) (*LogFile, error) {
	lf := &LogFile{path: path, maxSize: maxSize, maxBackups: maxBackups}
	if err := lf.open(); err != nil {
		return nil, err
	}
	return lf, nil
}

func (l *LogFile) open() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return err
	}
	l.file = f
	l.size = info.Size()
	return nil
}

// Write implements io.Writer, rotating first when the write would overflow.
func (l *LogFile) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.maxSize > 0 && l.size > 0 && l.size+int64(len(p)) > l.maxSize {
		// A failed rotation keeps writing to the current file.
		_ = l.rotate()
	}
	n, err := l.file.Write(p)
	l.size += int64(n)
	return n, err
}

// Close implements io.Closer.
func (l *LogFile) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

func (l *LogFile) rotate() error {
	if err := l.file.Close(); err != nil {
		return err
	}
	if l.maxBackups <= 0 {
		_ = os.Remove(l.path)
	} else {
		_ = os.Remove(l.backup(l.maxBackups))
		for i := l.maxBackups - 1; i >= 1; i-- {
			_ = os.Rename(l.backup(i), l.backup(i+1))
		}
		_ = os.Rename(l.path, l.backup(1))
	}
	l.size = 0
	return l.open()
}

func (l *LogFile) backup(n int) string {
	return fmt.Sprintf("%s.%d", l.path, n)
}

// ParseSize parses sizes like "512", "64KB", "10MB" or "1.5GB" into bytes.
// Returns 0 for empty or invalid input.
func ParseSize(s string) int64 {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 0
	}

	multiplier := 1.0
	for _, unit := range []struct {
		suffix string
		factor float64
	}{
		{"GB", 1 << 30},
		{"MB", 1 << 20},
		{"KB", 1 << 10},
		{"B", 1},
	} {
		if strings.HasSuffix(s, unit.suffix) {
			multiplier = unit.factor
			s = strings.TrimSpace(strings.TrimSuffix(s, unit.suffix))
			break
		}
	}

	value, err := strconv.ParseFloat(s, 64)
	if err != nil || value < 0 {
		return 0
	}
	return int64(value * multiplier)
}
