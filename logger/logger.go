// Package logger is the leveled log sink the server reports into. The
// server never depends on a log write succeeding.
package logger

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Level represents the level to log messages at.
type Level int

const (
	// LogDebug represents debug messages.
	LogDebug Level = iota
	// LogInfo represents informational messages.
	LogInfo
	// LogWarning represents warnings.
	LogWarning
	// LogError represents errors.
	LogError
)

// LevelNames takes a config name and gives the real log level.
var LevelNames = map[string]Level{
	"debug":   LogDebug,
	"info":    LogInfo,
	"warn":    LogWarning,
	"warning": LogWarning,
	"error":   LogError,
}

var levelDisplayNames = map[Level]string{
	LogDebug:   "debug",
	LogInfo:    "info",
	LogWarning: "warn",
	LogError:   "error",
}

// Manager writes leveled log lines to stdout and, when enabled, to an
// append-mode file in the configured directory.
type Manager struct {
	level Level

	stdoutWriteLock sync.Mutex
	fileWriteLock   sync.Mutex
	file            *os.File
	writer          *bufio.Writer
}

// NewManager returns a log manager filtering below the given level. When
// useFile is set, a log file is opened (and created if needed) under dir.
func NewManager(level Level, dir string, useFile bool) (*Manager, error) {
	m := &Manager{
		level: level,
	}

	if useFile {
		if dir == "" {
			dir = "."
		}
		name := filepath.Join(dir, "roundtable.log")
		file, err := os.OpenFile(name, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0666)
		if err != nil {
			return nil, fmt.Errorf("could not open log file %s: %w", name, err)
		}
		m.file = file
		m.writer = bufio.NewWriter(file)
	}

	return m, nil
}

// Close flushes and closes the log file, if one is open.
func (m *Manager) Close() error {
	if m.file == nil {
		return nil
	}
	m.fileWriteLock.Lock()
	defer m.fileWriteLock.Unlock()
	flushErr := m.writer.Flush()
	closeErr := m.file.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

// Log logs the given message parts at the given level.
func (m *Manager) Log(level Level, messageParts ...string) {
	if level < m.level {
		return
	}

	var rawBuf bytes.Buffer
	fmt.Fprintf(&rawBuf, "%s : %-5s : ", time.Now().UTC().Format("2006-01-02T15:04:05.000Z"), levelDisplayNames[level])
	for i, p := range messageParts {
		rawBuf.WriteString(p)
		if i != len(messageParts)-1 {
			rawBuf.WriteString(" : ")
		}
	}
	rawBuf.WriteRune('\n')

	m.stdoutWriteLock.Lock()
	os.Stdout.Write(rawBuf.Bytes())
	m.stdoutWriteLock.Unlock()

	if m.file != nil {
		m.fileWriteLock.Lock()
		m.writer.Write(rawBuf.Bytes())
		m.writer.Flush()
		m.fileWriteLock.Unlock()
	}
}

// Debug logs the given message as a debug message.
func (m *Manager) Debug(messageParts ...string) {
	m.Log(LogDebug, messageParts...)
}

// Info logs the given message as an info message.
func (m *Manager) Info(messageParts ...string) {
	m.Log(LogInfo, messageParts...)
}

// Warning logs the given message as a warning message.
func (m *Manager) Warning(messageParts ...string) {
	m.Log(LogWarning, messageParts...)
}

// Error logs the given message as an error message.
func (m *Manager) Error(messageParts ...string) {
	m.Log(LogError, messageParts...)
}
