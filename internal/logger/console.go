// Package logger provides leveled loggers for fcsort.
//
// Every logger prefixes lines with an [HH:MM:SS] timestamp and the level,
// filters by a configured minimum level and is safe for concurrent use.
// ConsoleLogger colors the level when writing to a terminal; FileLogger
// keeps one log file per batch next to a latest.log symlink.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

type level int

const (
	levelTrace level = iota
	levelDebug
	levelInfo
	levelWarn
	levelError
)

var levelNames = [...]string{"TRACE", "DEBUG", "INFO", "WARN", "ERROR"}

var levelColors = [...]*color.Color{
	color.New(color.FgHiBlack),
	color.New(color.FgCyan),
	color.New(color.FgBlue),
	color.New(color.FgYellow),
	color.New(color.FgRed),
}

func (l level) String() string { return levelNames[l] }

// parseLevel maps a configured level name (case-insensitive) to a level.
// Empty or unknown names mean info.
func parseLevel(name string) level {
	name = strings.ToUpper(strings.TrimSpace(name))
	for i, n := range levelNames {
		if n == name {
			return level(i)
		}
	}
	return levelInfo
}

// formatLine renders "[HH:MM:SS] [LEVEL] message\n"; tag is the level as
// it should appear, possibly colored.
func formatLine(tag, message string) string {
	return fmt.Sprintf("[%s] [%s] %s\n", time.Now().Format("15:04:05"), tag, message)
}

// ConsoleLogger writes leveled messages to a writer, typically stderr.
type ConsoleLogger struct {
	mu       sync.Mutex
	writer   io.Writer
	min      level
	colorize bool
}

// NewConsoleLogger creates a ConsoleLogger. A nil writer discards messages.
func NewConsoleLogger(writer io.Writer, logLevel string) *ConsoleLogger {
	return &ConsoleLogger{
		writer:   writer,
		min:      parseLevel(logLevel),
		colorize: isTerminal(writer),
	}
}

// isTerminal reports whether w is the process's stdout or stderr attached to
// a terminal and color has not been disabled (NO_COLOR).
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok || (f != os.Stdout && f != os.Stderr) || color.NoColor {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (cl *ConsoleLogger) LogTrace(message string) { cl.log(levelTrace, message) }
func (cl *ConsoleLogger) LogDebug(message string) { cl.log(levelDebug, message) }
func (cl *ConsoleLogger) LogInfo(message string)  { cl.log(levelInfo, message) }
func (cl *ConsoleLogger) LogWarn(message string)  { cl.log(levelWarn, message) }
func (cl *ConsoleLogger) LogError(message string) { cl.log(levelError, message) }

func (cl *ConsoleLogger) log(l level, message string) {
	if cl.writer == nil || l < cl.min {
		return
	}

	tag := l.String()
	if cl.colorize {
		tag = levelColors[l].Sprint(tag)
	}

	cl.mu.Lock()
	defer cl.mu.Unlock()
	io.WriteString(cl.writer, formatLine(tag, message))
}
