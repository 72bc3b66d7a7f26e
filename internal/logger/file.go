package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileLogger writes one log file per organize batch into a log directory
// and keeps a latest.log symlink pointing at the most recent one.
type FileLogger struct {
	mu      sync.Mutex
	logDir  string
	runLog  *os.File
	runFile string
	min     level
}

// NewFileLogger creates the log directory if needed and opens
// run-YYYYMMDD-HHMMSS.log inside it.
func NewFileLogger(logDir string, logLevel string) (*FileLogger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	stamp := time.Now().Format("20060102-150405")
	runFile := filepath.Join(logDir, fmt.Sprintf("run-%s.log", stamp))

	file, err := os.OpenFile(runFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create run log file: %w", err)
	}

	symlinkPath := filepath.Join(logDir, "latest.log")
	if _, err := os.Lstat(symlinkPath); err == nil {
		if err := os.Remove(symlinkPath); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to remove old symlink: %w", err)
		}
	}
	if err := os.Symlink(filepath.Base(runFile), symlinkPath); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to create symlink: %w", err)
	}

	fl := &FileLogger{
		logDir:  logDir,
		runLog:  file,
		runFile: runFile,
		min:     parseLevel(logLevel),
	}

	fl.write("=== fcsort run log ===\n")
	fl.write(fmt.Sprintf("Started at: %s\n\n", time.Now().Format(time.RFC3339)))

	return fl, nil
}

// Path returns the path of the current run log.
func (fl *FileLogger) Path() string {
	return fl.runFile
}

func (fl *FileLogger) LogTrace(message string) { fl.log(levelTrace, message) }
func (fl *FileLogger) LogDebug(message string) { fl.log(levelDebug, message) }
func (fl *FileLogger) LogInfo(message string)  { fl.log(levelInfo, message) }
func (fl *FileLogger) LogWarn(message string)  { fl.log(levelWarn, message) }
func (fl *FileLogger) LogError(message string) { fl.log(levelError, message) }

func (fl *FileLogger) log(l level, message string) {
	if l < fl.min {
		return
	}
	fl.write(formatLine(l.String(), message))
}

// Close writes a footer and closes the run log.
func (fl *FileLogger) Close() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.runLog == nil {
		return nil
	}
	fmt.Fprintf(fl.runLog, "\nFinished at: %s\n", time.Now().Format(time.RFC3339))
	err := fl.runLog.Close()
	fl.runLog = nil
	return err
}

func (fl *FileLogger) write(message string) {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.runLog == nil {
		return
	}
	fl.runLog.WriteString(message)
}
