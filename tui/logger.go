package tui

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
)

// OpenFileLogger opens an appending log file so log output does not
// corrupt the terminal UI. Close the returned closer on exit.
func OpenFileLogger(path string, level log.Level) (*log.Logger, io.Closer, error) {
	logFile, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}

	logger := log.NewWithOptions(logFile, log.Options{
		ReportCaller:    true,
		ReportTimestamp: true,
		Level:           level,
	})
	return logger, logFile, nil
}
