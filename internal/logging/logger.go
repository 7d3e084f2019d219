package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

// Logger writes step outcomes to stdout. Warnings and errors are also
// appended to an errors log so an unattended run leaves a trail behind.
type Logger struct {
	info  *log.Logger
	warn  *log.Logger
	err   *log.Logger
	errMu sync.Mutex
	errW  io.WriteCloser
}

// New creates a logger. The errors log at errorsPath is truncated on start-up;
// an empty path disables the file sink.
func New(errorsPath string) (*Logger, error) {
	if errorsPath == "" {
		return NewWithWriters(os.Stdout, nil), nil
	}

	if err := os.Truncate(errorsPath, 0); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	f, err := os.OpenFile(errorsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return NewWithWriters(os.Stdout, f), nil
}

// NewWithWriters builds a logger on explicit sinks. errFile may be nil.
func NewWithWriters(out io.Writer, errFile io.WriteCloser) *Logger {
	errWriter := out
	if errFile != nil {
		errWriter = io.MultiWriter(out, errFile)
	}
	return &Logger{
		info: log.New(out, "INFO ", log.LstdFlags|log.Lmicroseconds),
		warn: log.New(errWriter, "WARN ", log.LstdFlags|log.Lmicroseconds),
		err:  log.New(errWriter, "ERROR ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		errW: errFile,
	}
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *Logger {
	return NewWithWriters(io.Discard, nil)
}

func (l *Logger) Close() error {
	l.errMu.Lock()
	defer l.errMu.Unlock()
	if l.errW != nil {
		return l.errW.Close()
	}
	return nil
}

func (l *Logger) Infof(format string, args ...any) {
	l.info.Printf(format, args...)
}

func (l *Logger) Warnf(format string, args ...any) {
	l.errMu.Lock()
	defer l.errMu.Unlock()
	l.warn.Printf(format, args...)
}

func (l *Logger) Errorf(format string, args ...any) {
	l.errMu.Lock()
	defer l.errMu.Unlock()
	l.err.Output(2, fmt.Sprintf(format, args...))
}

func (l *Logger) Error(err error) {
	if err == nil {
		return
	}
	l.Errorf("%v", err)
}
