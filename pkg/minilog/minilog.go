// Package minilog extends Go's logging functionality to allow for multiple
// loggers, each with their own logging level. Call AddLogger to set up each
// desired logger, then use the package-level logging functions to send
// messages to every configured logger.
//
// Every protocol engine in this module (framer, rpc, mqtt, btle) logs
// through this package rather than fmt.Println or the standard log
// package, so a host process can redirect or filter all of it in one
// place.
package minilog

import (
	"errors"
	"fmt"
	golog "log"
	"os"
	"strings"
	"sync"
)

type Level int

const (
	_ Level = iota
	DEBUG
	INFO
	WARN
	ERROR
	FATAL
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	}
	return fmt.Sprintf("Level(%d)", int(l))
}

// ParseLevel returns the log level named by s.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return DEBUG, nil
	case "info":
		return INFO, nil
	case "warn":
		return WARN, nil
	case "error":
		return ERROR, nil
	case "fatal":
		return FATAL, nil
	}
	return 0, errors.New("invalid log level: " + s)
}

type minilogger struct {
	*golog.Logger
	Level   Level
	filters []string
}

func (l *minilogger) log(level Level, name, format string, arg ...interface{}) {
	msg := l.prologue(level, name) + fmt.Sprintf(format, arg...)
	for _, f := range l.filters {
		if strings.Contains(msg, f) {
			return
		}
	}
	l.Println(msg)
}

func (l *minilogger) logln(level Level, name string, arg ...interface{}) {
	msg := l.prologue(level, name) + fmt.Sprint(arg...)
	for _, f := range l.filters {
		if strings.Contains(msg, f) {
			return
		}
	}
	l.Println(msg)
}

func (l *minilogger) prologue(level Level, name string) string {
	if name == "" {
		return level.String() + " "
	}
	return level.String() + " " + name + ": "
}

var (
	loggers = make(map[string]*minilogger)
	logLock sync.RWMutex
)

// AddLogger adds a logger that only emits events at level or higher.
func AddLogger(name string, output *os.File, level Level) {
	logLock.Lock()
	defer logLock.Unlock()

	loggers[name] = &minilogger{golog.New(output, "", golog.LstdFlags), level, nil}
}

// DelLogger removes a named logger added with AddLogger.
func DelLogger(name string) {
	logLock.Lock()
	defer logLock.Unlock()

	delete(loggers, name)
}

// WillLog reports whether logging at level will result in actual output.
// Useful when the log message itself is expensive to construct (e.g. a
// hex dump of a framer payload).
func WillLog(level Level) bool {
	logLock.RLock()
	defer logLock.RUnlock()

	for _, v := range loggers {
		if v.Level <= level {
			return true
		}
	}
	return false
}

func AddFilter(name, filter string) error {
	logLock.Lock()
	defer logLock.Unlock()

	l, ok := loggers[name]
	if !ok {
		return fmt.Errorf("no such logger %v", name)
	}
	for _, f := range l.filters {
		if f == filter {
			return nil
		}
	}
	l.filters = append(l.filters, filter)
	return nil
}

func logAll(level Level, name, format string, arg ...interface{}) {
	logLock.RLock()
	defer logLock.RUnlock()

	for _, logger := range loggers {
		if logger.Level <= level {
			logger.log(level, name, format, arg...)
		}
	}
}

func loglnAll(level Level, name string, arg ...interface{}) {
	logLock.RLock()
	defer logLock.RUnlock()

	for _, logger := range loggers {
		if logger.Level <= level {
			logger.logln(level, name, arg...)
		}
	}
}

func Debug(format string, arg ...interface{}) { logAll(DEBUG, "", format, arg...) }
func Info(format string, arg ...interface{})  { logAll(INFO, "", format, arg...) }
func Warn(format string, arg ...interface{})  { logAll(WARN, "", format, arg...) }
func Error(format string, arg ...interface{}) { logAll(ERROR, "", format, arg...) }

func Debugln(arg ...interface{}) { loglnAll(DEBUG, "", arg...) }
func Infoln(arg ...interface{})  { loglnAll(INFO, "", arg...) }
func Warnln(arg ...interface{})  { loglnAll(WARN, "", arg...) }
func Errorln(arg ...interface{}) { loglnAll(ERROR, "", arg...) }

// Named variants attach a component name (e.g. "rpc", "mqtt", "btle") to
// every line instead of relying on the caller's file:line.
func DebugNamed(name, format string, arg ...interface{}) { logAll(DEBUG, name, format, arg...) }
func InfoNamed(name, format string, arg ...interface{})  { logAll(INFO, name, format, arg...) }
func WarnNamed(name, format string, arg ...interface{})  { logAll(WARN, name, format, arg...) }
func ErrorNamed(name, format string, arg ...interface{}) { logAll(ERROR, name, format, arg...) }
