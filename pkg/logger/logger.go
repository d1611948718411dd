// Package logger is a thin, colored-console facade over logrus. It
// keeps the teacher's level-named call surface (Debug/Info/Warn/Error/
// Success) and its banner/section helpers, but delegates formatting,
// level filtering, and output to an ecosystem logging library rather
// than hand-rolled log.Printf plumbing.
package logger

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/ventosilenzioso/go-reliable-transport/pkg/connid"
)

// ANSI color codes
const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorWhite  = "\033[37m"
	ColorCyan   = "\033[36m"
	ColorGray   = "\033[90m"
)

var base = logrus.New()

func init() {
	base.SetLevel(logrus.InfoLevel)
	base.SetFormatter(&colorFormatter{timeFormat: "15:04:05"})
}

// SetLevel sets the minimum log level.
func SetLevel(level logrus.Level) {
	base.SetLevel(level)
}

// colorFormatter reproduces the teacher's "[time] [LEVEL] message"
// bracketed, colored line shape on top of logrus's Entry.
type colorFormatter struct {
	timeFormat string
}

func levelColor(e *logrus.Entry) string {
	if tag, ok := e.Data["success"]; ok && tag == true {
		return ColorGreen
	}
	if tag, ok := e.Data["cyan"]; ok && tag == true {
		return ColorCyan
	}
	switch e.Level {
	case logrus.DebugLevel:
		return ColorGray
	case logrus.WarnLevel:
		return ColorYellow
	case logrus.ErrorLevel, logrus.FatalLevel:
		return ColorRed
	default:
		return ColorWhite
	}
}

func levelName(e *logrus.Entry) string {
	if tag, ok := e.Data["success"]; ok && tag == true {
		return "SUCCESS"
	}
	return strings.ToUpper(e.Level.String())
}

func (f *colorFormatter) Format(e *logrus.Entry) ([]byte, error) {
	color := levelColor(e)
	ts := fmt.Sprintf("%s[%s]%s ", ColorGray, e.Time.Format(f.timeFormat), ColorReset)
	line := fmt.Sprintf("%s%s[%s]%s %s", ts, color, levelName(e), ColorReset, e.Message)
	if conn, ok := e.Data["conn"]; ok {
		line = fmt.Sprintf("%s (conn=%v)", line, conn)
	}
	return append([]byte(line), '\n'), nil
}

// Entry scopes subsequent log calls to a single connection, so every
// line emitted through it carries a "conn" field.
type Entry struct{ e *logrus.Entry }

// WithConn scopes subsequent log calls to a connection id.
func WithConn(id connid.ID) *Entry {
	return &Entry{e: base.WithField("conn", id.String())}
}

func (l *Entry) Debug(format string, args ...interface{}) { l.e.Debugf(format, args...) }
func (l *Entry) Info(format string, args ...interface{})  { l.e.Infof(format, args...) }
func (l *Entry) Warn(format string, args ...interface{})  { l.e.Warnf(format, args...) }
func (l *Entry) Error(format string, args ...interface{}) { l.e.Errorf(format, args...) }

func (l *Entry) Success(format string, args ...interface{}) {
	l.e.WithField("success", true).Info(fmt.Sprintf(format, args...))
}

// Debug logs a debug message (gray)
func Debug(format string, args ...interface{}) { base.Debugf(format, args...) }

// Info logs an informational message (white)
func Info(format string, args ...interface{}) { base.Infof(format, args...) }

// Warn logs a warning message (yellow)
func Warn(format string, args ...interface{}) { base.Warnf(format, args...) }

// Error logs an error message (red)
func Error(format string, args ...interface{}) { base.Errorf(format, args...) }

// Success logs a success message (green)
func Success(format string, args ...interface{}) {
	base.WithField("success", true).Info(fmt.Sprintf(format, args...))
}

// InfoCyan logs an info message in cyan (for special highlights)
func InfoCyan(format string, args ...interface{}) {
	base.WithField("cyan", true).Info(fmt.Sprintf(format, args...))
}

// Fatal logs a fatal error and exits
func Fatal(format string, args ...interface{}) {
	base.Errorf(format, args...)
	os.Exit(1)
}

// Section prints a section header
func Section(title string) {
	border := "═══════════════════════════════════════════════════════════"
	fmt.Printf("\n%s╔%s╗%s\n", ColorCyan, border, ColorReset)
	fmt.Printf("%s║%s %-57s %s║%s\n", ColorCyan, ColorReset, title, ColorCyan, ColorReset)
	fmt.Printf("%s╚%s╝%s\n\n", ColorCyan, border, ColorReset)
}

// Banner prints the application banner
func Banner(title, version string) {
	banner := `
╔═══════════════════════════════════════════════════════════╗
║   RELIABLE TRANSPORT                                      ║
║              %s%-37s%s║
║                    %sVersion %-7s%s                      ║
╚═══════════════════════════════════════════════════════════╝
`
	fmt.Printf(banner, ColorCyan, title, ColorReset, ColorGreen, version, ColorReset)
}
