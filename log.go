package quic

import (
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/goburrow/quic/transport"
)

type logLevel int

// Log levels
const (
	levelOff logLevel = iota
	levelError
	levelInfo
	levelDebug
	levelTrace
)

func (l logLevel) logrusLevel() logrus.Level {
	switch l {
	case levelError:
		return logrus.ErrorLevel
	case levelInfo:
		return logrus.InfoLevel
	case levelDebug:
		return logrus.DebugLevel
	case levelTrace:
		return logrus.TraceLevel
	default:
		return logrus.PanicLevel // never logged at levelOff
	}
}

// logger logs QUIC transactions through logrus, keeping the teacher's
// level-gated attach/detach-per-connection shape while replacing its
// hand-built fmt.Fprintf formatter with structured fields.
type logger struct {
	mu    sync.Mutex
	level logLevel
	entry *logrus.Entry
}

func newLogger() *logger {
	l := logrus.New()
	l.SetLevel(logrus.TraceLevel)
	l.SetFormatter(&logrus.JSONFormatter{})
	return &logger{level: levelOff, entry: logrus.NewEntry(l)}
}

func (s *logger) setWriter(level logLevel, w io.Writer) {
	s.mu.Lock()
	s.level = level
	s.entry.Logger.SetOutput(w)
	s.mu.Unlock()
}

func (s *logger) log(level logLevel, format string, values ...interface{}) {
	s.mu.Lock()
	cur := s.level
	entry := s.entry
	s.mu.Unlock()
	if cur < level {
		return
	}
	entry.Logf(level.logrusLevel(), format, values...)
}

func (s *logger) logConnError(c *remoteConn, err error) {
	s.mu.Lock()
	cur := s.level
	entry := s.entry
	s.mu.Unlock()
	if cur < levelError {
		return
	}
	entry.WithFields(logrus.Fields{
		"addr": c.addr.String(),
		"cid":  fmt.Sprintf("%x", c.scid),
	}).Error(err)
}

// attachLogger hooks a connection's qlog-style event stream into logrus
// once the configured level is at least levelDebug; below that,
// per-event logging would be needless overhead on every packet.
func (s *logger) attachLogger(c *remoteConn) {
	s.mu.Lock()
	cur := s.level
	base := s.entry
	s.mu.Unlock()
	if cur < levelDebug {
		return
	}
	tl := transactionLogger{
		entry: base.WithFields(logrus.Fields{
			"addr": c.addr.String(),
			"cid":  fmt.Sprintf("%x", c.scid),
		}),
	}
	c.conn.OnLogEvent(tl.logEvent)
}

func (s *logger) detachLogger(c *remoteConn) {
	c.conn.OnLogEvent(nil)
}

type transactionLogger struct {
	entry *logrus.Entry
}

func (s *transactionLogger) logEvent(e transport.LogEvent) {
	fields := make(logrus.Fields, len(e.Fields))
	for _, f := range e.Fields {
		if f.Str != "" {
			fields[f.Key] = f.Str
		} else {
			fields[f.Key] = f.Num
		}
	}
	s.entry.WithFields(fields).Debug(e.Type)
}
