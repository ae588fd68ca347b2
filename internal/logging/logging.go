// Package logging implements the broadcast log sink: fan a server log
// line out to every connected session whose log-level filter admits it,
// and durably record the same line to a rotating file via
// gopkg.in/natefinch/lumberjack.v2 so operators have a record
// independent of who's currently connected.
package logging

import (
	"io"
	"log"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/pathwatch/pathwatch/internal/session"
	"github.com/pathwatch/pathwatch/internal/wire"
)

// Table is the narrow slice of session.Table the sink needs.
type Table interface {
	Snapshot() []*session.Session
}

// Sink is the shared broadcast log sink. It implements
// internal/dispatch.LogSink.
type Sink struct {
	table  Table
	file   *lumberjack.Logger
	stderr *log.Logger
}

// Config controls the rotating log file. A zero value disables file
// rotation entirely (File == ""), leaving only the in-process broadcast
// and an stderr mirror.
type Config struct {
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// New returns a Sink broadcasting to table and, if cfg.File is set,
// durably logging to a rotating file.
func New(table Table, cfg Config) *Sink {
	s := &Sink{table: table, stderr: log.New(log.Writer(), "[pathwatchd] ", log.LstdFlags)}
	if cfg.File != "" {
		s.file = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    orDefault(cfg.MaxSizeMB, 100),
			MaxBackups: orDefault(cfg.MaxBackups, 5),
			MaxAge:     orDefault(cfg.MaxAgeDays, 28),
			Compress:   cfg.Compress,
		}
	}
	return s
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

// Broadcast implements internal/dispatch.LogSink: it writes text to the
// rotating file (if configured) and enqueues a {"log": text} record to
// every session whose LogLevel filter is at least level.
func (s *Sink) Broadcast(level session.LogLevel, text string) {
	if s.file != nil {
		_, _ = io.WriteString(s.file, text+"\n")
	}
	s.stderr.Print(text)

	resp := wire.MakeResponse()
	resp["log"] = text

	for _, sess := range s.table.Snapshot() {
		if sess.LogLevel() >= level {
			sess.Enqueue(resp)
		}
	}
}

// Close flushes and closes the rotating log file, if one is configured.
func (s *Sink) Close() error {
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}
