// Package logging provides the entity-tagged diagnostic logging every
// worker component uses, matching the "instance %s: ..." tagging style the
// daemon uses for its supervised instances (SPEC_FULL.md C12).
package logging

import (
	"log"
	"os"
)

// Level controls which diagnostic lines Logger.Debugf actually emits.
// Info and Errorf always emit regardless of level, matching the teacher's
// own unconditional log.Printf calls.
type Level int

const (
	LevelInfo Level = iota
	LevelDebug
)

// ParseLevel maps a config string ("info", "debug") to a Level, defaulting
// to LevelInfo for anything else.
func ParseLevel(s string) Level {
	if s == "debug" {
		return LevelDebug
	}
	return LevelInfo
}

// Logger tags every line with a fixed entity name (a service name, "worker",
// or similar), mirroring log.Printf("instance %s: ...", id) calls spread
// through the daemon.
type Logger struct {
	entity string
	level  Level
	std    *log.Logger
}

// New builds a Logger that tags lines with entity and emits debug lines
// only when level is LevelDebug.
func New(entity string, level Level) *Logger {
	return &Logger{
		entity: entity,
		level:  level,
		std:    log.New(os.Stdout, "", log.LstdFlags),
	}
}

// Infof logs an unconditional informational line tagged with the logger's
// entity name.
func (l *Logger) Infof(format string, args ...any) {
	l.std.Printf(l.entity+": "+format, args...)
}

// Errorf logs an unconditional error line tagged with the logger's entity
// name.
func (l *Logger) Errorf(format string, args ...any) {
	l.std.Printf(l.entity+": ERROR: "+format, args...)
}

// Debugf logs only when the logger's level is LevelDebug.
func (l *Logger) Debugf(format string, args ...any) {
	if l.level != LevelDebug {
		return
	}
	l.std.Printf(l.entity+": DEBUG: "+format, args...)
}

// With returns a new Logger tagged with a sub-entity, e.g.
// worker.With("densenet") for a per-service logger.
func (l *Logger) With(subEntity string) *Logger {
	return &Logger{entity: l.entity + " " + subEntity, level: l.level, std: l.std}
}
