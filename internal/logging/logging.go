// Package logging wraps logrus with the field names this engine's
// components attach consistently: queryId, stageId, originId. Grounded
// on linkerd2's use of github.com/sirupsen/logrus (the teacher itself
// carries no logging dependency; logrus is the corpus's logging
// library, pulled in from the wider example pack per this exercise's
// domain-stack rule).
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is a thin rename of *logrus.Logger so callers in this module
// import one local symbol instead of reaching into logrus directly.
type Logger = logrus.Logger

// Fields is a rename of logrus.Fields for the same reason.
type Fields = logrus.Fields

// New builds a logger at the given level, writing structured
// (logfmt-ish) text to stderr. levelName is matched case-insensitively
// against logrus's level names; an unrecognized name falls back to
// info.
func New(levelName string) *Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	lvl, err := logrus.ParseLevel(levelName)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	return l
}

// ForQuery returns an entry pre-tagged with the query's id, for every
// log line a plan's lifecycle emits.
func ForQuery(l *Logger, queryID uint64) *logrus.Entry {
	return l.WithFields(Fields{"queryId": queryID})
}

// ForStage returns an entry pre-tagged with query, stage, and origin
// ids, for the per-task log lines a running stage emits.
func ForStage(l *Logger, queryID uint64, stageID uint32, originID uint64) *logrus.Entry {
	return l.WithFields(Fields{"queryId": queryID, "stageId": stageID, "originId": originID})
}
