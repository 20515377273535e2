package main

import (
	"fmt"
	"io"
)

// logger is a minimal wrapper around an io.Writer, extended with a
// Warnf used for non-fatal warnings (missing non-optional peers). The
// migration of a legacy lockfile is not reported through it.
type logger struct {
	io.Writer
}

func newLogger(w io.Writer) *logger {
	return &logger{Writer: w}
}

// Logln logs a line.
func (l *logger) Logln(args ...interface{}) {
	fmt.Fprintln(l, args...)
}

// Logf logs a formatted string.
func (l *logger) Logf(f string, args ...interface{}) {
	fmt.Fprintf(l, f, args...)
}

// Warnf logs a formatted warning, prefixed with "[pacm] warn".
func (l *logger) Warnf(f string, args ...interface{}) {
	fmt.Fprintf(l, "[pacm] warn: "+f+"\n", args...)
}

// Errorf logs a formatted error, prefixed with "[pacm] error".
func (l *logger) Errorf(f string, args ...interface{}) {
	fmt.Fprintf(l, "[pacm] error: "+f+"\n", args...)
}
