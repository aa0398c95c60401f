package server

import (
	"io"
	"log"
	"os"
	"testing"
)

// TestMain silences the package loggers once before any test runs. Session
// goroutines of earlier tests may still be logging, so tests must not swap
// the loggers themselves; diagnostics tests inject their own factory instead.
func TestMain(m *testing.M) {
	errorLog = log.New(io.Discard, "ERROR: ", log.LstdFlags)
	debugLog = log.New(io.Discard, "DEBUG: ", log.LstdFlags)
	log.SetOutput(io.Discard)

	os.Exit(m.Run())
}
