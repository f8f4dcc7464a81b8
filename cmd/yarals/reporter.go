package main

import "github.com/charmbracelet/log"

// logReporter shows user messages on the CLI logger.
type logReporter struct {
	log *log.Logger
}

func (r logReporter) Info(msg string)   { r.log.Info(msg) }
func (r logReporter) Error(msg string)  { r.log.Error(msg) }
func (r logReporter) Status(msg string) { r.log.Info(msg, "status", true) }
