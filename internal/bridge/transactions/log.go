package transactions

import "github.com/klingon-exchange/klingbridge/pkg/logging"

// log is disabled until the caller installs a logger with UseLogger.
var log = logging.Discard()

// UseLogger sets the logger used by the builders and the signing helper.
func UseLogger(logger *logging.Logger) {
	if logger != nil {
		log = logger
	}
}

// DisableLog disables all package log output.
func DisableLog() {
	log = logging.Discard()
}
