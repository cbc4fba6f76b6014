// Package logging provides the structured logger shared by every package
// in this module: a stream-splitting logrus instance plus context-aware
// helpers for attaching request/trace fields.
package logging

import (
	"bytes"
	"os"

	"github.com/sirupsen/logrus"
)

// outputSplitter routes error-and-above entries to stderr and everything
// else to stdout, so operators can pipe the two streams independently.
// Both the text and JSON formatters emit "level=" / "\"level\":" near the
// start of the line, so a substring scan is enough without parsing.
type outputSplitter struct{}

var errorMarkers = [][]byte{
	[]byte(`level=error`),
	[]byte(`level=fatal`),
	[]byte(`level=panic`),
	[]byte(`"level":"error"`),
	[]byte(`"level":"fatal"`),
	[]byte(`"level":"panic"`),
}

func (outputSplitter) Write(p []byte) (int, error) {
	for _, marker := range errorMarkers {
		if bytes.Contains(p, marker) {
			return os.Stderr.Write(p)
		}
	}
	return os.Stdout.Write(p)
}

// Logger is the package-wide logrus instance. Every helper in this package
// logs through it unless a caller-supplied *logrus.Logger overrides it.
var Logger = logrus.New()

func init() {
	Logger.SetOutput(outputSplitter{})
}
