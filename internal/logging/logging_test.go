package logging

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestLevelToLogrus(t *testing.T) {
	cases := []struct {
		level Level
		want  logrus.Level
	}{
		{LevelDebug, logrus.DebugLevel},
		{LevelInfo, logrus.InfoLevel},
		{LevelWarning, logrus.WarnLevel},
		{LevelError, logrus.ErrorLevel},
		{LevelCritical, logrus.FatalLevel},
		{Level("nonsense"), logrus.InfoLevel},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, c.level.toLogrus())
	}
}

func TestContextLoggerAccumulatesFields(t *testing.T) {
	var buf bytes.Buffer
	base := logrus.New()
	base.SetOutput(&buf)
	base.SetFormatter(&logrus.JSONFormatter{})

	cl := NewContextLogger(base, map[string]interface{}{"component": "sites"})
	cl.WithField("site_id", "s-1").Info("created")

	assert.Contains(t, buf.String(), `"component":"sites"`)
	assert.Contains(t, buf.String(), `"site_id":"s-1"`)
}

func TestWithFieldDoesNotMutateParent(t *testing.T) {
	base := logrus.New()
	cl := NewContextLogger(base, map[string]interface{}{"a": 1})
	derived := cl.WithField("b", 2)

	_, hasB := cl.fields["b"]
	assert.False(t, hasB)
	_, derivedHasA := derived.fields["a"]
	assert.True(t, derivedHasA)
}
