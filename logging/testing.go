package logging

import (
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

// testAppender writes entries through tb.Log so they are attributed to the running test.
type testAppender struct {
	tb testing.TB
}

// NewTestAppender returns an appender that logs to tb. Output uses the console layout without the
// trailing newline tb.Log adds itself.
func NewTestAppender(tb testing.TB) Appender {
	return &testAppender{tb}
}

// Write logs the entry through tb. tb.Helper keeps the reported file:line pointing at the caller
// of the logger rather than this method.
func (tapp *testAppender) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	tapp.tb.Helper()
	buf, err := newConsoleEncoder().EncodeEntry(entry, fields)
	if err != nil {
		tapp.tb.Log(entry.Message)
		return err
	}
	defer buf.Free()
	tapp.tb.Log(strings.TrimSuffix(buf.String(), zapcore.DefaultLineEnding))
	return nil
}

// Sync is a no-op.
func (tapp *testAppender) Sync() error {
	return nil
}
