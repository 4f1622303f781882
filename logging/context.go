package logging

import (
	"context"

	"go.viam.com/utils"
)

// TraceField is the field added to entries logged with a traced context.
const TraceField = "trace"

type traceKeyType int

const traceKeyID = traceKeyType(iota)

// WithTrace returns ctx marked for tracing under key. Logger methods prefixed with C log every
// entry made with the returned context whatever the logger's level, tagged with the key. An empty
// key generates a random one.
func WithTrace(ctx context.Context, key string) context.Context {
	if key == "" {
		key = utils.RandomAlphaString(6)
	}
	return context.WithValue(ctx, traceKeyID, key)
}

// TraceKey returns the key ctx was traced under, or "" when it is not traced.
func TraceKey(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if key, ok := ctx.Value(traceKeyID).(string); ok {
		return key
	}
	return ""
}
