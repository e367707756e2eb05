package logger

// Logger receives decision, audit and rule-table events from the tracker.
// Fields follow the message as key, value, key, value.
type Logger interface {
	Error(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Debug(msg string, keyvals ...any)
}

// TraceIDFunc stamps each decision with an id so its log lines and audit
// entry can be joined. Decide calls it from many goroutines.
type TraceIDFunc func() string
