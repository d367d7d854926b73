package logging

import "context"

// discardLogger implements Logger by dropping every call; used by tests
// and collaborators that don't need their own logging sink.
type discardLogger struct{}

// NewNoOpLogger returns a Logger that discards everything written to it.
func NewNoOpLogger() Logger { return discardLogger{} }

func (discardLogger) Info(string, ...interface{})  {}
func (discardLogger) Warn(string, ...interface{})  {}
func (discardLogger) Error(string, ...interface{}) {}
func (discardLogger) Debug(string, ...interface{}) {}
func (discardLogger) Fatal(string, ...interface{}) {}

func (discardLogger) InfoContext(context.Context, string, ...interface{})  {}
func (discardLogger) WarnContext(context.Context, string, ...interface{})  {}
func (discardLogger) ErrorContext(context.Context, string, ...interface{}) {}
func (discardLogger) DebugContext(context.Context, string, ...interface{}) {}

func (d discardLogger) WithTraceID(string) Logger   { return d }
func (d discardLogger) WithComponent(string) Logger { return d }
