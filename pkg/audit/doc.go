// Package audit records authorization events: role writes, session
// transitions, denials and grants of sensitive rights.
//
// Events go to a Logger. FileLogger appends JSON lines with size based
// rotation, SlogLogger forwards to the structured service log and
// MultiLogger fans out to several sinks:
//
//	file, err := audit.NewFileLogger(audit.FileLoggerConfig{BasePath: dir, MaxSize: 50 << 20})
//	if err != nil {
//		return err
//	}
//	sink := audit.NewMultiLogger(file, audit.NewSlogLogger(logger))
//
// NewEvent fills the actor from the observability context and derives the
// status from the error kind:
//
//	event := audit.NewEvent(ctx, audit.EventTypeSessionEscalate, err)
//	sink.Log(ctx, event)
package audit
