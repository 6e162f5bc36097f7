package qmresults

import "context"

// CallContext provides request-scoped information and logging to method
// handlers.
type CallContext struct {
	// Ctx is the request-scoped context, carrying cancellation and deadlines.
	Ctx context.Context
	// RequestID is the client-supplied identifier for this request, echoed in
	// all response metadata.
	RequestID string
	// ServerID is the server identifier set via [Server.SetServerID].
	ServerID string
	Method   string
	// LogLevel is the client-requested minimum log severity. Messages below
	// it are dropped by [CallContext.ClientLog].
	LogLevel LogLevel
	logs     []LogMessage
}

func newCallContext(ctx context.Context, s *Server, req *Request) *CallContext {
	cc := &CallContext{
		Ctx:       ctx,
		RequestID: req.RequestID,
		ServerID:  s.serverID,
		Method:    req.Method,
		LogLevel:  LogLevel(req.LogLevel),
	}
	if cc.LogLevel == "" {
		cc.LogLevel = LogTrace
	}
	return cc
}

// ClientLog records a log message that will be sent to the client, if its
// level is at or above the client-requested level.
func (ctx *CallContext) ClientLog(level LogLevel, msg string, extras ...KV) {
	if logLevelPriority(level) > logLevelPriority(ctx.LogLevel) {
		return
	}
	logMsg := LogMessage{
		Level:   level,
		Message: msg,
	}
	if len(extras) > 0 {
		logMsg.Extras = make(map[string]string, len(extras))
		for _, kv := range extras {
			logMsg.Extras[kv.Key] = kv.Value
		}
	}
	ctx.logs = append(ctx.logs, logMsg)
}

// drainLogs returns and clears all accumulated log messages.
func (ctx *CallContext) drainLogs() []LogMessage {
	logs := ctx.logs
	ctx.logs = nil
	return logs
}
