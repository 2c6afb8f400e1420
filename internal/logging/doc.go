// Package logging provides structured logging for opsloop.
//
// # Overview
//
// Logging wraps Zap with:
//   - Custom Trace level (-2, below Debug)
//   - Automatic context field injection (trace_id, session.id, request.id)
//   - Output on stderr so CLI results on stdout stay machine readable
//
// # Usage
//
//	logger, err := logging.NewLogger(logging.NewDefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithSessionID(ctx, "sess_123")
//	logger.Info(ctx, "facts extracted", zap.Int("count", n))
//
// Services take a plain *zap.Logger; pass logger.Underlying().
//
// # Testing
//
//	tl := logging.NewTestLogger()
//	svc := NewService(tl.Underlying())
//	tl.AssertLogged(t, zapcore.InfoLevel, "tick")
package logging
