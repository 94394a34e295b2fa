// Package logging provides structured logging for ordermatch.
//
// Logger wraps Zap and injects resolution correlation fields taken from
// the context: trace and span ids, the resolution session, the document
// being processed, and the entity role currently being resolved.
//
//	ctx = logging.WithSessionID(ctx, sess.ID)
//	ctx = logging.WithDocumentID(ctx, doc.ID)
//	ctx = logging.WithRole(ctx, "ship_to")
//	logger.Info(ctx, "candidates ranked", zap.Int("count", n))
//
// Entries go to stdout, to the OpenTelemetry log pipeline, or both.
// Stdout output passes through a RedactingEncoder so provider keys and
// bearer tokens never reach the log stream. Below-error levels are
// sampled; errors are always written.
//
// Tests should use NewTestLogger and its assertion helpers instead of
// parsing output.
package logging
