// Package logx configures touchbase's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Level/sink changes applied at runtime without recreating loggers
package logx
