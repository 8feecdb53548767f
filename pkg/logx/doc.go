// Package logx configures crawlchain's structured logging.
//
// A small wrapper (logx.Logger) sits on top of zerolog so that:
//   - console output stays readable (short timestamp, short caller)
//   - file output is one JSON object per line
//   - an optional systemd journal sink carries warnings from unattended runs
package logx
