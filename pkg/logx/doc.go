// Package logx configures shopbot's structured logging.
//
// Logger is a thin wrapper on top of zerolog:
//   - Console output stays readable (short timestamp + short caller)
//   - File output is JSON-structured
//   - An optional Telegram sink forwards WARN+ records to an operator chat,
//     rate limited so a failing feed cannot flood the chat
package logx
