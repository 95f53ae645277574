// Package logx configures tweetfwd's structured logging.
//
// A small value-type wrapper (logx.Logger) sits on top of zerolog so that:
//   - console output stays short (compact timestamp + file:line caller)
//   - file output is JSON, one event per line
//   - warnings and errors can optionally be mirrored to a Telegram chat,
//     throttled by a token bucket so a failing cycle cannot flood the chat
package logx
