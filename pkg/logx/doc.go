// Package logx is the bot's structured logger.
//
// Logger is a value type over zerolog. Loggers derived from a Service follow
// its config across Apply calls, so components keep the logger they were
// built with while levels and sinks change underneath.
//
// Sinks: console (human readable), a rotating JSON file (lumberjack) and an
// optional owner log chat on Telegram, rate limited and filtered by level.
package logx
