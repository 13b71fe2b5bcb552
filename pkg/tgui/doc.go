// Package tgui provides small Telegram UI helpers:
//   - Inline keyboard builders
//   - Callback data helpers (key:payload)
//   - A message builder that escapes for ParseMode="HTML"
package tgui
