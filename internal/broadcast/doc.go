// Package broadcast fans a single message out to every registered recipient.
//
// The engine is split in three parts:
//   - Sender: one recipient, bounded retry with exponential backoff, pacing after success
//   - Coordinator: snapshots the audience and drives the Sender sequentially
//   - Report: per-run aggregate emitted to ReportSinks
//
// Service ties the engine to config, the scheduler and the command surface.
package broadcast
