// Package nurture provides an embeddable lead-nurture workflow engine
// for Go.
//
// Nurture runs multi-step outreach sequences (email, SMS, delays,
// custom actions) against sales leads, with durable suspension at
// delay steps and business-hours-aware resumption. It runs fully in
// Go, supports multiple persistence backends, and integrates cleanly
// into existing CRM codebases.
//
// # Core Concepts
//
// The programming model is intentionally small:
//
//  1. Engine
//  2. Worker
//  3. Scheduler
//  4. Stack
//
// # Engine
//
// The Engine runs one workflow against one lead. It walks the
// workflow's ordered steps, sends email and SMS through pluggable
// channels, substitutes lead fields into message templates, and parks
// the run when it reaches a delay step. Every run writes an
// append-only execution log, and at most one ACTIVE execution exists
// per lead at any time.
//
// Engines can be backed by different storage systems:
//
//   - In-memory (non-durable, best for tests)
//   - SQLite (embedded durability)
//
// # Worker
//
// A Worker pulls run and resume tasks from a queue and executes them
// through the Engine. Queues come in in-memory and Redis-backed
// flavors; the Redis queue survives process restarts.
//
// # Scheduler
//
// The Scheduler periodically sweeps suspended executions whose
// checkpoint has come due and resumes them, or cancels them when the
// lead's status changed while the run was parked. The sweep cadence
// is a cron expression.
//
// # Stack
//
// Stack bundles an Engine, a Worker, a Scheduler and the persistence
// layer into one process-local runtime:
//
//	stack, _ := nurture.NewInMemoryStack(nurture.StackConfig{
//	    Email: emailChannel,
//	    SMS:   smsChannel,
//	})
//	_ = stack.StartWorkers(ctx, 2)
//	_ = stack.StartScheduler(ctx)
//	defer stack.Stop()
//
// For examples, see the package examples and the test files.
package nurture
