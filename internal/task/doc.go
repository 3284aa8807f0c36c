// Package task runs VM lifecycle operations off the caller's path.
//
// A Task names an operation and the VM it targets. Queues accept tasks
// (Enqueue never waits for execution), a Runner executes them on a bounded
// worker pool, and the Dispatcher carries each one out against the VM's
// hypervisor:
//
//	enqueue ──► LocalQueue ─────────────────────► Runner ──► Dispatcher
//	enqueue ──► NATSQueue ──► JetStream ──► Consumer ──┘
//
// Tasks targeting a VM that no longer exists complete without error and
// without touching a hypervisor. Every task opens its own hypervisor
// connection and closes exactly that connection before returning.
//
// Delivery is at-least-once and unordered. Failures are logged and counted,
// never reported back to whoever enqueued the task, and never retried.
package task
