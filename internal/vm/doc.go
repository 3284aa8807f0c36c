// Package vm is the caller-facing side of VM lifecycle management.
//
// Service redeems tokens into VM records (admission), hands lifecycle
// operations to a task queue and reads live domain facts for display.
//
// Admission:
//
// CreateVM looks up the token, applies its lifetime and hypervisor override,
// consumes it (unless it regenerates) and inserts the VM record in a single
// store transaction, so a single-use token can never produce two VMs. The
// provision task is enqueued only after that transaction commits. If the
// enqueue fails the VM record stays behind with provisioned=false and the
// error is returned; re-running the provision task for that VM is left to
// the operator.
//
// Everything that touches the hypervisor for writing happens asynchronously
// through internal/task. Only DescribeDomain opens a connection itself, and
// it releases it before returning.
package vm
