// Package events defines the notifications emitted by the coordination
// engine and the Emitter that stamps them with per-entity sequence numbers.
//
// Available event types:
//   - RequestPrioritized: a request was scored or re-scored
//   - TaskAssigned: a task was committed to a responder
//   - TaskStatusChanged: a task moved through its state machine
//   - LowStock: a resource crossed its low-stock threshold downwards
//   - ResourceConsumed: stock was consumed by a completed task
package events
