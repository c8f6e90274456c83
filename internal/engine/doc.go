// Package engine implements the keyrx event processor.
//
// The processor is the orchestrator of the runtime: it consumes raw key
// events and time ticks, resolves each key through the key index, mutates
// the extended state and the tap/hold sessions, and produces the ordered
// stream of output events.
//
// ARCHITECTURE:
//
// Single-Writer, Caller-Driven:
// The processor owns no goroutines, timers, or I/O. Exactly one caller (the
// platform event loop) invokes it at a time:
//   - ProcessEvent / AppendEvent for every physical key transition
//   - Tick / AppendTick at a bounded interval (recommended <= 1ms)
//   - SwitchProfile / LoadProfile between calls, never concurrently
//
// A concurrent or reentrant call is a ReentrancyViolation: fatal when built
// with the keyrxdebug tag, logged and ignored otherwise.
//
// Event Processing Flow:
//  1. Sessions whose hold threshold has passed by the event's timestamp are
//     resolved first, so results depend only on timestamps, never on when
//     Tick happened to run
//  2. The event joins the interrupt queue behind any buffered events
//  3. The queue drains in order; an event is held back while an older
//     timeout-only tap/hold session is still pending
//  4. Each released event walks the layer stack top-down through the key
//     index and is dispatched by mapping kind
//
// CRITICAL PATTERNS:
//
// No Per-Event Allocation:
// All bookkeeping lives in fixed arrays sized at construction: the held-key
// table, the session table, the interrupt ring, and the layer stack. The
// returned output slice is reused across calls.
//
// Press/Release Consistency:
// The action a key resolved to at press time is remembered and replayed at
// release, even if the layer stack changed in between. This is what keeps
// modifiers and keys from getting stuck.
//
// Deterministic Timestamps:
// Output events carry the logical time at which they were emitted. Holds
// resolved by timeout are stamped with their deadline, and buffered events
// are never stamped earlier than the resolution that released them.
package engine
