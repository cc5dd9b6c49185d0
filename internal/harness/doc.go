// Package harness runs scripted editing sessions against the draft engine
// and records what they did.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: soup_discard
//	description: "Discarding a conflicting draft re-enables autosave"
//	id: "1"
//	baseline: {name: Soup, cost: 10}
//	draft: {name: Soup v2, cost: 12}
//	steps:
//	  - action: expect_state
//	    state: conflict
//	  - action: clear
//	  - action: edit
//	    doc: {name: Soup, cost: 11}
//	  - action: advance
//	    duration: 2s
//	  - action: expect_draft
//	    doc: {name: Soup, cost: 11}
//	assertions:
//	  - type: trace_order
//	    events: ["delete:draft:1", "write:draft:1", "publish:SAVED"]
//
// Operation steps drive the session (edit, undo, redo, advance, recover,
// accept, clear, flush, reload, peer_opened, peer_saved). Expectation steps
// check it (expect_state, expect_status, expect_draft, expect_no_draft,
// expect_warnings, expect_history). Edits also go through a history.History
// so undo and redo can be scripted alongside autosave.
//
// # Determinism
//
// Every run uses a fresh in-memory backend, a ManualClock starting at
// testutil.Epoch, an in-process broadcast.Hub and fixed origins ("session"
// and "peer"). The hub is drained after every step. Traces are therefore
// identical across runs and can be compared with golden files.
//
// # Trace
//
// The trace lists, in order: state transitions, backend writes, rejected
// writes, deletes, published messages and warnings raised by peer
// messages. Timestamps are milliseconds since the session opened.
package harness
