// Package engine routes participant events through the session engine.
//
// Event Processing Flow:
//  1. Resolve the room from the envelope or the sender's session
//  2. Decode and validate the payload against its action type; a payload
//     that fails is still logged and relayed as received
//  3. Guard deck setup to once per participant
//  4. Slim the payload and append it to the log (seq assigned in one tx)
//  5. Mirror the seq into the registry and evaluate the snapshot policy
//  6. On trigger, send requestBoardState to every participant of the room
//  7. On a snapshot answer (boardState with seq), checkpoint the folded
//     two-zone state at that seq, idempotently
//  8. Relay the event verbatim to the other participant
//
// ERROR HANDLING: a storage failure is logged and the relay and trigger for
// that event are skipped. Nothing is retried. Room lookup failures are the
// only errors surfaced to the sender as explicit responses.
//
// Handlers run on the caller's goroutine, one per connection. Ordering
// within a session comes from the store's sequence assignment.
package engine
