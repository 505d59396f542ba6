// Package audit mirrors committed audit records to a streaming sink.
//
// The durable audit trail lives in the store and is written inside the
// transaction of the action it describes. This package only relays a copy
// of each committed record, asynchronously, to a [Sink] such as a zap
// logger or a JSON line writer. Losing a mirrored event never affects the
// stored record.
package audit
