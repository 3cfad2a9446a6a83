// Package telemetry defines the records produced by monitored calls and
// the wire shapes exchanged with the collector.
//
// A single item is posted as a bare JSON object. Several items are
// wrapped in a Batch:
//
//	{"batch": [{"name": "triage", "prompt": ..., "response": ..., "durationMs": 12}, ...]}
//
// Field names follow the collector's existing schema, which is why the
// captured input and output travel as "prompt" and "response" and the
// session identifier as "chatId".
package telemetry
