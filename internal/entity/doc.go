// Package entity defines the domain records stored by the pipeline:
// raw inbound messages and the entities derived from them (tasks,
// todos, reminders).
//
// All records share a two-part key. The partition key is the namespace
// (the owning user); the sort key is prefixed with the item type so one
// physical store holds heterogeneous records while supporting range
// queries per type:
//
//	message#{timestamp}#{message_id}
//	task#{task_id}
//	todo#{todo_id}
//	reminder#{reminder_id}
//
// A secondary index keyed by (category-or-status, timestamp) supports
// cross-type queries without scanning. Each model decides its own index
// keys; records that don't need index coverage leave them unset.
//
// New entity types are added by defining a new sort-key prefix. No
// schema migration is required.
package entity
