// Package store persists entity records keyed by (namespace, sort key).
//
// The Store interface is the contract the rest of the pipeline codes
// against. The SQLite implementation in this package is the default;
// package dynamostore provides the same contract on DynamoDB. Writers
// coordinate exclusively through conditional puts: a status
// compare-and-swap that fails with ErrConflict when another writer got
// there first.
package store
