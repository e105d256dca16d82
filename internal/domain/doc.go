// Package domain contains the core domain entities for rootckpt.
//
// This package represents the innermost layer of the module. It depends only
// on the codec and contains no file-system, locking, or logging concerns.
//
// # Entities
//
//   - [RunOptions]: The configuration snapshot stored once as the checkpoint header
//   - [RootResult]: One completed root candidate evaluation, appended per unit of work
//
// # Design Principles
//
// Domain entities are:
//   - Immutable once written to the checkpoint
//   - Explicit about their on-disk field order (EncodeTo/DecodeFrom list every field)
//   - Testable without mocks or external systems
package domain
