// Package domain defines the core domain models for keepstore.
//
// Domain models are pure value objects without any IO dependencies or
// framework coupling. This package contains:
//
//   - Employee: the record type held by the record store
//   - EmployeePatch: partial updates with pointer fields
//   - Errors: KS-* coded domain errors shared by every layer
package domain
