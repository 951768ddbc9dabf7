// Package storage provides the SQLite-backed record store for assessments,
// questions and evaluations, with versioned schema migrations and a lazily
// opened, single-flight storage handle.
package storage
