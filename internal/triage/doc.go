// Package triage defines the core domain model for email triage:
// email records, append-only decision records, the verdict and status
// vocabularies, and the shared error taxonomy used across the pipeline.
package triage
