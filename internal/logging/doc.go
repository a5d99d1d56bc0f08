// Package logging provides the structured logger for triaged.
//
// It wraps zap with context-aware methods that attach correlation fields
// (trace/span ids, request id, email id, sync cycle) to every entry, adds
// a trace level below debug, and redacts sensitive values at the encoder:
// API keys and tokens always, email bodies and snippets unless explicitly
// opted in. Email content is treated as sensitive by default because logs
// routinely outlive the mailbox permissions they were read under.
package logging
