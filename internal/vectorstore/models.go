package vectorstore

// Metadata keys shared by the index writers (the feedback loop) and readers
// (the retriever). Values are plain strings in both backends; chromem only
// persists string metadata, so strings are the common contract.
const (
	// MetaDecisionID is the latest live decision record id for the entry.
	// Corrections re-upsert the entry with the superseding id.
	MetaDecisionID = "decision_id"

	// MetaVerdict is the decision verdict, "keep" or "discard".
	MetaVerdict = "verdict"

	// MetaReceivedAt is the email arrival time in RFC 3339, used by the
	// retriever to break similarity ties toward recent decisions.
	MetaReceivedAt = "received_at"
)

// Document is one preference index entry: the scrubbed text of a decided
// email, its embedding, and the decision metadata retrieval needs.
type Document struct {
	// ID is the email id. Upserting the same id replaces the entry.
	ID string

	// Text is the scrubbed email text the vector was computed from.
	Text string

	// Vector is the embedding. Its length must match the configured
	// vector size.
	Vector []float32

	// Metadata carries decision_id, verdict and received_at.
	Metadata map[string]string
}

// SearchResult is a query hit.
type SearchResult struct {
	ID       string
	Text     string
	Metadata map[string]string

	// Score is the cosine similarity, higher is more similar.
	Score float32
}
