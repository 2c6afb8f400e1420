// Package extraction turns conversation history into candidate knowledge
// facts.
//
// Extraction is a pure function over a session.ContextRecord snapshot: it
// walks consecutive (user, response) turns, runs a data-driven table of
// bilingual indicator patterns per fact family, and emits deduplicated
// CandidateFacts carrying the family's static confidence. Nothing is
// persisted here; callers hand the facts to the validation queue.
//
// New languages or indicators are added to DefaultFamilies (or a custom
// table passed to NewExtractor) without touching the matching logic.
package extraction
