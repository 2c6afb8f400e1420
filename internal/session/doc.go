// Package session provides the durable per-conversation context store.
//
// Each session is one JSON file named after its sanitized id. Reads are
// self-healing: a missing or corrupt file yields a fresh default record.
// Updates merge additively (maps shallow-merge, lists append) and are
// persisted with an atomic replace before the merged record is returned.
package session
