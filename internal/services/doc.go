// Package services builds the opsloop stores and workers from
// configuration and exposes them through one Registry.
//
// Both the CLI and the daemon construct a Registry with New; every store
// directory lives under the configured data directory.
package services
