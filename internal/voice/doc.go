// Package voice manages reference audio assets: the on-disk stores for
// presets and personas, the resolver that turns a (voice, emotion) pair into
// a concrete asset through an ordered fallback chain, the catalog served to
// clients, and voice uploads.
package voice
