// Package outputs persists generated audio under caller-chosen names.
//
// Blobs larger than a kilobyte are zstd-compressed on disk when that saves
// space. The store keeps an index of sizes and access times and evicts the
// least recently used blobs once its capacity is reached.
package outputs
