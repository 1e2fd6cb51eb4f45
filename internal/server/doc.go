// Package server exposes the synthesis service over HTTP: speech
// generation, the voice catalog and uploads, queue status and saved
// outputs.
package server
