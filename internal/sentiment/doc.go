// Package sentiment picks an emotion label for a piece of text by asking an
// OpenAI-compatible chat completion endpoint. Every failure degrades to the
// "default" label.
package sentiment
