// Package tts is the request pipeline in front of the synthesis engine:
// the request lifecycle controller, the exclusive executor that serializes
// access to the compute resource, and the error taxonomy shared with the
// HTTP layer.
package tts
