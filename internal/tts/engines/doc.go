// Package engines contains the synthesis engines behind tts.Synthesizer: a
// mock engine that produces silence, and a command engine that runs an
// external inference program once per call.
package engines
