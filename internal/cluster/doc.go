// Package cluster runs several synthesis instances side by side and puts a
// round-robin dispatcher in front of them.
//
// A Supervisor starts the instances one after another on consecutive ports,
// watches them for unexpected exits and stops them on shutdown. A
// Dispatcher forwards each incoming request to the next backend in turn.
// A Lifecycle shuts registered components down in reverse order, so the
// dispatcher stops accepting traffic before any instance is signalled.
package cluster
