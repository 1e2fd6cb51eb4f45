// Package queue implements the admission queue that gates synthesis requests.
// It keeps a bounded, insertion-ordered set of in-flight request ids, reports
// each request's position, and tracks which request currently holds the
// compute resource.
package queue
