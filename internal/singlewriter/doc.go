// Package singlewriter provides a generic single-consumer queue.
//
// It replaces "marshal this call onto the owning event loop" patterns with
// message passing: producers enqueue from any goroutine, one dedicated
// consumer goroutine applies every item in global enqueue order. State
// owned by the consume function needs no locking.
//
// The alert pipeline and the broadcaster are both built on this queue.
//
// # Usage
//
//	q := singlewriter.New[string]()
//	q.Start(ctx, func(s string) { fmt.Println(s) })
//	defer q.Stop()
//
//	if err := q.Enqueue("hello"); err != nil {
//	    // ErrNotStarted or ErrStopped; both are shutdown-path errors.
//	}
package singlewriter
