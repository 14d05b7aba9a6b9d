// Package queue implements named FIFO queues of job ids on top of a pluggable
// Backend, plus the Store that owns job records and the Registry that tracks
// which queues exist.
//
// Producers put a job into a queue with Queue.Enqueue, which writes the record
// first and then appends its id to the pending list. Workers pop ids with
// Registry.DequeueAny and load the record from the Store.
//
// Every queue lives under a namespace: the queue "emails" in namespace
// "jobq" has the internal name "jobq:emails". Several applications can share
// one backend without seeing each other's queues.
//
// Backends live in pkg/backend/*; queuetest provides the conformance suite
// every backend must pass.
package queue
