package main

import "time"

const (
	// txQueueSize is the capacity of the adapter transmit queue. It sits in
	// front of the 20 hardware transfer contexts and absorbs bursts while
	// the pool is exhausted.
	txQueueSize = 1024

	// Backoff window for the SocketCAN mirror read loop.
	rxBackoffMin = 20 * time.Millisecond
	rxBackoffMax = 500 * time.Millisecond
)

// sleepFn allows tests to intercept backoff sleeps.
var sleepFn = time.Sleep
