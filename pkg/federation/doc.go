// Package federation implements the SpaceComms gossip layer.
//
// Inbound envelopes pass through the Processor, which drops stale and
// already-seen messages before asking the Router for a decision, applies
// the payload to storage, marks the message seen and hands a hop-incremented
// copy to the Dispatcher for every eligible peer. The Dispatcher delivers
// over HTTP or gRPC with exponential backoff. The Sweeper and Heartbeater
// keep peer session state current.
package federation
