// Package eventbus is the in-process publish/subscribe hub that fans device
// snapshots, alert events and control actions out to independent consumers.
//
//	           Publish(topic)
//	                │
//	     ┌──────────┼──────────┐
//	     ▼          ▼          ▼
//	 [queue A]  [queue B]  [queue C]     bounded, one per subscriber
//	     │          │          │
//	 goroutine  goroutine  goroutine     recover() around every delivery
//	     │          │          │
//	 handler A  handler B  handler C
//
// When a queue is full the bus applies its OverflowPolicy: DropOldest (the
// default) or Block, which holds back the publisher.
//
// Gate tracks the SNAPSHOT_ALLOWED signal used to suppress snapshot
// processing during maintenance.
package eventbus
