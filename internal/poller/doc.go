// Package poller runs the periodic inventory poll for unipoll.
//
// The main components are:
//
//   - [Loop]: ticks on a fixed interval, runs at most one cycle at a time and
//     hands successful snapshots to the metrics sink
//   - [CycleResult]: outcome of one cycle
//   - [State]: Idle, Polling, Success or Failed
//   - [Clock], [Ticker]: time source, replaceable in tests
//
// Users of the unipoll library should not need to interact with this
// package directly. Configuration is done through the main unipoll package.
package poller
