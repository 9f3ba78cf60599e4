// Package poller runs the cyclic polling engine.
//
// Every iteration the Scheduler reloads runtime settings, the register
// catalog and the utility list from the active source, then decides:
//
//   - Idle: nothing to poll, wait one second.
//   - Paused: publish the current state unchanged, wait 500 ms.
//   - FullScan: every FullScanInterval-th cycle, poll every visible utility.
//   - Incremental: poll visible utilities, skipping those whose last
//     result does not pass the current-threshold and only-errors filters.
//
// Before each device the scheduler checks for a pending reload (a filter
// change or source selection) and abandons the rest of the cycle when one
// is set. All waits are interruptible by the same signal.
//
// RefreshUtility and Reload hand a request to the loop and wait for its
// reply. The loop serves refreshes at the same checkpoints, so at most one
// device session is open at a time.
//
// Commands from HTTP, WebSocket and MQTT handlers call the exported methods
// concurrently with the loop; state is guarded by a single mutex.
package poller
