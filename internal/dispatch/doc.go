// Package dispatch turns operator job requests into stored jobs and pushes
// them to devices with a live session.
//
// A job is always written as pending before any push is attempted. When the
// device has no session the job simply stays pending; there is no
// redelivery when the device reconnects. A push error also leaves the job
// pending and is logged. Only a push that succeeds moves the job to running.
//
// CompleteJob is the other half: the gateway calls it when a device reports
// a result, and it moves the job to completed or failed.
package dispatch
