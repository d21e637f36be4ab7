// Package events publishes device presence and job lifecycle changes.
//
// When events.nats_url is configured, fleet-server publishes JSON events on
// core NATS subjects:
//
//	fleet.devices.online
//	fleet.devices.offline
//	fleet.jobs.<status>
//
// Publishing is best effort. A failed publish is logged by the caller and
// never affects dispatch or result handling.
package events
