// Package enroll implements device registration.
//
// A device is keyed by its normalized MAC address. The first registration
// creates an unapproved device; later registrations refresh hostname,
// platform, OS version, IP address and last-seen. The device id and the
// approval flag never change through registration. A token is issued only
// to approved devices that are not blocked.
package enroll
