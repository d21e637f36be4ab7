// Package device holds the hardware identity types shared by the server and
// the agent: platform names and MAC address normalization.
//
// The MAC address is the durable key for a device. Agents may report it in
// any common notation; NormalizeMAC reduces every form to upper-case,
// colon-separated hex so that repeated registrations map to one record.
package device
