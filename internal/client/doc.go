// Package client is the Go client for the fleet-server operator HTTP API.
//
// It is what fleetctl uses to list devices, approve them, change their
// status, issue device secrets and dispatch jobs:
//
//	c := client.New("http://fleet.internal:8080", client.WithToken(token))
//	res, err := c.DispatchJob(ctx, api.DispatchRequest{DeviceID: id, Command: "GetSystemInfo"})
//
// Non-2xx responses are returned as *APIError carrying the HTTP status and
// the server's error message.
package client
