// Package atagone locates and talks to an Atag One heating controller.
//
// The controller announces itself on the local network with UDP broadcasts
// and exposes a small JSON-over-HTTP interface on port 10000. This package
// keeps track of where the controller currently lives and wraps the two
// request shapes the rest of the system needs: retrieving a report and
// updating a control value.
//
// # Architecture
//
//	┌──────────────┐  ONE ...   ┌──────────────┐  endpoint  ┌──────────────┐
//	│  Atag One    │──udp:11000►│   Listener   │───────────►│    Device    │
//	│  controller  │            └──────────────┘            │   (facade)   │
//	│              │◄──────────── POST :10000 ──────────────│ Client+Cache │
//	└──────────────┘                                        └──────────────┘
//
// The Device owns the current endpoint. The Listener swaps it when an
// announcement arrives from a new address; the Client reads it on every call.
// Report reads go through a ReportCache so a burst of readers shares a single
// request.
//
// # Example
//
//	dev, err := atagone.New(ctx, atagone.Options{
//	    Store:           atagone.NewFileStore("device-config.json"),
//	    PersistEndpoint: true,
//	})
//	if err != nil {
//	    return err
//	}
//	if err := dev.StartDiscovery(onChange, onError); err != nil {
//	    return err
//	}
//	defer dev.StopDiscovery()
//
//	reply, err := dev.GetReport(ctx)
//
// # Thread Safety
//
// Device, Listener, Client and ReportCache are safe for concurrent use.
package atagone
