// Package bridge keeps the controller's state flowing to the rest of the
// system and carries commands back.
//
// A Poller refreshes the report on a fixed interval and fans each snapshot
// out to ReportSinks (the MQTT Bridge, InfluxDB, Prometheus, the WebSocket
// hub). The Bridge publishes those snapshots to MQTT, executes commands it
// receives on atagone/command/{device}, acknowledges them on
// atagone/ack/{device}, and reports its own health on atagone/health/{id}.
//
//	poller := bridge.NewPoller(dev, bridge.PollerOptions{Interval: 30 * time.Second})
//	b, err := bridge.New(bridge.Options{Device: dev, MQTT: client, Refresher: poller})
//	poller.AddSink(b)
//	go poller.Run(ctx)
//	b.Start(ctx)
//	defer b.Stop()
//
// Command payload:
//
//	{"id": "c-1", "command": "set_target_temperature", "parameters": {"value": 21.5}}
//	{"command": "update_control", "parameters": {"control": {"ch_mode_temp": 21.5}}}
package bridge
