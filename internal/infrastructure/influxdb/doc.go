// Package influxdb writes controller reports to InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. Each report becomes
// one point in the configured measurement, tagged with the device id and
// carrying every numeric report field, so the time series keeps up with
// firmware that adds fields.
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.WriteReport(ctx, deviceID, reply.Report, time.Now())
package influxdb
