// Package influxdb records intercom telemetry in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. Three measurements
// are written, all tagged with the station ID:
//
//   - intercom_calls: one point per finished call (outcome, duration, reason)
//   - intercom_actuations: one point per door or light command
//   - intercom_registration: one point per registration state change
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	deps.Notifiers = append(deps.Notifiers, intercom.NewTelemetrySink(client))
//
// Writes are non-blocking and batched according to batch_size and
// flush_interval. Asynchronous write errors reach the SetOnError callback.
package influxdb
