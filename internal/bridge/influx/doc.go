// Package influx records device energy readings and state changes in
// InfluxDB.
//
// Writes are non-blocking and batched by the client library; write errors
// are reported asynchronously and logged.
//
// Measurements:
//
//	emeter        tags: device_id, alias, model, type
//	              fields: power_w, voltage_v, current_a, total_kwh
//	device_state  tags: device_id, alias, model, type
//	              fields: online, power_on, in_use
package influx
