// Package discovery finds plugs and bulbs on the local network and tracks
// whether they are still there.
//
// The engine binds one UDP socket and, every Interval, broadcasts an
// encrypted system.get_sysinfo probe (optionally batched with an emeter
// read) to the broadcast address and to any static devices. Replies are
// decrypted, filtered and merged into a registry keyed by device id. Power
// strips are broken out into one device per outlet.
//
// # Usage Example
//
//	c := client.New(client.Options{})
//	d, err := discovery.New(c, discovery.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	d.On("device-new", func(e discovery.Event) {
//	    fmt.Println("found", e.Snapshot.Alias, e.Snapshot.Host)
//	})
//	if err := d.Start(ctx); err != nil {
//	    return err
//	}
//	defer d.Stop()
//
// # Liveness
//
// Every round increments a sequence counter and every reply stamps the
// device with the current value. Before each broadcast, devices that have
// missed OfflineTolerance rounds are marked offline and one offline event is
// emitted. The next reply brings them back with an online event.
//
// # Events
//
// Device events (new, online, offline) fire twice: with the device kind as
// prefix and with "device-". The error and discovery-invalid events are not
// prefixed. Socket errors stop the engine; it can be started again.
//
// # Network Requirements
//
// - Devices must be reachable by UDP broadcast on port 9999, or listed as
//   static devices
// - Firewall must allow replies to the bound port
package discovery
