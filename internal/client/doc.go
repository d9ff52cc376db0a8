// Package client is the high-level API for talking to plugs and bulbs.
//
// A Client holds default send options and sends one-off requests over
// transient connections. A Device wraps one physical device (or one outlet
// of a power strip) with its own per-transport connections, cached sysinfo,
// kind-specific state and event handlers.
//
// # Usage Example
//
//	c := client.New(client.Options{})
//	dev, err := c.GetDevice(ctx, client.SendOptions{Host: "192.168.1.40"}, client.DeviceOptions{})
//	if err != nil {
//	    return err
//	}
//	defer dev.Close()
//
//	dev.On("plug-power-on", func(e client.Event) {
//	    fmt.Println(e.Snapshot.Alias, "switched on")
//	})
//	err = dev.SetPowerState(ctx, true, client.SendOptions{})
//
// # Device State
//
// Updates are split into two steps. ApplySysInfo and ApplyEmeter store new
// data and return a Changeset; Notify turns a Changeset into events. Events
// fire twice, once with the device kind as prefix and once with "device-".
//
// # Kinds
//
// ClassifyKind maps the sysinfo type (or mic_type) to plug, bulb or device.
// Devices of the generic kind use plug module names.
package client
