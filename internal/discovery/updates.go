package discovery

import (
	"sync"

	"github.com/muurk/smartplug/internal/client"
)

// Update is a lifecycle or device state event in one stream, for consumers
// such as the event server and the bridges.
type Update struct {
	Name     string // e.g. "new", "offline", "power-on", "emeter-realtime-update"
	Device   *client.Device
	Snapshot client.Snapshot
}

var deviceEvents = []string{
	client.EventPowerOn,
	client.EventPowerOff,
	client.EventInUse,
	client.EventNotInUse,
	client.EventAliasChange,
	client.EventEmeterUpdate,
}

// OnUpdate calls fn for every new/online/offline event and for the state
// events of every device discovery tracks, including devices found later.
// power-update is left out since it fires on every reply.
func (d *Discovery) OnUpdate(fn func(Update)) (cancel func()) {
	var (
		mu       sync.Mutex
		cancels  []func()
		attached = make(map[*client.Device]bool)
		stopped  bool
	)

	attach := func(dev *client.Device) {
		mu.Lock()
		defer mu.Unlock()
		if stopped || attached[dev] {
			return
		}
		attached[dev] = true
		for _, name := range deviceEvents {
			cancels = append(cancels, dev.On(string(client.KindDevice)+"-"+name, func(e client.Event) {
				fn(Update{Name: e.Name, Device: e.Device, Snapshot: e.Snapshot})
			}))
		}
	}

	forward := func(e Event) {
		fn(Update{Name: e.Name, Device: e.Device, Snapshot: e.Snapshot})
	}

	mu.Lock()
	cancels = append(cancels,
		d.On(string(client.KindDevice)+"-"+EventNew, func(e Event) {
			attach(e.Device)
			forward(e)
		}),
		d.On(string(client.KindDevice)+"-"+EventOnline, forward),
		d.On(string(client.KindDevice)+"-"+EventOffline, forward),
	)
	mu.Unlock()

	for _, dev := range d.Devices() {
		attach(dev)
	}

	return func() {
		mu.Lock()
		defer mu.Unlock()
		stopped = true
		for _, c := range cancels {
			c()
		}
		cancels = nil
	}
}
