package engine

import (
	"github.com/roach88/keyrx/internal/ir"
	"github.com/roach88/keyrx/internal/keyindex"
)

// deviceBinding is the resolved scope of one input device.
//
// Unbound devices see global layers only. Binding is done by the host when
// a device appears, outside the hot path; lookups then read the scope with
// a single map access.
type deviceBinding struct {
	name  string
	scope *keyindex.Scope
}

// BindDevice associates a device ID with its name so that device-scoped
// layers whose pattern matches the name apply to its events.
//
// Rebinding an ID replaces its previous name. Bindings survive profile
// switches and are re-resolved against the new profile.
func (p *Processor) BindDevice(dev ir.DeviceID, name string) {
	if !p.enter("BindDevice") {
		return
	}
	defer p.leave()

	b := deviceBinding{name: name, scope: p.index.BindDevice(name)}
	p.devices[dev] = b
	p.logger.Debug("device bound",
		"device", dev,
		"name", name,
		"overrides", b.scope.Overrides(),
	)
}

// UnbindDevice drops a device's binding; its events fall back to global layers.
func (p *Processor) UnbindDevice(dev ir.DeviceID) {
	if !p.enter("UnbindDevice") {
		return
	}
	defer p.leave()
	delete(p.devices, dev)
}

// DeviceName returns the name bound to dev.
func (p *Processor) DeviceName(dev ir.DeviceID) (string, bool) {
	b, ok := p.devices[dev]
	return b.name, ok
}

// scopeOf returns the lookup scope for dev. A nil scope means global only.
func (p *Processor) scopeOf(dev ir.DeviceID) *keyindex.Scope {
	if len(p.devices) == 0 {
		return nil
	}
	return p.devices[dev].scope
}

// rebindDevices re-resolves every binding against the current index.
func (p *Processor) rebindDevices() {
	for dev, b := range p.devices {
		b.scope = p.index.BindDevice(b.name)
		p.devices[dev] = b
	}
}

// Devices returns a copy of the current device bindings.
func (p *Processor) Devices() map[ir.DeviceID]string {
	out := make(map[ir.DeviceID]string, len(p.devices))
	for dev, b := range p.devices {
		out[dev] = b.name
	}
	return out
}
