// Package directory enumerates Bluetooth devices already paired with the
// host, by querying BlueZ over the system D-Bus. It is a read-only
// lookup: pairing itself is a manual step (press the button on the
// robot) that no code here can automate.
package directory

import (
	"errors"
	"fmt"
	"sort"

	dbus "github.com/godbus/dbus/v5"
)

const (
	bluezService    = "org.bluez"
	deviceIface     = "org.bluez.Device1"
	objManagerIface = "org.freedesktop.DBus.ObjectManager"
)

// ErrUnavailable indicates the host Bluetooth subsystem cannot be
// queried: no system bus, bluetoothd not running, or access denied.
var ErrUnavailable = errors.New("directory: bluetooth subsystem unavailable")

// Device is an immutable snapshot of one paired device from a single
// enumeration call.
type Device struct {
	Alias   string // display name shown to the operator
	Address string // Bluetooth device address
	Path    string // BlueZ Device1 object path, the disambiguating identifier
}

// ObjectManager is the slice of the BlueZ D-Bus surface the directory
// needs. Injected so tests can substitute a stub for the system bus.
type ObjectManager interface {
	// ManagedObjects returns every object BlueZ exports, keyed by path,
	// with per-interface property maps.
	ManagedObjects() (map[dbus.ObjectPath]map[string]map[string]dbus.Variant, error)
}

// Directory lists paired devices known to the host.
type Directory struct {
	om ObjectManager
}

// New creates a Directory backed by the given ObjectManager.
func New(om ObjectManager) *Directory {
	return &Directory{om: om}
}

// System creates a Directory backed by BlueZ on the system bus. Fails
// with ErrUnavailable when the bus cannot be reached or org.bluez is
// not on it.
func System() (*Directory, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("%w: connect system bus: %v", ErrUnavailable, err)
	}

	// Quick check that BlueZ is actually on the bus, so the operator
	// gets "is bluetooth.service running?" instead of a method-call error.
	var names []string
	if err := conn.BusObject().Call("org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
		return nil, fmt.Errorf("%w: list bus names: %v", ErrUnavailable, err)
	}
	found := false
	for _, n := range names {
		if n == bluezService {
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: org.bluez not on system bus, is bluetooth.service running?", ErrUnavailable)
	}

	return New(&busObjectManager{conn: conn}), nil
}

// ListPaired returns one Device per paired Bluetooth device known to
// the host. The result is a finite snapshot sorted by alias for a
// stable listing; ordering carries no other meaning. Fails with
// ErrUnavailable when BlueZ cannot be queried.
func (d *Directory) ListPaired() ([]Device, error) {
	objects, err := d.om.ManagedObjects()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var devices []Device
	for path, ifaces := range objects {
		props, ok := ifaces[deviceIface]
		if !ok {
			continue
		}
		if paired, _ := boolProp(props, "Paired"); !paired {
			continue
		}
		dev := Device{
			Alias:   stringProp(props, "Alias"),
			Address: stringProp(props, "Address"),
			Path:    string(path),
		}
		if dev.Alias == "" {
			dev.Alias = dev.Address
		}
		devices = append(devices, dev)
	}

	sort.Slice(devices, func(i, j int) bool {
		if devices[i].Alias != devices[j].Alias {
			return devices[i].Alias < devices[j].Alias
		}
		return devices[i].Address < devices[j].Address
	})
	return devices, nil
}

// Find returns every paired device whose alias matches name, preserving
// the order of devices. Callers treat the first match as authoritative
// and should warn the operator when more than one is returned.
func Find(devices []Device, name string) []Device {
	var matches []Device
	for _, d := range devices {
		if d.Alias == name {
			matches = append(matches, d)
		}
	}
	return matches
}

func boolProp(props map[string]dbus.Variant, name string) (bool, bool) {
	v, ok := props[name]
	if !ok {
		return false, false
	}
	b, ok := v.Value().(bool)
	return b, ok
}

func stringProp(props map[string]dbus.Variant, name string) string {
	v, ok := props[name]
	if !ok {
		return ""
	}
	s, _ := v.Value().(string)
	return s
}

// busObjectManager calls GetManagedObjects on the real BlueZ root object.
type busObjectManager struct {
	conn *dbus.Conn
}

func (b *busObjectManager) ManagedObjects() (map[dbus.ObjectPath]map[string]map[string]dbus.Variant, error) {
	obj := b.conn.Object(bluezService, dbus.ObjectPath("/"))
	var objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	if err := obj.Call(objManagerIface+".GetManagedObjects", 0).Store(&objects); err != nil {
		return nil, fmt.Errorf("GetManagedObjects: %w", err)
	}
	return objects, nil
}
