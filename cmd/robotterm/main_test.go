package main

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	dbus "github.com/godbus/dbus/v5"

	"robotterm/internal/directory"
	"robotterm/internal/uart"
)

func TestExitMessagesAreDistinct(t *testing.T) {
	failures := []error{
		fmt.Errorf("wrapped: %w", directory.ErrUnavailable),
		fmt.Errorf("%w: %q", uart.ErrDeviceNotFound, "BBC micro:bit"),
		fmt.Errorf("%w: AA:BB", uart.ErrConnectTimeout),
		fmt.Errorf("%w: AA:BB", uart.ErrConnectRefused),
	}

	seen := make(map[string]error)
	for _, err := range failures {
		msg := exitMessage(err)
		if msg == "" {
			t.Errorf("exitMessage(%v) is empty", err)
		}
		if prev, ok := seen[msg]; ok {
			t.Errorf("exitMessage for %v and %v are identical: %q", err, prev, msg)
		}
		seen[msg] = err
	}
}

func TestExitMessagePassesThroughUnknownErrors(t *testing.T) {
	err := errors.New("something else entirely")
	if got := exitMessage(err); got != err.Error() {
		t.Errorf("exitMessage() = %q, want the error text unchanged", got)
	}
}

type stubObjectManager struct {
	objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	err     error
}

func (s *stubObjectManager) ManagedObjects() (map[dbus.ObjectPath]map[string]map[string]dbus.Variant, error) {
	return s.objects, s.err
}

func TestListPaired(t *testing.T) {
	dir := directory.New(&stubObjectManager{
		objects: map[dbus.ObjectPath]map[string]map[string]dbus.Variant{
			"/org/bluez/hci0/dev_AA": {
				"org.bluez.Device1": {
					"Alias":   dbus.MakeVariant("BBC micro:bit"),
					"Address": dbus.MakeVariant("AA:AA:AA:AA:AA:AA"),
					"Paired":  dbus.MakeVariant(true),
				},
			},
		},
	})

	var out bytes.Buffer
	if err := listPaired(&out, dir); err != nil {
		t.Fatalf("listPaired() error = %v", err)
	}
	if !strings.Contains(out.String(), "BBC micro:bit [AA:AA:AA:AA:AA:AA]") {
		t.Errorf("listing %q missing alias and address", out.String())
	}
}

func TestListPairedEmpty(t *testing.T) {
	dir := directory.New(&stubObjectManager{
		objects: map[dbus.ObjectPath]map[string]map[string]dbus.Variant{},
	})

	var out bytes.Buffer
	if err := listPaired(&out, dir); err != nil {
		t.Fatalf("listPaired() error = %v", err)
	}
	if !strings.Contains(out.String(), "No paired devices") {
		t.Errorf("listing %q should note there is nothing paired", out.String())
	}
}

func TestListPairedUnavailable(t *testing.T) {
	dir := directory.New(&stubObjectManager{err: errors.New("dbus: connection refused")})

	var out bytes.Buffer
	err := listPaired(&out, dir)
	if !errors.Is(err, directory.ErrUnavailable) {
		t.Errorf("listPaired() error = %v, want ErrUnavailable", err)
	}
}
