// Package gomidi feeds controller input into a session broker using
// gitlab.com/gomidi/midi/v2 with the rtmidi driver. A missing driver or
// device is non-fatal: scoring and touch-driven audio keep working, only
// controller events stop arriving.
package gomidi

import (
	"errors"
	"fmt"
	"strings"

	"github.com/quaverlab/etude"
	"github.com/quaverlab/etude/clock"
	"github.com/quaverlab/etude/session"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)

type (
	RTMIDIContext struct {
		driver             *rtmididrv.Driver
		currentIn          drivers.In
		inputDevices       []RTMIDIDevice
		devicesInitialized bool
		broker             *session.Broker
	}

	RTMIDIDevice struct {
		context *RTMIDIContext
		in      drivers.In
	}
)

// NewContext opens the rtmidi driver. There is not much we can do if this
// fails, so driver == nil just means no MIDI available.
func NewContext(broker *session.Broker) *RTMIDIContext {
	m := RTMIDIContext{broker: broker}
	m.driver, _ = rtmididrv.New()
	return &m
}

func (m *RTMIDIContext) InputDevices(yield func(RTMIDIDevice) bool) {
	if m.devicesInitialized {
		for _, device := range m.inputDevices {
			if !yield(device) {
				break
			}
		}
		return
	}
	if m.driver == nil {
		return
	}
	ins, err := m.driver.Ins()
	if err != nil {
		return
	}
	for i := 0; i < len(ins); i++ {
		device := RTMIDIDevice{context: m, in: ins[i]}
		m.inputDevices = append(m.inputDevices, device)
		if !yield(device) {
			break
		}
	}
	m.devicesInitialized = true
}

// TryToOpenBy opens the first input device whose name starts with
// namePrefix, or just the first device when takeFirst is set.
func (m *RTMIDIContext) TryToOpenBy(namePrefix string, takeFirst bool) error {
	if namePrefix == "" && !takeFirst {
		return nil
	}
	var opened bool
	m.InputDevices(func(device RTMIDIDevice) bool {
		if takeFirst || strings.HasPrefix(device.String(), namePrefix) {
			opened = device.Open() == nil
			return false
		}
		return true
	})
	if !opened {
		return fmt.Errorf("could not find a MIDI input matching %q", namePrefix)
	}
	return nil
}

// Open an input device, closing the currently open one if necessary.
func (d RTMIDIDevice) Open() error {
	m := d.context
	if m.currentIn == d.in {
		return nil
	}
	if m.driver == nil {
		return errors.New("no driver available")
	}
	if m.HasDeviceOpen() {
		m.currentIn.Close()
	}
	m.currentIn = d.in
	if err := d.in.Open(); err != nil {
		m.currentIn = nil
		return fmt.Errorf("opening MIDI input failed: %w", err)
	}
	if _, err := midi.ListenTo(d.in, m.HandleMessage); err != nil {
		d.in.Close()
		m.currentIn = nil
		return fmt.Errorf("listening to MIDI input failed: %w", err)
	}
	return nil
}

func (d RTMIDIDevice) String() string {
	return d.in.String()
}

// HandleMessage translates note messages into input events for the
// coordinator. The timestamp is taken from the shared monotonic clock, the
// same domain the beat clock runs on; controller events carry no latency
// compensation. If the coordinator channel is full the event is dropped.
func (m *RTMIDIContext) HandleMessage(msg midi.Message, timestampms int32) {
	var channel, key, velocity uint8
	isNoteOn := msg.GetNoteOn(&channel, &key, &velocity)
	isNoteOff := !isNoteOn && msg.GetNoteOff(&channel, &key, &velocity)
	if !isNoteOn && !isNoteOff {
		return
	}
	kind := etude.NoteOn
	if isNoteOff {
		kind = etude.NoteOff
	}
	session.TrySend[any](m.broker.ToCoordinator, session.InputEventMsg{Event: etude.PlayedNoteEvent{
		Kind:        kind,
		Pitch:       int(key),
		Velocity:    float64(velocity) / 127,
		TimestampMs: clock.NowMs(),
		Source:      etude.SourceController,
	}})
}

func (m *RTMIDIContext) HasDeviceOpen() bool {
	return m.currentIn != nil && m.currentIn.IsOpen()
}

func (m *RTMIDIContext) Close() {
	if m.driver == nil {
		return
	}
	if m.currentIn != nil && m.currentIn.IsOpen() {
		m.currentIn.Close()
	}
	m.driver.Close()
}
