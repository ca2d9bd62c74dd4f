// Package device is the public façade of the MediaRemote client: connection
// lifecycle, pairing entry points, key commands, and event subscription.
package device

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"mediaremote/models"
	"mediaremote/network"
	"mediaremote/pairing"
	"mediaremote/protocol"
)

const (
	// DefaultPollInterval is the now-playing poll period while at least one
	// nowPlaying or supportedCommands subscriber exists.
	DefaultPollInterval = 5 * time.Second
	// keyHoldDelay separates press and release for hold keys.
	keyHoldDelay = time.Second

	defaultName = "mediaremote"
)

var (
	// ErrNotConnected indicates an operation that needs an open connection.
	ErrNotConnected = errors.New("device: not connected")
	// ErrUnknownKey indicates an unrecognized key name.
	ErrUnknownKey = errors.New("device: unknown key")
)

// Options configures a Device.
type Options struct {
	// PairingID is the stable client identity advertised in the
	// introduction and used as the pair-setup identifier. Required.
	PairingID string
	// Name is the client name shown on the device. Defaults to "mediaremote".
	Name string

	DialTimeout     time.Duration
	ResponseTimeout time.Duration
	PollInterval    time.Duration
}

func (o Options) withDefaults() Options {
	out := o
	if out.Name == "" {
		out.Name = defaultName
	}
	if out.PollInterval <= 0 {
		out.PollInterval = DefaultPollInterval
	}
	return out
}

// Device drives one Apple TV over the MediaRemote protocol.
type Device struct {
	address string
	port    int
	opts    Options
	bus     *eventBus

	mu         sync.Mutex
	conn       *network.Connection
	deviceInfo *protocol.DeviceInfoMessage
	pollStop   chan struct{}
}

// New creates a Device for the given address and port, typically taken from
// a discovery service record.
func New(address string, port int, opts Options) *Device {
	d := &Device{
		address: address,
		port:    port,
		opts:    opts.withDefaults(),
	}
	d.bus = newEventBus(d.updatePolling)
	return d
}

// On subscribes a handler to one event type and returns an unsubscribe
// function. Subscribing to nowPlaying or supportedCommands starts the
// now-playing poll timer; unsubscribing the last such handler stops it.
func (d *Device) On(eventType string, handler EventHandler) func() {
	return d.bus.on(eventType, handler)
}

// Connect dials the device and exchanges the plaintext introduction. The
// device's own introduction is retained and queryable via Info.
func (d *Device) Connect(ctx context.Context) error {
	conn := d.connection()
	if conn != nil {
		return nil
	}

	conn, err := network.Dial(d.address, d.port, network.Options{
		DialTimeout:     d.opts.DialTimeout,
		ResponseTimeout: d.opts.ResponseTimeout,
		Handlers: network.Handlers{
			OnMessage: d.handleMessage,
			OnClose:   d.handleClose,
			OnDebug: func(s string) {
				d.bus.emit(Event{Type: EventDebug, Data: s})
			},
		},
	})
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.conn = conn
	d.mu.Unlock()
	d.bus.emit(Event{Type: EventConnect})

	resp, err := conn.SendAndWait(ctx, protocol.NewMessage(d.introMessage()))
	if err != nil {
		_ = conn.Close()
		return err
	}
	if info, ok := resp.Payload.(*protocol.DeviceInfoMessage); ok {
		d.mu.Lock()
		d.deviceInfo = info
		d.mu.Unlock()
	}
	return nil
}

// Pair starts a pair-setup exchange. The returned Setup is suspended until
// the caller supplies the on-screen PIN via EnterPIN.
func (d *Device) Pair(ctx context.Context) (*pairing.Setup, error) {
	conn := d.connection()
	if conn == nil {
		return nil, ErrNotConnected
	}
	return pairing.StartSetup(ctx, conn, d.opts.PairingID)
}

// Verify runs pair-verify with stored credentials, switches the transport
// into encrypted mode, and subscribes to device updates.
func (d *Device) Verify(ctx context.Context, creds models.Credentials) error {
	conn := d.connection()
	if conn == nil {
		return ErrNotConnected
	}

	cipher, err := pairing.Verify(ctx, conn, creds)
	if err != nil {
		_ = conn.Close()
		return err
	}
	conn.EnableEncryption(cipher)

	err = conn.Send(protocol.NewMessage(&protocol.SetConnectionStateMessage{
		State: protocol.ConnectionStateConnected,
	}))
	if err != nil {
		return err
	}
	return conn.Send(protocol.NewMessage(&protocol.ClientUpdatesConfigMessage{
		ArtworkUpdates:    true,
		NowPlayingUpdates: true,
		VolumeUpdates:     true,
		KeyboardUpdates:   true,
	}))
}

// Open is the full connect-and-verify sequence for a device with stored
// credentials.
func (d *Device) Open(ctx context.Context, creds models.Credentials) error {
	if err := d.Connect(ctx); err != nil {
		return err
	}
	return d.Verify(ctx, creds)
}

// Info returns the device's introduction message, if received.
func (d *Device) Info() *protocol.DeviceInfoMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.deviceInfo
}

// SendKeyCommand sends a press-and-release pair of HID events for one key.
// Hold keys wait one second between press and release.
func (d *Device) SendKeyCommand(ctx context.Context, key Key) error {
	usage, ok := keyUsages[key]
	if !ok {
		return ErrUnknownKey
	}
	conn := d.connection()
	if conn == nil {
		return ErrNotConnected
	}

	err := conn.Send(protocol.NewMessage(&protocol.SendHIDEventMessage{
		HIDEventData: hidEventData(usage.page, usage.usage, true),
	}))
	if err != nil {
		return err
	}

	if usage.hold {
		select {
		case <-time.After(keyHoldDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return conn.Send(protocol.NewMessage(&protocol.SendHIDEventMessage{
		HIDEventData: hidEventData(usage.page, usage.usage, false),
	}))
}

// SendKeyCommandNamed resolves a key by name and sends it.
func (d *Device) SendKeyCommandNamed(ctx context.Context, name string) error {
	key, err := ParseKey(name)
	if err != nil {
		return err
	}
	return d.SendKeyCommand(ctx, key)
}

// MessageOfType waits for the next inbound message of the given type.
func (d *Device) MessageOfType(ctx context.Context, t protocol.Type, timeout time.Duration) (*protocol.Message, error) {
	conn := d.connection()
	if conn == nil {
		return nil, ErrNotConnected
	}
	return conn.MessageOfType(ctx, t, timeout)
}

// Close terminates the connection, stops polling, and rejects all waiters.
func (d *Device) Close() error {
	d.mu.Lock()
	conn := d.conn
	d.conn = nil
	stop := d.pollStop
	d.pollStop = nil
	d.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (d *Device) connection() *network.Connection {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conn
}

// introMessage is the plaintext introduction. Its field set is part of the
// compatibility contract with the device.
func (d *Device) introMessage() *protocol.DeviceInfoMessage {
	return &protocol.DeviceInfoMessage{
		UniqueIdentifier:            d.opts.PairingID,
		Name:                        d.opts.Name,
		LocalizedModelName:          "iPhone",
		SystemBuildVersion:          "14G60",
		ApplicationBundleIdentifier: "com.apple.TVRemote",
		ProtocolVersion:             1,
		SupportsSystemPairing:       true,
		AllowsPairing:               true,
		SupportsACL:                 true,
		SupportsSharedQueue:         true,
		SupportsExtendedMotion:      true,
		SharedQueueVersion:          2,
	}
}

func (d *Device) handleMessage(msg *protocol.Message) {
	d.bus.emit(Event{Type: EventMessage, Data: msg})

	if state, ok := msg.Payload.(*protocol.SetStateMessage); ok {
		d.fanOutSetState(state)
	}
}

// fanOutSetState emits the typed events a set-state message carries. An
// empty message means playback stopped and emits exactly one nil
// nowPlaying event.
func (d *Device) fanOutSetState(state *protocol.SetStateMessage) {
	emitted := false
	if state.NowPlaying != nil {
		d.bus.emit(Event{Type: EventNowPlaying, Data: state.NowPlaying})
		emitted = true
	}
	if state.SupportedCommands != nil {
		d.bus.emit(Event{Type: EventSupportedCommands, Data: state.SupportedCommands})
		emitted = true
	}
	if state.PlaybackQueue != nil {
		d.bus.emit(Event{Type: EventPlaybackQueue, Data: state.PlaybackQueue})
		emitted = true
	}
	if !emitted {
		d.bus.emit(Event{Type: EventNowPlaying, Data: (*models.NowPlayingInfo)(nil)})
	}
}

func (d *Device) handleClose(err error) {
	d.mu.Lock()
	d.conn = nil
	stop := d.pollStop
	d.pollStop = nil
	d.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	if err != nil {
		d.bus.emit(Event{Type: EventError, Data: err})
	}
	d.bus.emit(Event{Type: EventClose})
}

// updatePolling reconciles the poll timer with the subscriber count for the
// now-playing event types.
func (d *Device) updatePolling() {
	subscribers := d.bus.count(EventNowPlaying, EventSupportedCommands)

	d.mu.Lock()
	defer d.mu.Unlock()

	if subscribers > 0 && d.pollStop == nil {
		stop := make(chan struct{})
		d.pollStop = stop
		go d.pollLoop(stop)
	}
	if subscribers == 0 && d.pollStop != nil {
		close(d.pollStop)
		d.pollStop = nil
	}
}

func (d *Device) pollLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			d.requestPlaybackQueue()
		}
	}
}

func (d *Device) requestPlaybackQueue() {
	conn := d.connection()
	if conn == nil {
		return
	}
	_ = conn.Send(protocol.NewMessage(&protocol.PlaybackQueueRequestMessage{
		Location:      0,
		Length:        100,
		ArtworkWidth:  -1,
		ArtworkHeight: 368,
		RequestID:     uuid.NewString(),
	}))
}
