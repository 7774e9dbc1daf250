package cloud

import "time"

// State is the power and connectivity phase of the modem as seen by the
// client.
type State int

const (
	StateUnknown State = iota
	StateShutdown
	StateDisconnected
	StateReady
)

func (s State) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StateShutdown:
		return "shutdown"
	case StateDisconnected:
		return "disconnected"
	case StateReady:
		return "ready"
	default:
		return "invalid"
	}
}

// ConnectionStatus is the cloud link status reported by the modem.
type ConnectionStatus int

const (
	StatusUnknown      ConnectionStatus = -1
	StatusDisconnected ConnectionStatus = 0
	StatusConnected    ConnectionStatus = 1
	StatusRegistered   ConnectionStatus = 2
	StatusSIMError     ConnectionStatus = 3
	StatusUnregistered ConnectionStatus = 4
	StatusSignalError  ConnectionStatus = 5
	StatusModemOff     ConnectionStatus = 6
	StatusConnectError ConnectionStatus = 12
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnected:
		return "connected"
	case StatusRegistered:
		return "registered"
	case StatusSIMError:
		return "sim error"
	case StatusUnregistered:
		return "unregistered"
	case StatusSignalError:
		return "signal error"
	case StatusModemOff:
		return "modem off"
	case StatusConnectError:
		return "connect error"
	default:
		return "unknown"
	}
}

// ChargeState is the battery charger state.
type ChargeState int

const (
	ChargeUnknown    ChargeState = -1
	ChargeFault      ChargeState = 0
	ChargeInvalid    ChargeState = 1
	ChargeCharging   ChargeState = 2
	ChargeLowBattery ChargeState = 3
	ChargeCharged    ChargeState = 4
	ChargeUndefined  ChargeState = 5
	ChargeNoBattery  ChargeState = 6
)

func (c ChargeState) String() string {
	switch c {
	case ChargeFault:
		return "fault"
	case ChargeInvalid, ChargeUndefined:
		return "invalid"
	case ChargeCharging:
		return "charging"
	case ChargeLowBattery:
		return "low battery"
	case ChargeCharged:
		return "charged"
	case ChargeNoBattery:
		return "no battery"
	default:
		return "unknown"
	}
}

// SignalUnknown is the RSSI reported when signal strength is not available.
const SignalUnknown = 99

// SMS is a received text message.
type SMS struct {
	Sender string
	Time   time.Time
	Body   []byte
}

// Location is a position fix reported by the modem.
type Location struct {
	Time        time.Time
	Latitude    float64
	Longitude   float64
	Altitude    float64
	Uncertainty float64
}

// EventKind identifies a connectivity notification.
type EventKind int

const (
	EventDisconnected EventKind = iota
	EventRegistration
	EventSMSReceived
	EventHello
)

func (k EventKind) String() string {
	switch k {
	case EventDisconnected:
		return "disconnected"
	case EventRegistration:
		return "registration"
	case EventSMSReceived:
		return "sms-received"
	case EventHello:
		return "hello"
	default:
		return "unknown"
	}
}

// Event is a connectivity notification. Value carries the reason,
// registration status, queued SMS count or protocol version.
type Event struct {
	Kind  EventKind
	Value int
}

// Handlers receives notifications. Any field may be nil. Handlers run
// synchronously on the caller's goroutine, from within whichever client
// call read the notification, and must not modify the message buffer.
type Handlers struct {
	SMS      func(SMS)
	Inbound  func(socket int, data []byte)
	Notify   func(Event)
	Location func(Location)
	Charge   func(ChargeState)
}
