package at

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrNotURC is returned by ParseURC when the line does not start with any
	// known notification prefix.
	ErrNotURC = errors.New("at: not a notification")

	// ErrMalformed is returned by ParseURC when the line carries a known
	// prefix but its fields do not match the layout for that kind.
	ErrMalformed = errors.New("at: malformed notification")
)

// Kind identifies one of the notification lines the modem emits unprompted.
type Kind int

const (
	KindSMSReceived Kind = iota + 1
	KindSMSContent
	KindDisconnected
	KindRegChange
	KindSocketAccept
	KindLocation
	KindChargeState
	KindProtocolHello
)

func (k Kind) String() string {
	switch k {
	case KindSMSReceived:
		return "sms-received"
	case KindSMSContent:
		return "sms-content"
	case KindDisconnected:
		return "disconnected"
	case KindRegChange:
		return "registration-changed"
	case KindSocketAccept:
		return "socket-accept"
	case KindLocation:
		return "location"
	case KindChargeState:
		return "charge-state"
	case KindProtocolHello:
		return "protocol-hello"
	default:
		return "unknown"
	}
}

// MaxSMSContent bounds the body length an SMS notification may announce.
const MaxSMSContent = 1024

// stampLayout accepts the modem's yyyy/mm/dd,hh:mm:ss timestamps with or
// without zero padding.
const stampLayout = "2006/1/2,15:4:5"

// URC is a parsed notification line. Only the fields belonging to Kind are
// populated.
type URC struct {
	Kind Kind
	Line string

	// KindSMSReceived
	Count int

	// KindSMSContent; Length raw body bytes follow the line on the wire.
	Sender string
	Length int

	// KindSMSContent and KindLocation
	Time time.Time

	// KindDisconnected
	Reason int

	// KindRegChange and KindChargeState
	Status int

	// KindSocketAccept
	Socket int
	Port   int

	// KindLocation
	Latitude    float64
	Longitude   float64
	Altitude    float64
	Uncertainty float64

	// KindProtocolHello
	Version int
}

type urcFormat struct {
	prefix string
	kind   Kind
	fields int
	parse  func(f []string, u *URC) error
}

// urcTable is matched in order; the first prefix wins.
var urcTable = []urcFormat{
	{UrcSMSReceived, KindSMSReceived, 1, func(f []string, u *URC) (err error) {
		u.Count, err = Int(f, 0)
		return err
	}},
	{UrcSMSContent, KindSMSContent, 3, func(f []string, u *URC) (err error) {
		u.Sender = f[0]
		if u.Time, err = time.Parse(stampLayout, f[1]); err != nil {
			return err
		}
		u.Length, err = Int(f, 2)
		if err == nil && (u.Length < 0 || u.Length > MaxSMSContent) {
			err = fmt.Errorf("length %d out of range", u.Length)
		}
		return err
	}},
	{UrcDisconnected, KindDisconnected, 1, func(f []string, u *URC) (err error) {
		u.Reason, err = Int(f, 0)
		return err
	}},
	{UrcRegChange, KindRegChange, 1, func(f []string, u *URC) (err error) {
		u.Status, err = Int(f, 0)
		return err
	}},
	{UrcSocketAccept, KindSocketAccept, 2, func(f []string, u *URC) (err error) {
		if u.Socket, err = Int(f, 0); err != nil {
			return err
		}
		u.Port, err = Int(f, 1)
		return err
	}},
	{UrcLocation, KindLocation, 5, func(f []string, u *URC) (err error) {
		if u.Time, err = time.Parse(stampLayout, f[0]); err != nil {
			return err
		}
		vals := []*float64{&u.Latitude, &u.Longitude, &u.Altitude, &u.Uncertainty}
		for i, v := range vals {
			if *v, err = strconv.ParseFloat(strings.TrimSpace(f[i+1]), 64); err != nil {
				return err
			}
		}
		return nil
	}},
	{UrcChargeState, KindChargeState, 1, func(f []string, u *URC) (err error) {
		u.Status, err = Int(f, 0)
		return err
	}},
	{UrcProtocolHello, KindProtocolHello, 1, func(f []string, u *URC) (err error) {
		u.Version, err = Int(f, 0)
		return err
	}},
}

func lookupURC(line string) (urcFormat, bool) {
	for _, f := range urcTable {
		if strings.HasPrefix(line, f.prefix) {
			return f, true
		}
	}
	return urcFormat{}, false
}

// IsURC reports whether line starts with a known notification prefix.
func IsURC(line string) bool {
	_, ok := lookupURC(line)
	return ok
}

// ParseURC matches line against the notification table and extracts its
// fields. Lines with an unknown prefix return ErrNotURC; a known prefix with
// the wrong layout returns an error wrapping ErrMalformed.
func ParseURC(line string) (URC, error) {
	format, ok := lookupURC(line)
	if !ok {
		return URC{}, ErrNotURC
	}

	fields, err := splitFields(strings.TrimSpace(line[len(format.prefix):]))
	if err != nil {
		return URC{}, fmt.Errorf("%w: %s: %v", ErrMalformed, format.kind, err)
	}
	if len(fields) != format.fields {
		return URC{}, fmt.Errorf("%w: %s: want %d fields, got %d", ErrMalformed, format.kind, format.fields, len(fields))
	}

	u := URC{Kind: format.kind, Line: line}
	if err := format.parse(fields, &u); err != nil {
		return URC{}, fmt.Errorf("%w: %s: %v", ErrMalformed, format.kind, err)
	}
	return u, nil
}
