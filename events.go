package main

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"i4.energy/across/dashcloud/cloud"
)

// subscriberBuffer is how many events a slow subscriber may lag behind
// before events are dropped for it.
const subscriberBuffer = 32

// Event is a notification from the modem as sent to stream subscribers.
type Event struct {
	Type string    `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data,omitempty"`
}

type smsData struct {
	Sender string    `json:"sender"`
	Time   time.Time `json:"time"`
	Body   string    `json:"body"`
}

type inboundData struct {
	Socket int    `json:"socket"`
	Data   []byte `json:"data"`
}

type locationData struct {
	Time        time.Time `json:"time"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	Altitude    float64   `json:"altitude"`
	Uncertainty float64   `json:"uncertainty"`
}

type valueData struct {
	Value int    `json:"value"`
	Label string `json:"label,omitempty"`
}

// eventHub fans modem notifications out to subscribers. Publishing never
// blocks: it runs inside modem calls.
type eventHub struct {
	logger *slog.Logger
	now    func() time.Time
	nextID atomic.Uint64
	subs   *xsync.MapOf[uint64, chan Event]
}

func newEventHub(logger *slog.Logger) *eventHub {
	return &eventHub{
		logger: logger,
		now:    time.Now,
		subs:   xsync.NewMapOf[uint64, chan Event](),
	}
}

// subscribe registers a subscriber. The channel is never closed; stop
// reading after unsubscribe.
func (h *eventHub) subscribe() (uint64, <-chan Event) {
	id := h.nextID.Add(1)
	ch := make(chan Event, subscriberBuffer)
	h.subs.Store(id, ch)
	h.logger.Debug("subscriber added", "id", id, "subscribers", h.subs.Size())
	return id, ch
}

func (h *eventHub) unsubscribe(id uint64) {
	if _, ok := h.subs.LoadAndDelete(id); ok {
		h.logger.Debug("subscriber removed", "id", id, "subscribers", h.subs.Size())
	}
}

func (h *eventHub) publish(typ string, data any) {
	e := Event{Type: typ, Time: h.now(), Data: data}
	h.logger.Info("modem event", "type", typ)
	h.subs.Range(func(id uint64, ch chan Event) bool {
		select {
		case ch <- e:
		default:
			h.logger.Warn("subscriber lagging, event dropped", "id", id, "type", typ)
		}
		return true
	})
}

// handlers returns the session callbacks that feed the hub.
func (h *eventHub) handlers() cloud.Handlers {
	return cloud.Handlers{
		SMS: func(s cloud.SMS) {
			h.publish("sms", smsData{Sender: s.Sender, Time: s.Time, Body: string(s.Body)})
		},
		Inbound: func(socket int, data []byte) {
			h.publish("inbound", inboundData{Socket: socket, Data: data})
		},
		Notify: func(e cloud.Event) {
			h.publish(e.Kind.String(), valueData{Value: e.Value})
		},
		Location: func(l cloud.Location) {
			h.publish("location", locationData(l))
		},
		Charge: func(s cloud.ChargeState) {
			h.publish("charge", valueData{Value: int(s), Label: s.String()})
		},
	}
}
