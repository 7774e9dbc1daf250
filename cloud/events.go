package cloud

import (
	"encoding/hex"
	"strconv"
	"time"

	"i4.energy/across/dashcloud/at"
	"i4.energy/across/dashcloud/modem"
)

const (
	// MaxSMSBody and MaxSMSSender bound a delivered SMS.
	MaxSMSBody   = 160
	MaxSMSSender = 20
	// MaxInbound is the capacity of the inbound socket buffer.
	MaxInbound = 4096

	socketReadChunk   = 64
	socketReadTimeout = 10 * time.Second
	smsBodyTimeout    = time.Second
	smsReadSettle     = 100 * time.Millisecond
)

// AttachHandlerSMS sets the SMS handler. SMS already queued on the modem
// are read and delivered right away.
func (c *Client) AttachHandlerSMS(fn func(SMS)) {
	c.config.Handlers.SMS = fn
	if fn != nil && c.state == StateReady {
		c.drainSMS()
	}
}

// AttachHandlerInbound sets the handler for data received on an accepted
// inbound connection.
func (c *Client) AttachHandlerInbound(fn func(socket int, data []byte)) {
	c.config.Handlers.Inbound = fn
}

// AttachHandlerNotify sets the connectivity event handler.
func (c *Client) AttachHandlerNotify(fn func(Event)) {
	c.config.Handlers.Notify = fn
}

// AttachHandlerLocation sets the location fix handler.
func (c *Client) AttachHandlerLocation(fn func(Location)) {
	c.config.Handlers.Location = fn
}

// AttachHandlerCharge sets the charge state handler.
func (c *Client) AttachHandlerCharge(fn func(ChargeState)) {
	c.config.Handlers.Charge = fn
}

// OnURC updates the session from a notification. It runs inside the engine
// exchange that read the line, so anything that needs the wire is queued
// for OnIdle.
func (c *Client) OnURC(u at.URC) {
	h := c.config.Handlers
	switch u.Kind {
	case at.KindSMSReceived:
		c.notify(Event{Kind: EventSMSReceived, Value: u.Count})
	case at.KindSMSContent:
		c.bufferSMS(u)
	case at.KindDisconnected:
		c.logger.Info("cloud disconnected", "reason", u.Reason, "reconnect", c.autoReconnect)
		if c.autoReconnect {
			c.reconnect = true
		}
		c.notify(Event{Kind: EventDisconnected, Value: u.Reason})
	case at.KindRegChange:
		c.notify(Event{Kind: EventRegistration, Value: u.Status})
	case at.KindSocketAccept:
		if u.Socket == c.pendingSocket {
			return
		}
		if c.pendingSocket != 0 {
			c.logger.Warn("rejecting inbound connection", "socket", u.Socket, "pending", c.pendingSocket)
			c.closeQueue = append(c.closeQueue, u.Socket)
			return
		}
		c.pendingSocket = u.Socket
		c.inbound = c.inbound[:0]
	case at.KindLocation:
		if h.Location != nil {
			h.Location(Location{
				Time:        u.Time,
				Latitude:    u.Latitude,
				Longitude:   u.Longitude,
				Altitude:    u.Altitude,
				Uncertainty: u.Uncertainty,
			})
		}
	case at.KindChargeState:
		if h.Charge != nil {
			h.Charge(ChargeState(u.Status))
		}
	case at.KindProtocolHello:
		c.protocol = u.Version
		if c.state == StateShutdown {
			c.state = StateUnknown
		}
		c.notify(Event{Kind: EventHello, Value: u.Version})
	}
}

func (c *Client) notify(e Event) {
	if fn := c.config.Handlers.Notify; fn != nil {
		fn(e)
	}
}

// bufferSMS drains the body that follows the notification line and keeps
// the message until the next PollEvents.
func (c *Client) bufferSMS(u at.URC) {
	body, err := c.m.RawRead(u.Length, smsBodyTimeout)
	if err != nil {
		c.logger.Warn("short SMS body", "want", u.Length, "got", len(body), "error", err)
		return
	}
	sender := u.Sender
	if len(sender) > MaxSMSSender {
		sender = sender[:MaxSMSSender]
	}
	if len(body) > MaxSMSBody {
		body = body[:MaxSMSBody]
	}
	if c.pendingSMS != nil {
		c.logger.Warn("replacing undelivered SMS", "sender", c.pendingSMS.Sender)
	}
	c.pendingSMS = &SMS{Sender: sender, Time: u.Time, Body: body}
}

// OnIdle runs the wire work queued by notifications once the engine has
// finished the exchange that read them.
func (c *Client) OnIdle() {
	for len(c.closeQueue) > 0 {
		id := c.closeQueue[0]
		c.closeQueue = c.closeQueue[1:]
		c.closeSocket(id)
	}
	if c.reconnect {
		c.reconnect = false
		// Power-up runs again before the link is reopened.
		c.state = StateUnknown
		if err := c.Connect(true); err != nil {
			c.logger.Error("auto-reconnect failed", "error", err)
		}
	}
}

func (c *Client) closeSocket(id int) {
	if err := c.m.Set(at.CmdSocketClose, strconv.Itoa(id), 0, 0).Err(); err != nil {
		c.logger.Warn("closing socket", "socket", id, "error", err)
	}
}

// PollEvents delivers everything that arrived since the last call: a
// buffered SMS, pending notifications, data of an accepted inbound
// connection, and SMS still queued on the modem. It does nothing before
// Begin or while the modem is not ready.
func (c *Client) PollEvents() {
	if !c.begun || c.state != StateReady {
		return
	}
	c.deliverSMS()
	c.m.CheckURC()
	c.resolveSocket()
	c.drainSMS()
}

func (c *Client) deliverSMS() bool {
	sms := c.pendingSMS
	if sms == nil {
		return false
	}
	c.pendingSMS = nil
	if fn := c.config.Handlers.SMS; fn != nil {
		fn(*sms)
	}
	return true
}

// drainSMS reads queued SMS until the modem reports none, a read fails or a
// read yields nothing.
func (c *Client) drainSMS() {
	for {
		n, err := c.CheckSMS()
		if err != nil || n == 0 {
			return
		}
		if c.m.Command(at.CmdSMSRead, 0, 0) != modem.ResultOK {
			return
		}
		c.clock.Sleep(smsReadSettle)
		c.m.CheckURC()
		if !c.deliverSMS() {
			return
		}
	}
}

// resolveSocket reads the pending inbound connection. Its data is delivered
// once the peer closes or the inbound buffer is full; until then the read
// resumes on the next poll.
func (c *Client) resolveSocket() {
	id := c.pendingSocket
	if id == 0 {
		return
	}
	for len(c.inbound) < MaxInbound {
		want := min(socketReadChunk, MaxInbound-len(c.inbound))
		res := c.m.Set(at.CmdSocketRead, strconv.Itoa(id)+","+strconv.Itoa(want), socketReadTimeout, 0)
		if res == modem.ResultError {
			break
		}
		if res != modem.ResultOK {
			c.logger.Warn("reading inbound socket", "socket", id, "result", res)
			return
		}
		data, err := c.socketData()
		if err != nil {
			c.logger.Warn("reading inbound socket", "socket", id, "error", err)
			return
		}
		if len(data) == 0 {
			return
		}
		c.inbound = append(c.inbound, data...)
	}

	data := c.inbound
	c.inbound = nil
	c.pendingSocket = 0
	if fn := c.config.Handlers.Inbound; fn != nil {
		fn(id, data)
	}
	c.closeSocket(id)
}

// socketData decodes a `+HSOCKRD: <n>,"<hex>"` reply.
func (c *Client) socketData() ([]byte, error) {
	line := c.m.LastResponse()
	fields, err := at.Fields(line, at.CmdSocketRead)
	if err != nil || len(fields) != 2 {
		return nil, ErrUnexpectedResponse
	}
	n, err := at.Int(fields, 0)
	if err != nil {
		return nil, ErrUnexpectedResponse
	}
	data, err := hex.DecodeString(fields[1])
	if err != nil || len(data) != n {
		return nil, ErrUnexpectedResponse
	}
	return data, nil
}
