package cloud_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"i4.energy/across/dashcloud/cloud"
	"i4.energy/across/dashcloud/modem"
)

func TestPowerUp(t *testing.T) {
	t.Run("always OK reaches ready", func(t *testing.T) {
		f := newFakeDash()
		delete(f.replies, "AT+HPROTO?")
		c := f.client(t, cloud.Config{})

		require.Equal(t, cloud.StateUnknown, c.State())
		require.NoError(t, c.PowerUp())
		require.Equal(t, cloud.StateReady, c.State())
		require.Equal(t, []string{"AT", "AT+HPROTO?"}, f.tr.Written())
		require.Zero(t, c.ProtocolVersion())

		require.NoError(t, c.PowerUp(), "ready is a no-op")
		require.Len(t, f.tr.Written(), 2)
	})

	t.Run("records protocol version", func(t *testing.T) {
		f := newFakeDash()
		c := f.ready(t, cloud.Config{})

		require.Equal(t, 3, c.ProtocolVersion())
	})

	t.Run("protocol query failing forever", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		pin := modem.NewMockPin(ctrl)
		gomock.InOrder(
			pin.EXPECT().Low().Return(nil),
			pin.EXPECT().High().Return(nil),
			pin.EXPECT().Low().Return(nil),
			pin.EXPECT().High().Return(nil),
		)

		f := newFakeDash()
		f.clock.Record = true
		f.on("AT+HPROTO?", modem.Reply("ERROR"))
		c := f.client(t, cloud.Config{ResetPin: pin, MaxPowerUpAttempts: 3})

		err := c.PowerUp()
		require.ErrorIs(t, err, cloud.ErrPowerUpFailed)
		require.NotEqual(t, cloud.StateReady, c.State())
		require.Equal(t, 3, f.tr.Count("AT+HPROTO?"))

		var backoff []time.Duration
		for _, d := range f.clock.Sleeps() {
			if d >= time.Second {
				backoff = append(backoff, d)
			}
		}
		require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, backoff)
	})

	t.Run("silent modem doubles ping retries", func(t *testing.T) {
		f := newFakeDash()
		f.on("AT", "")
		c := f.client(t, cloud.Config{InitialRetries: 2, MaxPowerUpAttempts: 2})

		require.ErrorIs(t, c.PowerUp(), cloud.ErrPowerUpFailed)
		require.Equal(t, 3+5, f.tr.Count("AT"))
		require.Zero(t, f.tr.Count("AT+HPROTO?"))
	})

	t.Run("recovers after a reset", func(t *testing.T) {
		f := newFakeDash()
		f.on("AT+HPROTO?", modem.Reply("ERROR"), modem.Reply("+HPROTO: 4", "OK"))
		c := f.client(t, cloud.Config{})

		require.NoError(t, c.PowerUp())
		require.Equal(t, cloud.StateReady, c.State())
		require.Equal(t, 4, c.ProtocolVersion())
	})

	t.Run("backoff is capped", func(t *testing.T) {
		f := newFakeDash()
		f.clock.Record = true
		f.on("AT+HPROTO?", modem.Reply("ERROR"))
		c := f.client(t, cloud.Config{
			BaseBackoff:        time.Second,
			MaxBackoff:         3 * time.Second,
			MaxPowerUpAttempts: 5,
		})

		require.ErrorIs(t, c.PowerUp(), cloud.ErrPowerUpFailed)

		var backoff []time.Duration
		for _, d := range f.clock.Sleeps() {
			if d >= time.Second {
				backoff = append(backoff, d)
			}
		}
		require.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second, 3 * time.Second}, backoff)
	})
}

func TestPowerDownAndShutdownState(t *testing.T) {
	ctrl := gomock.NewController(t)
	pin := modem.NewMockPin(ctrl)

	f := newFakeDash()
	c := f.ready(t, cloud.Config{ResetPin: pin})

	require.NoError(t, c.PowerDown())
	require.Equal(t, cloud.StateShutdown, c.State())
	require.Equal(t, 1, f.tr.Count("AT+HSHUTDOWN"))

	rssi, err := c.GetSignalStrength()
	require.ErrorIs(t, err, cloud.ErrUnavailable)
	require.Equal(t, cloud.SignalUnknown, rssi)

	status, err := c.GetConnectionStatus()
	require.NoError(t, err)
	require.Equal(t, cloud.StatusModemOff, status)

	require.Equal(t, "0.0.0", c.SystemVersion())

	gomock.InOrder(
		pin.EXPECT().Low().Return(nil),
		pin.EXPECT().High().Return(nil),
	)
	n := len(f.tr.Written())
	require.NoError(t, c.PowerUp())
	require.Equal(t, cloud.StateReady, c.State())
	require.Equal(t, []string{"AT", "AT", "AT+HPROTO?"}, f.since(n))
}

func TestHelloLeavesShutdown(t *testing.T) {
	f := newFakeDash()
	c := f.ready(t, cloud.Config{})
	require.NoError(t, c.PowerDown())

	var states []cloud.State
	c.AttachHandlerNotify(func(e cloud.Event) {
		if e.Kind == cloud.EventHello {
			require.Equal(t, 5, e.Value)
			states = append(states, c.State())
		}
	})

	// The modem greets after the reset pulse; the resync ping reads it.
	f.tr.SendData(modem.Reply("+HINFO: 5"))
	require.NoError(t, c.PowerUp())

	require.Equal(t, []cloud.State{cloud.StateUnknown}, states, "a hello never marks the modem ready")
	require.Equal(t, cloud.StateReady, c.State())
	require.Equal(t, 3, c.ProtocolVersion())
}

func TestConnectDisconnect(t *testing.T) {
	t.Run("connect and disconnect", func(t *testing.T) {
		f := newFakeDash()
		c := f.ready(t, cloud.Config{})

		require.NoError(t, c.Connect(false))

		require.NoError(t, c.Disconnect())
		require.Equal(t, cloud.StateDisconnected, c.State())
		require.Equal(t, 1, f.tr.Count("AT+HDISCONNECT"))

		_, err := c.GetSignalStrength()
		require.ErrorIs(t, err, cloud.ErrUnavailable)

		status, err := c.GetConnectionStatus()
		require.NoError(t, err)
		require.Equal(t, cloud.StatusDisconnected, status)

		require.NoError(t, c.Disconnect(), "already disconnected")
		require.Equal(t, 1, f.tr.Count("AT+HDISCONNECT"))

		require.NoError(t, c.Connect(false))
		require.Equal(t, cloud.StateReady, c.State())
	})

	t.Run("connect reports status", func(t *testing.T) {
		f := newFakeDash()
		f.on("AT+HCONNECT", modem.Reply("+HCONNECT: 12", "OK"))
		c := f.ready(t, cloud.Config{})

		err := c.Connect(false)
		require.ErrorIs(t, err, cloud.ErrNotConnected)
		require.Contains(t, err.Error(), "connect error")
	})

	t.Run("connect error", func(t *testing.T) {
		f := newFakeDash()
		f.on("AT+HCONNECT", modem.Reply("ERROR"))
		c := f.ready(t, cloud.Config{})

		require.ErrorIs(t, c.Connect(false), modem.ErrError)
	})

	t.Run("lazy power-up on first query", func(t *testing.T) {
		f := newFakeDash()
		f.on("AT+HCONSTATUS", modem.Reply("+HCONSTATUS: 2", "OK"))
		c := f.client(t, cloud.Config{})

		status, err := c.GetConnectionStatus()
		require.NoError(t, err)
		require.Equal(t, cloud.StatusRegistered, status)
		require.Equal(t, []string{"AT", "AT+HPROTO?", "AT+HCONSTATUS"}, f.tr.Written())
	})
}

func TestQueries(t *testing.T) {
	f := newFakeDash()
	f.on("AT+CSQ", modem.Reply("+CSQ: 21,0", "OK"))
	f.on("AT+HSYS=2", modem.Reply(`+HSYS: 2,"1.4.2"`, "OK"))
	f.on("AT+HSMS?", modem.Reply("+HSMS: 0", "OK"))
	f.on("AT+CCID", modem.Reply("+CCID: 8944500102198304826", "OK"))
	f.on("AT+CGSN", modem.Reply("", "353162075214356", "", "OK"))
	f.on("AT+COPS?", modem.Reply(`+COPS: 0,0,"T-Mobile",7`, "OK"))
	f.on("AT+HCHARGE?", modem.Reply("+HCHARGE: 2", "OK"))
	f.on("AT+HLISTEN=4010", modem.Reply("+HLISTEN: 3", "OK"))
	c := f.ready(t, cloud.Config{})

	rssi, err := c.GetSignalStrength()
	require.NoError(t, err)
	require.Equal(t, 21, rssi)

	require.Equal(t, "1.4.2", c.SystemVersion())

	n, err := c.CheckSMS()
	require.NoError(t, err)
	require.Zero(t, n)

	iccid, err := c.GetICCID()
	require.NoError(t, err)
	require.Equal(t, "8944500102198304826", iccid)

	imei, err := c.GetIMEI()
	require.NoError(t, err)
	require.Equal(t, "353162075214356", imei)

	op, err := c.GetNetworkOperator()
	require.NoError(t, err)
	require.Equal(t, "T-Mobile", op)

	charge, err := c.GetChargeState()
	require.NoError(t, err)
	require.Equal(t, cloud.ChargeCharging, charge)

	sock, err := c.Listen(4010)
	require.NoError(t, err)
	require.Equal(t, 3, sock)

	start := len(f.tr.Written())
	require.NoError(t, c.GetLocation(10, 60))
	require.NoError(t, c.SetLED(true))
	require.NoError(t, c.SetRGB("#00ff7f"))
	require.NoError(t, c.OffRGB())
	require.NoError(t, c.EnterPassthrough())
	require.Equal(t, []string{
		"AT+HLOC=10,60",
		"AT+HLED=1",
		"AT+HRGB=00FF7F",
		"AT+HRGB=000000",
		"AT+HPASS",
	}, f.since(start))

	require.ErrorIs(t, c.SetRGB("12345"), cloud.ErrInvalidColor)
	require.ErrorIs(t, c.SetRGB("zzzzzz"), cloud.ErrInvalidColor)
}

func TestQueryFailures(t *testing.T) {
	f := newFakeDash()
	f.on("AT+CSQ", modem.Reply("ERROR"))
	f.on("AT+HSYS=2", modem.Reply(`+HSYS: 1,"1.4.2"`, "OK"))
	f.on("AT+HCHARGE?", modem.Reply("+HCHARGE: x", "OK"))
	f.on("AT+COPS?", modem.Reply("+COPS: 0", "OK"))
	c := f.ready(t, cloud.Config{})

	rssi, err := c.GetSignalStrength()
	require.ErrorIs(t, err, modem.ErrError)
	require.Equal(t, cloud.SignalUnknown, rssi)

	require.Equal(t, "0.0.0", c.SystemVersion())

	charge, err := c.GetChargeState()
	require.ErrorIs(t, err, cloud.ErrUnexpectedResponse)
	require.Equal(t, cloud.ChargeUnknown, charge)

	op, err := c.GetNetworkOperator()
	require.NoError(t, err)
	require.Empty(t, op, "not registered")
}

func TestNetworkTime(t *testing.T) {
	t.Run("zone in quarter hours", func(t *testing.T) {
		f := newFakeDash()
		f.on("AT+CCLK?", modem.Reply(`+CCLK: "17/03/02,10:20:30-32"`, "OK"))
		c := f.ready(t, cloud.Config{})

		local, err := c.GetNetworkTime()
		require.NoError(t, err)
		require.Equal(t, 2017, local.Year())
		require.Equal(t, 10, local.Hour())
		_, offset := local.Zone()
		require.Equal(t, -8*3600, offset)

		utc, err := c.GetUTC()
		require.NoError(t, err)
		require.Equal(t, "2017-03-02T18:20:30Z", utc.Format(time.RFC3339))
	})

	t.Run("modem default year without signal", func(t *testing.T) {
		f := newFakeDash()
		f.on("AT+CCLK?", modem.Reply(`+CCLK: "04/01/01,00:00:12+00"`, "OK"))
		f.on("AT+CSQ", modem.Reply("+CSQ: 99,99", "OK"))
		c := f.ready(t, cloud.Config{})

		_, err := c.GetNetworkTime()
		require.ErrorIs(t, err, cloud.ErrUnavailable)

		f.on("AT+CSQ", modem.Reply("+CSQ: 15,0", "OK"))
		got, err := c.GetNetworkTime()
		require.NoError(t, err)
		require.Equal(t, 2004, got.Year())
	})

	t.Run("garbled clock", func(t *testing.T) {
		f := newFakeDash()
		f.on("AT+CCLK?", modem.Reply(`+CCLK: "17/03"`, "OK"))
		c := f.ready(t, cloud.Config{})

		_, err := c.GetNetworkTime()
		require.ErrorIs(t, err, cloud.ErrUnexpectedResponse)
	})
}

func TestEndResetsSession(t *testing.T) {
	f := newFakeDash()
	c := f.ready(t, cloud.Config{})
	_, err := c.Write([]byte("data"))
	require.NoError(t, err)
	require.NoError(t, c.AttachTopic("t"))

	c.End()
	require.Equal(t, cloud.StateUnknown, c.State())
	require.Zero(t, c.ProtocolVersion())
	require.Empty(t, c.Message())
	require.Empty(t, c.Topics())
}
