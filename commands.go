package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"i4.energy/across/dashcloud/cloud"
	"i4.energy/across/dashcloud/modem"
)

// CLI is the command line. Global flags left empty fall back to the
// configuration file, the environment and the defaults, in that order.
type CLI struct {
	Config          string        `short:"c" type:"path" help:"YAML configuration file."`
	SerialPort      string        `short:"p" help:"Serial port of the modem (default /dev/ttyACM0)."`
	BaudRate        int           `help:"Baud rate of the serial port (default 115200)."`
	BindAddress     string        `help:"Bind address of the HTTP server (default 0.0.0.0:8080)."`
	LogLevel        string        `help:"Log level (debug, info, warn, error)."`
	LogFormat       string        `help:"Log output (json, console)."`
	ATTimeout       time.Duration `name:"at-timeout" help:"Default modem command timeout."`
	PollInterval    time.Duration `help:"How often the server polls for modem events."`
	PowerUpAttempts int           `name:"powerup-attempts" help:"Give up powering up after this many cycles (0 retries forever)."`

	Serve       ServeCmd       `cmd:"" default:"1" help:"Run the HTTP API and the event stream."`
	Status      StatusCmd      `cmd:"" help:"Print the modem and connection state."`
	Info        InfoCmd        `cmd:"" help:"Print firmware version, SIM and network identity."`
	Signal      SignalCmd      `cmd:"" help:"Print the signal strength."`
	Time        TimeCmd        `cmd:"" help:"Print the network time."`
	Connect     ConnectCmd     `cmd:"" help:"Connect to the cloud."`
	Disconnect  DisconnectCmd  `cmd:"" help:"Disconnect from the cloud."`
	Send        SendCmd        `cmd:"" help:"Send a message to the cloud."`
	Listen      ListenCmd      `cmd:"" help:"Accept inbound connections on a port and print what arrives."`
	Locate      LocateCmd      `cmd:"" help:"Request a location fix and print it."`
	LED         LEDCmd         `cmd:"" name:"led" help:"Switch the status LED on or off."`
	RGB         RGBCmd         `cmd:"" name:"rgb" help:"Set the RGB LED color (RRGGBB or off)."`
	Charge      ChargeCmd      `cmd:"" help:"Print the battery charge state."`
	Shutdown    ShutdownCmd    `cmd:"" help:"Power the modem down."`
	Reset       ResetCmd       `cmd:"" help:"Pulse the modem reset line."`
	Passthrough PassthroughCmd `cmd:"" help:"Put the modem into serial passthrough mode."`
	AT          ATCmd          `cmd:"" name:"at" help:"Send a raw command to the modem."`
}

type ServeCmd struct{}

func (c *ServeCmd) Run(a *app) error {
	srv := &Server{
		Logger: a.logger.With("component", "server"),
		Client: a.client,
		Modem:  a.modem,
		Hub:    a.hub,
	}
	httpServer := &http.Server{
		Addr:    a.config.BindAddress,
		Handler: srv,
	}

	// Channel to listen for interrupt signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	pollCtx, stopPolling := context.WithCancel(context.Background())
	defer stopPolling()
	go srv.Poll(pollCtx, a.config.PollInterval)

	errChan := make(chan error, 1)
	go func() {
		a.logger.Info("Starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("http server: %w", err)
	case sig := <-sigChan:
		a.logger.Info("Received shutdown signal", "signal", sig)
	}

	stopPolling()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a.logger.Info("Closing HTTP server")
	return httpServer.Shutdown(ctx)
}

type StatusCmd struct{}

func (c *StatusCmd) Run(a *app) error {
	status, err := a.client.GetConnectionStatus()
	if err != nil && !errors.Is(err, cloud.ErrUnavailable) {
		return err
	}
	fmt.Fprintf(a.out, "state: %s\nconnection: %s\n", a.client.State(), status)
	return nil
}

type InfoCmd struct{}

func (c *InfoCmd) Run(a *app) error {
	iccid, err := a.client.GetICCID()
	if err != nil {
		return fmt.Errorf("iccid: %w", err)
	}
	imei, err := a.client.GetIMEI()
	if err != nil {
		return fmt.Errorf("imei: %w", err)
	}
	operator, err := a.client.GetNetworkOperator()
	if err != nil {
		return fmt.Errorf("operator: %w", err)
	}
	fmt.Fprintf(a.out, "version: %s\nprotocol: %d\niccid: %s\nimei: %s\noperator: %s\n",
		a.client.SystemVersion(), a.client.ProtocolVersion(), iccid, imei, operator)
	return nil
}

type SignalCmd struct{}

func (c *SignalCmd) Run(a *app) error {
	rssi, err := a.client.GetSignalStrength()
	if err != nil {
		return err
	}
	if rssi == cloud.SignalUnknown {
		fmt.Fprintln(a.out, "rssi: unknown")
		return nil
	}
	fmt.Fprintf(a.out, "rssi: %d\n", rssi)
	return nil
}

type TimeCmd struct {
	UTC bool `name:"utc" help:"Convert to UTC."`
}

func (c *TimeCmd) Run(a *app) error {
	get := a.client.GetNetworkTime
	if c.UTC {
		get = a.client.GetUTC
	}
	t, err := get()
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, t.Format(time.RFC3339))
	return nil
}

type ConnectCmd struct {
	Auto bool `help:"Reconnect whenever the modem reports a disconnect."`
}

func (c *ConnectCmd) Run(a *app) error {
	if err := a.client.Connect(c.Auto); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "connected")
	return nil
}

type DisconnectCmd struct{}

func (c *DisconnectCmd) Run(a *app) error {
	if err := a.client.Disconnect(); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "disconnected")
	return nil
}

type SendCmd struct {
	Content string   `arg:"" help:"Message content."`
	Topics  []string `short:"t" name:"topic" help:"Topic to attach; may be repeated."`
}

func (c *SendCmd) Run(a *app) error {
	if err := a.client.SendMessage([]byte(c.Content), c.Topics...); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "sent %d bytes\n", len(c.Content))
	return nil
}

type ListenCmd struct {
	Port int           `arg:"" help:"Port to accept connections on."`
	Wait time.Duration `default:"5m" help:"How long to wait for data."`
}

func (c *ListenCmd) Run(a *app) error {
	id, events := a.hub.subscribe()
	defer a.hub.unsubscribe(id)

	if _, err := a.client.Listen(c.Port); err != nil {
		return err
	}
	e, err := a.await(events, "inbound", c.Wait)
	if err != nil {
		return err
	}
	in := e.Data.(inboundData)
	fmt.Fprintf(a.out, "socket %d: %s\n", in.Socket, in.Data)
	return nil
}

type LocateCmd struct {
	Accuracy int           `default:"10" help:"Requested accuracy in meters."`
	MaxAge   int           `name:"max-seconds" default:"60" help:"Oldest acceptable fix in seconds."`
	Wait     time.Duration `default:"2m" help:"How long to wait for the fix."`
}

func (c *LocateCmd) Run(a *app) error {
	id, events := a.hub.subscribe()
	defer a.hub.unsubscribe(id)

	if err := a.client.GetLocation(c.Accuracy, c.MaxAge); err != nil {
		return err
	}
	e, err := a.await(events, "location", c.Wait)
	if err != nil {
		return err
	}
	l := e.Data.(locationData)
	fmt.Fprintf(a.out, "%.6f,%.6f altitude %.1f m, uncertainty %.1f m, at %s\n",
		l.Latitude, l.Longitude, l.Altitude, l.Uncertainty, l.Time.Format(time.RFC3339))
	return nil
}

// await polls the session until an event of type typ is published or wait
// has passed.
func (a *app) await(events <-chan Event, typ string, wait time.Duration) (Event, error) {
	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		a.client.PollEvents()
		for pending := true; pending; {
			select {
			case e := <-events:
				if e.Type == typ {
					return e, nil
				}
			default:
				pending = false
			}
		}
		time.Sleep(a.config.PollInterval)
	}
	return Event{}, fmt.Errorf("no %s event within %s", typ, wait)
}

type LEDCmd struct {
	State string `arg:"" enum:"on,off" help:"on or off."`
}

func (c *LEDCmd) Run(a *app) error {
	return a.client.SetLED(c.State == "on")
}

type RGBCmd struct {
	Color string `arg:"" help:"Color as RRGGBB, or off."`
}

func (c *RGBCmd) Run(a *app) error {
	if c.Color == "off" {
		return a.client.OffRGB()
	}
	return a.client.SetRGB(c.Color)
}

type ChargeCmd struct{}

func (c *ChargeCmd) Run(a *app) error {
	state, err := a.client.GetChargeState()
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "charge: %s\n", state)
	return nil
}

type ShutdownCmd struct{}

func (c *ShutdownCmd) Run(a *app) error {
	return a.client.PowerDown()
}

type ResetCmd struct{}

func (c *ResetCmd) Run(a *app) error {
	a.client.ResetSystem()
	return a.client.PowerUp()
}

type PassthroughCmd struct{}

func (c *PassthroughCmd) Run(a *app) error {
	return a.client.EnterPassthrough()
}

type ATCmd struct {
	Name    string        `arg:"" optional:"" help:"Command after AT, e.g. +CSQ. Empty sends a bare AT."`
	Value   string        `arg:"" optional:"" help:"Value; sends AT<name>=<value>."`
	Query   bool          `short:"q" help:"Send AT<name>? instead."`
	Expect  string        `help:"Response line that ends the exchange successfully."`
	Timeout time.Duration `help:"Response timeout."`
	Retries int           `help:"Resends after a timeout."`
}

func (c *ATCmd) Run(a *app) error {
	var res modem.Result
	switch {
	case c.Query:
		res = a.modem.QueryExpect(c.Name, c.Expect, c.Timeout, c.Retries)
	case c.Value != "":
		res = a.modem.SetExpect(c.Name, c.Value, c.Expect, c.Timeout, c.Retries)
	default:
		res = a.modem.CommandExpect(c.Name, c.Expect, c.Timeout, c.Retries)
	}
	if last := a.modem.LastResponse(); last != "" {
		fmt.Fprintln(a.out, last)
	}
	fmt.Fprintln(a.out, res)
	return res.Err()
}
