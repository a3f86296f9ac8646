package usb

import "time"

// ServerConfig represents the server subcommand configuration.
type ServerConfig struct {
	Addr   string `help:"USB-IP server listen address" default:"0.0.0.0:3240" env:"VIRTUALIPPUSB_ADDR"`
	BusNum uint32 `help:"USB/IP bus number to export devices on" default:"1" env:"VIRTUALIPPUSB_BUSNUM"`

	OpDeadline      time.Duration `help:"Read/write deadline for the OP_REQ/OP_REP phase" default:"10s" env:"VIRTUALIPPUSB_OP_DEADLINE"`
	URBDeadline     time.Duration `help:"Read/write deadline for a URB header" default:"30s" env:"VIRTUALIPPUSB_URB_DEADLINE"`
	PayloadDeadline time.Duration `help:"Read deadline for a URB payload" default:"10s" env:"VIRTUALIPPUSB_PAYLOAD_DEADLINE"`
}
