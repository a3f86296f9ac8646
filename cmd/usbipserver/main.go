// Command usbipserver runs the virtual USB/IP server: a keyboard and an
// IPP-over-USB printer exported on one bus, reachable by any USB/IP client.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mdimado/py-virtualippusb/device"
	"github.com/mdimado/py-virtualippusb/device/keyboard"
	"github.com/mdimado/py-virtualippusb/device/printer"
	"github.com/mdimado/py-virtualippusb/internal/rawlog"
	usbserver "github.com/mdimado/py-virtualippusb/internal/server/usb"
	"github.com/mdimado/py-virtualippusb/virtualbus"

	"github.com/alecthomas/kong"
	"golang.org/x/term"
)

// CLI is the root command set. Kong fills it in from flags and
// environment variables (no config file layer: the only file this server
// reads is the printer's own YAML config).
type CLI struct {
	Usb           usbserver.ServerConfig `embed:"" prefix:"usb."`
	PrinterConfig string                 `help:"Path to the printer collaborator's YAML config" default:"" env:"VIRTUALIPPUSB_PRINTER_CONFIG"`
	NoPrinter     bool                   `help:"Do not export the IPP-over-USB printer device"`
	NoKeyboard    bool                   `help:"Do not export the HID keyboard device"`
	LogLevel      string                 `help:"Log level: debug, info, warn, error" default:"info" enum:"debug,info,warn,error" env:"VIRTUALIPPUSB_LOG_LEVEL"`
	RawLog        bool                   `help:"Hex-dump every byte exchanged with clients to stdout" env:"VIRTUALIPPUSB_RAW_LOG"`
}

func main() {
	var cli CLI
	kong.Parse(&cli,
		kong.Name("usbipserver"),
		kong.Description("Virtual USB/IP server"),
		kong.UsageOnError(),
	)

	logger := newLogger(cli.LogLevel)

	if err := run(cli, logger); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

// newLogger picks a slog handler appropriate to the output: a human
// readable text handler on an interactive terminal, JSON otherwise (piped
// output is almost always headed to a log collector that wants structure).
func newLogger(level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	if term.IsTerminal(int(os.Stdout.Fd())) {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func run(cli CLI, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var raw rawlog.Logger
	if cli.RawLog {
		raw = rawlog.New(os.Stdout)
	} else {
		raw = rawlog.Noop()
	}

	bus := virtualbus.New(cli.Usb.BusNum)

	if !cli.NoKeyboard {
		kb, err := keyboard.New(&device.CreateOptions{})
		if err != nil {
			return fmt.Errorf("create keyboard: %w", err)
		}
		bus.Add(kb, virtualbus.SpeedHigh)
		logger.Info("exporting keyboard device")
	}

	if !cli.NoPrinter {
		pcfg := printer.DefaultConfig()
		if cli.PrinterConfig != "" {
			loaded, err := printer.LoadConfig(cli.PrinterConfig)
			if err != nil {
				return fmt.Errorf("load printer config: %w", err)
			}
			pcfg = loaded
		}
		pr, err := printer.New(pcfg)
		if err != nil {
			return fmt.Errorf("create printer: %w", err)
		}
		bus.Add(pr, virtualbus.SpeedHigh)
		logger.Info("exporting printer device", "ipp_server_url", pcfg.IPPServerURL)
	}

	srv := usbserver.New(cli.Usb, logger, raw)
	if err := srv.AddBus(bus); err != nil {
		return fmt.Errorf("register bus: %w", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		_ = srv.Close()
		return <-errCh
	case err := <-errCh:
		return err
	}
}
