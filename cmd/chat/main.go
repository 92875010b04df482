// Command chat is the terminal chat client.
//
//	chat [-config file] [-log-level level] [-log-file path] [-no-color] [-timestamps] <address> <port> <username>
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/Zereker/chatsock/client"
	"github.com/Zereker/chatsock/internal/config"
	"github.com/Zereker/chatsock/internal/logging"
	"github.com/Zereker/chatsock/internal/ui"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := config.ParseClientArgs(args, os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "chat:", err)
		return 2
	}

	var logOut io.Writer = os.Stderr
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintln(os.Stderr, "chat: open log file:", err)
			return 1
		}
		defer f.Close()
		logOut = f
	}
	color := !cfg.NoColor && logging.IsTerminal(logOut)
	logger := logging.New(logOut, cfg.LogLevel, color)

	uiOpts := []ui.Option{ui.TimestampOption(cfg.Timestamps)}
	if cfg.NoColor {
		uiOpts = append(uiOpts, ui.ColorOption(false))
	}
	display, err := ui.New(os.Stdin, os.Stdout, uiOpts...)
	if err != nil {
		logger.Error("unable to set up terminal", "error", err)
		return 1
	}
	defer display.Close()

	c, err := client.Dial(cfg.Address, cfg.Port, cfg.Username, display,
		client.LoggerOption(logger),
		client.QueueDepthOption(cfg.QueueDepth),
		client.DialTimeoutOption(cfg.DialTimeout),
	)
	if err != nil {
		display.Append(client.CategoryError, "unable to connect: "+err.Error())
		return 1
	}
	defer c.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	display.Append(client.CategoryNotice, fmt.Sprintf("connected to %s:%d as %s", cfg.Address, cfg.Port, cfg.Username))

	err = c.Run(ctx)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return 0
	case errors.Is(err, client.ErrServerClosed):
		display.Append(client.CategoryError, "connection to server lost")
		return 1
	default:
		display.Append(client.CategoryError, err.Error())
		return 1
	}
}
