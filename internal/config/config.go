// Package config builds server and client settings from defaults, an
// optional TOML file and the command line, in that order of precedence.
package config

import (
	"flag"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/Zereker/chatsock"
	"github.com/Zereker/chatsock/chat"
)

// DefaultPort is the port the server listens on when the config file does
// not say otherwise.
const DefaultPort = 14023

// ErrUsage marks errors caused by bad command-line arguments.
var ErrUsage = errors.New("usage")

// Server is the chatd configuration.
type Server struct {
	Port           int
	MaxConnections int
	QueueDepth     int
	MaxBuffers     int
	MetricsAddr    string
	LogLevel       string
}

// Client is the chat client configuration.
type Client struct {
	Address     string
	Port        int
	Username    string
	QueueDepth  int
	DialTimeout time.Duration
	LogLevel    string
	LogFile     string
	NoColor     bool
	Timestamps  bool
}

// DefaultServer returns the built-in server settings.
func DefaultServer() Server {
	return Server{
		Port:           DefaultPort,
		MaxConnections: 16,
		QueueDepth:     chatsock.DefaultQueueDepth,
		LogLevel:       "info",
	}
}

// DefaultClient returns the built-in client settings.
func DefaultClient() Client {
	return Client{
		Port:        DefaultPort,
		QueueDepth:  chatsock.DefaultQueueDepth,
		DialTimeout: 10 * time.Second,
		LogLevel:    "error",
	}
}

type serverFile struct {
	Port           int    `toml:"port"`
	MaxConnections int    `toml:"max_connections"`
	QueueDepth     int    `toml:"queue_depth"`
	MaxBuffers     int    `toml:"max_buffers"`
	MetricsAddr    string `toml:"metrics_addr"`
	LogLevel       string `toml:"log_level"`
}

type clientFile struct {
	Address     string `toml:"address"`
	Port        int    `toml:"port"`
	Username    string `toml:"username"`
	QueueDepth  int    `toml:"queue_depth"`
	DialTimeout string `toml:"dial_timeout"`
	LogLevel    string `toml:"log_level"`
	LogFile     string `toml:"log_file"`
	NoColor     bool   `toml:"no_color"`
	Timestamps  bool   `toml:"timestamps"`
}

// LoadServerFile applies the keys present in the TOML file at path to cfg.
func LoadServerFile(path string, cfg *Server) error {
	var raw serverFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return errors.Wrap(err, "load server config")
	}

	if meta.IsDefined("port") {
		cfg.Port = raw.Port
	}
	if meta.IsDefined("max_connections") {
		cfg.MaxConnections = raw.MaxConnections
	}
	if meta.IsDefined("queue_depth") {
		cfg.QueueDepth = raw.QueueDepth
	}
	if meta.IsDefined("max_buffers") {
		cfg.MaxBuffers = raw.MaxBuffers
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	return nil
}

// LoadClientFile applies the keys present in the TOML file at path to cfg.
func LoadClientFile(path string, cfg *Client) error {
	var raw clientFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return errors.Wrap(err, "load client config")
	}

	if meta.IsDefined("address") {
		cfg.Address = strings.TrimSpace(raw.Address)
	}
	if meta.IsDefined("port") {
		cfg.Port = raw.Port
	}
	if meta.IsDefined("username") {
		cfg.Username = raw.Username
	}
	if meta.IsDefined("queue_depth") {
		cfg.QueueDepth = raw.QueueDepth
	}
	if meta.IsDefined("dial_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.DialTimeout))
		if err != nil {
			return errors.Wrap(err, "parse dial_timeout")
		}
		cfg.DialTimeout = d
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("log_file") {
		cfg.LogFile = strings.TrimSpace(raw.LogFile)
	}
	if meta.IsDefined("no_color") {
		cfg.NoColor = raw.NoColor
	}
	if meta.IsDefined("timestamps") {
		cfg.Timestamps = raw.Timestamps
	}
	return nil
}

// ParseServerArgs parses `chatd [flags] <port>`.
func ParseServerArgs(args []string, stderr io.Writer) (Server, error) {
	fs := flag.NewFlagSet("chatd", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		io.WriteString(stderr, "usage: chatd [flags] <port>\n")
		fs.PrintDefaults()
	}

	configPath := fs.String("config", "", "TOML config file")
	logLevel := fs.String("log-level", "", "log level (debug, info, warn, error, disabled)")
	metricsAddr := fs.String("metrics-addr", "", "serve prometheus metrics on this address")
	maxConns := fs.Int("max-connections", 0, "maximum connected clients")

	if err := fs.Parse(args); err != nil {
		return Server{}, errors.Wrap(ErrUsage, err.Error())
	}

	cfg := DefaultServer()
	if *configPath != "" {
		if err := LoadServerFile(*configPath, &cfg); err != nil {
			return Server{}, err
		}
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "log-level":
			cfg.LogLevel = *logLevel
		case "metrics-addr":
			cfg.MetricsAddr = *metricsAddr
		case "max-connections":
			cfg.MaxConnections = *maxConns
		}
	})

	switch fs.NArg() {
	case 0:
		if *configPath == "" {
			fs.Usage()
			return Server{}, errors.Wrap(ErrUsage, "missing port")
		}
	case 1:
		port, err := ParsePort(fs.Arg(0))
		if err != nil {
			return Server{}, err
		}
		cfg.Port = port
	default:
		fs.Usage()
		return Server{}, errors.Wrap(ErrUsage, "too many arguments")
	}

	return cfg, cfg.Validate()
}

// ParseClientArgs parses `chat [flags] <address> <port> <username>`.
func ParseClientArgs(args []string, stderr io.Writer) (Client, error) {
	fs := flag.NewFlagSet("chat", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		io.WriteString(stderr, "usage: chat [flags] <address> <port> <username>\n")
		fs.PrintDefaults()
	}

	configPath := fs.String("config", "", "TOML config file")
	logLevel := fs.String("log-level", "", "log level (debug, info, warn, error, disabled)")
	logFile := fs.String("log-file", "", "write logs to this file instead of stderr")
	noColor := fs.Bool("no-color", false, "disable colored output")
	timestamps := fs.Bool("timestamps", false, "prefix displayed lines with the time")

	if err := fs.Parse(args); err != nil {
		return Client{}, errors.Wrap(ErrUsage, err.Error())
	}

	cfg := DefaultClient()
	if *configPath != "" {
		if err := LoadClientFile(*configPath, &cfg); err != nil {
			return Client{}, err
		}
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "log-level":
			cfg.LogLevel = *logLevel
		case "log-file":
			cfg.LogFile = *logFile
		case "no-color":
			cfg.NoColor = *noColor
		case "timestamps":
			cfg.Timestamps = *timestamps
		}
	})

	switch {
	case fs.NArg() == 3:
		port, err := ParsePort(fs.Arg(1))
		if err != nil {
			return Client{}, err
		}
		cfg.Address, cfg.Port, cfg.Username = fs.Arg(0), port, fs.Arg(2)
	case fs.NArg() == 0 && *configPath != "":
	default:
		fs.Usage()
		return Client{}, errors.Wrap(ErrUsage, "arguments should contain server, port and username")
	}

	return cfg, cfg.Validate()
}

// ParsePort parses a TCP port number.
func ParsePort(raw string) (int, error) {
	port, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || port < 1 || port > 65535 {
		return 0, errors.Wrapf(ErrUsage, "invalid port %q", raw)
	}
	return port, nil
}

// Validate checks the server settings.
func (s Server) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return errors.Wrapf(ErrUsage, "invalid port %d", s.Port)
	}
	if s.MaxConnections < 1 {
		return errors.Wrapf(ErrUsage, "max_connections must be positive, got %d", s.MaxConnections)
	}
	if s.QueueDepth < 1 {
		return errors.Wrapf(ErrUsage, "queue_depth must be positive, got %d", s.QueueDepth)
	}
	if s.MaxBuffers < 0 {
		return errors.Wrapf(ErrUsage, "max_buffers must not be negative, got %d", s.MaxBuffers)
	}
	return nil
}

// Validate checks the client settings.
func (c Client) Validate() error {
	if c.Address == "" {
		return errors.Wrap(ErrUsage, "missing server address")
	}
	if c.Port < 1 || c.Port > 65535 {
		return errors.Wrapf(ErrUsage, "invalid port %d", c.Port)
	}
	if c.Username == "" {
		return errors.Wrap(ErrUsage, "missing username")
	}
	if len(c.Username) > chat.MaxSenderLen {
		return errors.Wrapf(ErrUsage, "username must not exceed %d bytes", chat.MaxSenderLen)
	}
	if strings.IndexByte(c.Username, 0) >= 0 {
		return errors.Wrap(ErrUsage, "username must not contain NUL bytes")
	}
	if c.QueueDepth < 1 {
		return errors.Wrapf(ErrUsage, "queue_depth must be positive, got %d", c.QueueDepth)
	}
	return nil
}
