// Package toolcfg holds the configuration, logging and device setup shared by the command line tools.
//
// Settings are resolved in this order: command line flags that were set explicitly,
// AUDIODEV_* environment variables, the config file, and the defaults below.
package toolcfg

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/gen2brain/audiodev"
	"github.com/gen2brain/audiodev/backend/alsa"
)

// Configuration keys.
const (
	KeyCard     = "card"
	KeyDevice   = "device"
	KeyPeriods  = "periods"
	KeyBlockMs  = "blk_ms"
	KeyBlocks   = "blocks"
	KeyLogLevel = "loglevel"
	KeyLogFile  = "logfile"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyCard, "0")
	v.SetDefault(KeyDevice, 0)
	v.SetDefault(KeyPeriods, alsa.DefaultPeriods)
	v.SetDefault(KeyBlockMs, audiodev.DefaultBlockMs)
	v.SetDefault(KeyBlocks, audiodev.DefaultBlocks)
	v.SetDefault(KeyLogLevel, "warn")
	v.SetDefault(KeyLogFile, "")
}

// Flags registers the flags every tool accepts on fs.
func Flags(fs *flag.FlagSet) *string {
	fs.String(KeyCard, "0", "The card number or name")
	fs.Uint(KeyDevice, 0, "The PCM device number")
	fs.Uint(KeyPeriods, alsa.DefaultPeriods, "The number of hardware periods")
	fs.Uint(KeyBlockMs, audiodev.DefaultBlockMs, "The mixer block length in milliseconds")
	fs.Uint(KeyBlocks, audiodev.DefaultBlocks, "The number of blocks buffered per stream")
	fs.String(KeyLogLevel, "warn", "The log level (none, error, warn, info, debug)")
	fs.String(KeyLogFile, "", "Write the log as JSON to this file")

	return fs.String("config", "", "Read settings from this file (yaml, json or toml)")
}

// Load builds the settings from the config file, the environment and the flags of fs
// that were set on the command line. fs must already be parsed.
func Load(fs *flag.FlagSet, configFile string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("audiodev")
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("audiodev")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(dir)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	fs.Visit(func(f *flag.Flag) {
		v.Set(f.Name, f.Value.String())
	})

	return v, nil
}

// Logger builds the logger selected by the loglevel and logfile settings.
// The returned closer must be called when the tool exits.
func Logger(v *viper.Viper) (*slog.Logger, io.Closer, error) {
	opts := slog.HandlerOptions{}
	switch level := strings.ToLower(v.GetString(KeyLogLevel)); level {
	case "none":
		return slog.New(slog.NewTextHandler(io.Discard, nil)), nopCloser{}, nil
	case "error":
		opts.Level = slog.LevelError
	case "warn":
		opts.Level = slog.LevelWarn
	case "info":
		opts.Level = slog.LevelInfo
	case "debug":
		opts.Level = slog.LevelDebug
	default:
		return nil, nil, fmt.Errorf("unexpected log level %q", level)
	}

	name := v.GetString(KeyLogFile)
	if name == "" {
		return slog.New(slog.NewTextHandler(os.Stderr, &opts)), nopCloser{}, nil
	}

	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, nil, err
	}

	return slog.New(slog.NewJSONHandler(f, &opts)), f, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Card resolves the card setting, which is either a number or a card name.
func Card(v *viper.Viper) (uint, error) {
	s := v.GetString(KeyCard)
	if n, err := strconv.ParseUint(s, 10, 32); err == nil {
		return uint(n), nil
	}

	n, err := alsa.FindCard(s)
	if err != nil {
		return 0, err
	}

	return uint(n), nil
}

// Device is an attached audio device on top of an ALSA PCM.
type Device struct {
	*audiodev.Device
	HW *alsa.Device
}

// Open checks the configured PCM and attaches a device to it.
func Open(v *viper.Viper, log *slog.Logger) (*Device, error) {
	card, err := Card(v)
	if err != nil {
		return nil, err
	}

	hw, err := alsa.New(alsa.Config{
		Card:    card,
		Device:  v.GetUint(KeyDevice),
		Periods: v.GetUint(KeyPeriods),
		Logger:  log,
	})
	if err != nil {
		return nil, err
	}

	d, err := audiodev.Attach(hw, &audiodev.Config{
		BlockMs: v.GetUint(KeyBlockMs),
		Blocks:  v.GetUint(KeyBlocks),
		Logger:  log,
		Name:    fmt.Sprintf("hw:%d,%d", card, v.GetUint(KeyDevice)),
	})
	if err != nil {
		_ = hw.Release()

		return nil, err
	}

	return &Device{Device: d, HW: hw}, nil
}

// Close detaches the device and releases the card.
func (d *Device) Close() error {
	return errors.Join(d.Detach(), d.HW.Release())
}

// Proc describes the calling process.
func Proc() audiodev.Proc {
	return audiodev.Proc{PID: os.Getpid(), UID: os.Getuid()}
}
