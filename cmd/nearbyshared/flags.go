package main

import (
	"flag"

	"github.com/InterShare/InterShareSDK/orchestrator"
)

// flagSet wraps flag.FlagSet the way the reference CLI binds typed flags
// directly onto a Config value.
type flagSet struct {
	*flag.FlagSet
}

func newCustomFlagSet(name string) *flagSet {
	return &flagSet{FlagSet: flag.NewFlagSet(name, flag.ContinueOnError)}
}

// newFlagSet creates a flag.FlagSet bound to cfg, plus the send-mode flags
// returned separately since they don't belong on Config.
func newFlagSet(cfg *orchestrator.Config) (*flagSet, *sendFlags) {
	fs := newCustomFlagSet("nearbyshared")
	fs.StringVar(&cfg.DataDir, "datadir", cfg.DataDir, "data directory path")
	fs.StringVar(&cfg.DeviceName, "name", cfg.DeviceName, "device name advertised to peers")
	fs.StringVar(&cfg.DeviceType, "device-type", cfg.DeviceType, "device type (mobile, desktop, headless)")
	fs.IntVar(&cfg.TCPPort, "port", cfg.TCPPort, "TCP listening port (0 = any free port)")
	fs.BoolVar(&cfg.Advertise, "advertise", cfg.Advertise, "advertise this device to nearby peers")
	fs.BoolVar(&cfg.BLEEnabled, "ble", cfg.BLEEnabled, "enable the BLE transport (requires a platform delegate; always off in this CLI)")
	fs.StringVar(&cfg.LogLevel, "loglevel", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.BoolVar(&cfg.Metrics, "metrics", cfg.Metrics, "enable metrics collection")

	send := &sendFlags{}
	fs.StringVar(&send.peerHost, "send-to", "", "peer hostname:port to send files to; if set, sends and exits instead of running as a daemon")
	fs.StringVar(&send.files, "files", "", "comma-separated paths to send (required with -send-to)")
	return fs, send
}

// sendFlags holds the one-shot send-mode flags, kept separate from Config
// since they describe an action rather than daemon state.
type sendFlags struct {
	peerHost string
	files    string
}
