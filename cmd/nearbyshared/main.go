// Command nearbyshared runs a nearby-share daemon: it advertises this
// device over TCP (and BLE, given a platform delegate) and accepts
// incoming file transfers, auto-accepting them into its received
// directory. Passing -send-to and -files instead sends files to a peer
// and exits.
//
// Usage:
//
//	nearbyshared [flags]
//
// Flags:
//
//	--datadir      Data directory path (default: ~/.nearbyshare)
//	--name         Device name advertised to peers
//	--device-type  Device type: mobile, desktop, headless
//	--port         TCP listening port (default: any free port)
//	--advertise    Advertise this device (default: true)
//	--loglevel     Log level: debug, info, warn, error
//	--metrics      Enable metrics collection
//	--send-to      Peer hostname:port; sends and exits instead of serving
//	--files        Comma-separated paths to send (with -send-to)
//	--version      Print version and exit
package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/InterShare/InterShareSDK/orchestrator"
	"github.com/InterShare/InterShareSDK/session"
	"github.com/InterShare/InterShareSDK/wire"
)

var (
	version = "v0.1.0-dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// autoAcceptDelegate accepts every incoming transfer request, the way a
// headless or CI instance of the daemon would; interactive frontends
// substitute their own ConnectionDelegate that prompts the user instead.
type autoAcceptDelegate struct{}

func (autoAcceptDelegate) ReceivedConnectionRequest(req *session.ConnectionRequest) {
	log.Printf("incoming transfer from %s: %s (%d bytes, %d file(s))", req.Sender.Name, req.FileName, req.FileSize, req.FileCount)
	if err := req.Accept(); err != nil {
		log.Printf("transfer from %s failed: %v", req.Sender.Name, err)
		return
	}
	log.Printf("transfer from %s complete", req.Sender.Name)
}

// cliProgress logs each progress transition to stderr.
type cliProgress struct{}

func (cliProgress) ProgressChanged(state session.ProgressState) {
	switch state.Kind {
	case session.ProgressTransferring:
		log.Printf("transferring: %.0f%%", state.Progress*100)
	default:
		log.Printf("progress: %s", state.Kind)
	}
}

func run(args []string) int {
	cfg := orchestrator.DefaultConfig()
	fs, send := newFlagSet(&cfg)
	showVersion := fs.Bool("version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}
	if *showVersion {
		fmt.Printf("nearbyshared %s (commit %s)\n", version, commit)
		return 0
	}

	if err := cfg.Validate(); err != nil {
		log.Printf("invalid configuration: %v", err)
		return 1
	}

	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Printf("nearbyshared %s starting", version)
	log.Printf("  datadir:    %s", cfg.DataDir)
	log.Printf("  device:     %s (%s)", cfg.DeviceName, cfg.DeviceType)
	log.Printf("  tcp port:   %d", cfg.TCPPort)
	log.Printf("  advertise:  %v", cfg.Advertise)
	log.Printf("  ble:        %v", cfg.BLEEnabled)
	log.Printf("  loglevel:   %s", cfg.LogLevel)
	log.Printf("  metrics:    %v", cfg.Metrics)

	srv, err := orchestrator.NewServer(cfg, autoAcceptDelegate{}, nil, nil)
	if err != nil {
		log.Printf("failed to create server: %v", err)
		return 1
	}
	if err := srv.Start(); err != nil {
		log.Printf("failed to start server: %v", err)
		return 1
	}

	if send.peerHost != "" {
		return runSend(srv, send)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %v, shutting down...", sig)

	if err := srv.Stop(); err != nil {
		log.Printf("error during shutdown: %v", err)
		return 1
	}
	log.Println("shutdown complete")
	return 0
}

// runSend parses -send-to/-files and performs a single outgoing transfer,
// stopping srv before returning.
func runSend(srv *orchestrator.Server, send *sendFlags) int {
	defer srv.Stop()

	if send.files == "" {
		log.Print("-files is required with -send-to")
		return 2
	}
	host, portStr, err := net.SplitHostPort(send.peerHost)
	if err != nil {
		log.Printf("invalid -send-to %q: %v", send.peerHost, err)
		return 2
	}
	port, err := strconv.ParseUint(portStr, 10, 32)
	if err != nil {
		log.Printf("invalid -send-to port %q: %v", portStr, err)
		return 2
	}

	peer := wire.DeviceConnectionInfo{
		TCP: &wire.TCPConnectionDetails{Hostname: host, Port: uint32(port)},
	}
	paths := strings.Split(send.files, ",")

	err = srv.SendFiles(context.Background(), peer, paths, cliProgress{})
	if err != nil {
		log.Printf("send failed: %v", err)
		return 1
	}
	log.Print("send complete")
	return 0
}
