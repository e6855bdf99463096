// Command wizproxy runs a transparent intercepting proxy in front of a
// KingsIsle game server deployment, starting with the login server and
// spawning further shards on the fly as the client gets redirected.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/vbe0201/wizproxy/capture"
	"github.com/vbe0201/wizproxy/keymaterial"
	"github.com/vbe0201/wizproxy/observability"
	"github.com/vbe0201/wizproxy/observability/prom"
	"github.com/vbe0201/wizproxy/plugin/verboselog"
	"github.com/vbe0201/wizproxy/proxy"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func run(args []string, stdout, stderr io.Writer) int {
	host := envString("WIZPROXY_HOST", "")
	login := envString("WIZPROXY_LOGIN", "login.us.wizard101.com")
	portStr := envString("WIZPROXY_PORT", "12000")
	capturePath := envString("WIZPROXY_CAPTURE", "")
	metricsListen := envString("WIZPROXY_METRICS_LISTEN", "")

	fs := flag.NewFlagSet("wizproxy", flag.ContinueOnError)
	fs.SetOutput(stderr)

	verbose := false
	fs.StringVar(&host, "host", host, "interface to bind shard listeners to (default: wildcard) (env: WIZPROXY_HOST)")
	fs.StringVar(&login, "login", login, "hostname or IP of the Login Server (env: WIZPROXY_LOGIN)")
	fs.StringVar(&portStr, "port", portStr, "TCP port of the Login Server (env: WIZPROXY_PORT)")
	fs.StringVar(&capturePath, "capture", capturePath, "capture every frame to this file (env: WIZPROXY_CAPTURE)")
	fs.StringVar(&metricsListen, "metrics-listen", metricsListen, "listen address for a Prometheus /metrics endpoint (empty disables) (env: WIZPROXY_METRICS_LISTEN)")
	fs.BoolVar(&verbose, "verbose", false, "log every frame crossing the tunnel")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "usage: %s [flags] KEY_DIR\n\n", fs.Name())
		fmt.Fprintf(stderr, "KEY_DIR must contain ki_keys.json and injected_keys.json, and may\n")
		fmt.Fprintf(stderr, "contain ClientSig.dec.bin to answer the ClientSig handshake challenge.\n\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if fs.NArg() != 1 {
		fs.Usage()
		return 2
	}
	keyDir := fs.Arg(0)

	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		fmt.Fprintf(stderr, "invalid --port %q\n", portStr)
		return 2
	}

	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: logLevel}))

	keyChain, err := keymaterial.LoadKeyChain(keyDir)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	sigData, err := keymaterial.LoadClientSig(keyDir)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if sigData == nil {
		log.Warn("no ClientSig.dec.bin found; the ClientSig challenge cannot be answered")
	}

	loginAddrs, err := net.LookupIP(login)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	loginAddr := &net.TCPAddr{IP: loginAddrs[0], Port: port}

	obs := observability.NewAtomic()
	var metricsSrv *http.Server
	var metricsLn net.Listener
	if metricsListen != "" {
		reg := prom.NewRegistry()
		obs.Set(prom.NewObserver(reg))

		mux := http.NewServeMux()
		mux.Handle("/metrics", prom.Handler(reg))
		metricsLn, err = net.Listen("tcp", metricsListen)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		metricsSrv = &http.Server{Handler: mux}
		go func() {
			if err := metricsSrv.Serve(metricsLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server stopped", "error", err)
			}
		}()
	}

	p, err := proxy.New(proxy.Config{
		Host:     host,
		KeyChain: keyChain,
		SigData:  sigData,
		Log:      log,
		Observer: obs,
	})
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	if capturePath != "" {
		w, err := capture.Open(capturePath)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		defer w.Close()
		log.Info("capturing frames", "path", capturePath)
		p.AddPlugin(capture.Plugin(w))
	}

	if verbose {
		p.AddPlugin(verboselog.New(log))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- p.Run(ctx) }()

	self, err := p.SpawnShard(loginAddr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	log.Info("proxying login server", "remote", loginAddr, "local", self)
	fmt.Fprintf(stdout, "%s\n", self)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sig:
	case err := <-runErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			fmt.Fprintln(stderr, err)
		}
	}

	cancel()
	if metricsSrv != nil {
		_ = metricsSrv.Close()
	}
	return 0
}
