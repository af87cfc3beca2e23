package main

import (
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "net/http/pprof" // for web based profiling while running

	"github.com/glycerine/obsrpc"
	"github.com/glycerine/obsrpc/xmpp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	addr      string
	domain    string
	wsPath    string
	credsPath string
	profile   string
	seconds   int

	rootCmd = &cobra.Command{
		Use:   "obsrouter",
		Short: "Route stanzas between observatory modules over websockets",
		Long: `obsrouter authenticates modules, routes their calls and
presence, and fans out published events. Prometheus metrics
are served on /metrics.`,
		RunE: runRouter,
	}
)

func init() {
	f := rootCmd.Flags()
	f.StringVarP(&addr, "addr", "s", "0.0.0.0:5280", "address to bind and listen on")
	f.StringVarP(&domain, "domain", "d", "localhost", "the XMPP domain we serve")
	f.StringVar(&wsPath, "path", "/xmpp", "websocket endpoint path")
	f.StringVar(&credsPath, "creds", "", "yaml file mapping bare JIDs to passwords; empty admits anyone in our domain")
	f.StringVar(&profile, "prof", "", "host:port to start web profiler on")
	f.IntVar(&seconds, "sec", 0, "run for this many seconds, then exit")
}

func main() {
	obsrpc.Exit1IfVersionReq()
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("obsrouter: %v", err)
	}
}

func loadCreds(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	by, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	creds := make(map[string]string)
	if err := yaml.Unmarshal(by, &creds); err != nil {
		return nil, fmt.Errorf("parsing creds '%v': %w", path, err)
	}
	return creds, nil
}

func runRouter(cmd *cobra.Command, args []string) error {
	log.Printf("obsrouter %v", obsrpc.ReadBuildInfo())

	creds, err := loadCreds(credsPath)
	if err != nil {
		return err
	}
	if creds == nil {
		log.Printf("no -creds given: admitting any module in domain '%v'", domain)
	}

	if profile != "" {
		fmt.Printf("webprofile starting at '%v'...\n", profile)
		go func() {
			http.ListenAndServe(profile, nil)
		}()
	}

	r := xmpp.NewRouter(domain, creds, slog.Default())
	defer r.Close()

	mux := http.NewServeMux()
	mux.Handle(wsPath, r)
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()
	log.Printf("obsrouter serving domain '%v' at ws://%v%v", domain, addr, wsPath)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var deadline <-chan time.Time
	if seconds > 0 {
		deadline = time.After(time.Duration(seconds) * time.Second)
	}
	select {
	case err := <-errc:
		return err
	case <-sigChan:
	case <-deadline:
	}
	log.Printf("obsrouter shutting down; %v sessions open", len(r.Sessions()))
	return srv.Close()
}
