package main

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	tdigest "github.com/caio/go-tdigest"
	"github.com/glycerine/obsrpc"
	"github.com/glycerine/obsrpc/xmpp"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	configPath string
	server     string
	name       string
	domain     string
	password   string
	settle     time.Duration
	wait       time.Duration
	count      int
	quiet      bool

	rootCmd = &cobra.Command{
		Use:               "obscall",
		Short:             "Talk to observatory modules from the command line",
		PersistentPreRunE: loadConfig,
		SilenceUsage:      true,
	}

	listCmd = &cobra.Command{
		Use:   "list",
		Short: "List connected modules and the interfaces they implement",
		Args:  cobra.NoArgs,
		RunE:  runList,
	}

	callCmd = &cobra.Command{
		Use:   "call <module> <method> [arg...]",
		Short: "Call a method; each arg is parsed as a yaml value",
		Args:  cobra.MinimumNArgs(2),
		RunE:  runCall,
	}

	watchCmd = &cobra.Command{
		Use:   "watch [event type...]",
		Short: "Print events as they arrive; default is every event",
		RunE:  runWatch,
	}

	cfg *obsrpc.Config
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "yaml config file (default "+obsrpc.DefaultConfigPath()+")")
	pf.StringVarP(&server, "server", "s", "", "router websocket url, e.g. ws://localhost:5280/xmpp")
	pf.StringVar(&name, "name", "", "our module name; the user part of our JID")
	pf.StringVarP(&domain, "domain", "d", "", "XMPP domain")
	pf.StringVarP(&password, "password", "p", "", "password for our JID")
	pf.DurationVar(&settle, "settle", 500*time.Millisecond, "time to collect presence before acting")

	callCmd.Flags().DurationVar(&wait, "wait", 0, "default call timeout; 0 keeps the configured one")
	callCmd.Flags().IntVarP(&count, "count", "n", 1, "number of calls to make")
	callCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print results")

	rootCmd.AddCommand(listCmd, callCmd, watchCmd)
}

func main() {
	obsrpc.Exit1IfVersionReq()
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("obscall: %v", err)
	}
}

func loadConfig(cmd *cobra.Command, args []string) (err error) {
	cfg, err = obsrpc.LoadConfig(configPath)
	if err != nil && cfg == nil {
		return err
	}
	if server != "" {
		cfg.Server = server
	}
	if name != "" {
		cfg.Name = name
	}
	if cfg.Name == "" {
		// unique, so several obscalls can share a router
		cfg.Name = "obscall-" + obsrpc.NewCryRandSuffix()
	}
	if domain != "" {
		cfg.Domain = domain
	}
	if password != "" {
		cfg.Password = password
	}
	if wait > 0 {
		cfg.CallTimeout = wait
	}
	return cfg.Validate()
}

func connect(ctx context.Context) (*obsrpc.Comm, error) {
	if cfg.Server == "" {
		return nil, fmt.Errorf("no router given: use -s or set server in the config")
	}
	c := xmpp.NewComm(cfg, nil, nil)
	if err := c.Open(ctx); err != nil {
		return nil, err
	}
	time.Sleep(settle)
	return c, nil
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	c, err := connect(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	for _, peer := range c.Clients() {
		p, err := c.GetProxy(ctx, peer)
		if err != nil {
			fmt.Printf("%-20v  (error: %v)\n", peer, err)
			continue
		}
		if p == nil {
			continue
		}
		var names []string
		for _, i := range p.Interfaces() {
			names = append(names, i.Name)
		}
		fmt.Printf("%-20v  %v\n", peer, strings.Join(names, " "))
	}
	return nil
}

// parseArg reads a command line argument as yaml, so 2.5 is a
// float, true a bool and [1, 2] a list.
func parseArg(s string) any {
	var v any
	if err := yaml.Unmarshal([]byte(s), &v); err != nil || v == nil {
		return s
	}
	return v
}

func runCall(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	c, err := connect(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	module, method := args[0], args[1]
	var callArgs []any
	for _, a := range args[2:] {
		callArgs = append(callArgs, parseArg(a))
	}
	p, err := c.Proxy(ctx, module, nil)
	if err != nil {
		return err
	}

	// compress of 100 still gives good accuracy at the tails
	td, err := tdigest.New(tdigest.Compression(100))
	if err != nil {
		return err
	}
	var res any
	slowest := time.Duration(0)
	for i := 0; i < count; i++ {
		t0 := time.Now()
		res, err = p.Execute(ctx, method, callArgs...).Wait(ctx)
		if err != nil {
			return err
		}
		elap := time.Since(t0)
		if err := td.Add(float64(elap)); err != nil {
			return err
		}
		if elap > slowest {
			slowest = elap
		}
	}
	if !quiet {
		by, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			fmt.Printf("%v\n", res)
		} else {
			fmt.Printf("%s\n", by)
		}
	}
	if count > 1 {
		log.Printf("%v calls to %v.%v: slowest=%v q99=%v q50=%v", count, module, method, slowest,
			time.Duration(td.Quantile(0.99)), time.Duration(td.Quantile(0.50)))
	}
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	types := []*obsrpc.EventType{obsrpc.EventBase}
	if len(args) > 0 {
		types = types[:0]
		for _, a := range args {
			t := lookupEventType(a)
			if t == nil {
				return fmt.Errorf("unknown event type '%v'", a)
			}
			types = append(types, t)
		}
	}
	c := xmpp.NewComm(cfg, nil, nil)
	show := func(ctx context.Context, ev *obsrpc.Event) error {
		by, _ := json.Marshal(ev.Data)
		fmt.Printf("%v %-12v %-28v %s\n", ev.Time().Format(time.RFC3339), ev.Sender, ev.Type, by)
		return nil
	}
	for _, t := range types {
		if err := c.RegisterEvent(ctx, t, "obscall.watch", show); err != nil {
			return err
		}
	}
	if err := c.Open(ctx); err != nil {
		return err
	}
	defer c.Close()
	log.Printf("watching %v event type(s) as %v; ^C to stop", len(types), cfg.Name)
	select {}
}

func lookupEventType(name string) *obsrpc.EventType {
	if t := obsrpc.Events.Lookup(name); t != nil {
		return t
	}
	return obsrpc.Events.Lookup(name + "Event")
}
