package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joestump/pplxpool/internal/config"
	"github.com/joestump/pplxpool/internal/mcpserver"
	"github.com/joestump/pplxpool/internal/pool"
	"github.com/joestump/pplxpool/internal/query"
	"github.com/joestump/pplxpool/internal/store"
	"github.com/joestump/pplxpool/internal/upstream"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pplxpool-mcp",
		Short: "Stdio MCP front-end for a shared pplxpool token pool",
		RunE:  run,
	}

	f := rootCmd.Flags()
	f.String("config-file", "/state/token_pool_config.json", "path to the master token/config file")
	f.String("state-file", "/state/pool_state.json", "path to the cross-process runtime state file")
	f.String("socks-proxy", "", "SOCKS5 proxy URL for upstream requests (e.g. socks5://127.0.0.1:1080)")
	f.Int("request-timeout", 900, "seconds before an upstream request is cancelled")

	bindFlag := func(viperKey, flagName string) {
		_ = viper.BindPFlag(viperKey, f.Lookup(flagName))
	}
	bindFlag("config_file", "config-file")
	bindFlag("state_file", "state-file")
	bindFlag("socks_proxy", "socks-proxy")
	bindFlag("request_timeout", "request-timeout")

	viper.SetEnvPrefix("PPLX")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// run builds this process's own Pool instance from the on-disk config, then
// hands it to the query engine, which refreshes it from the shared state
// file at the top of every run_query call (§5 cross-process coordination)
// and writes its runtime state back there after each attempt. It never
// writes the config file: no persistence hooks are wired here.
func run(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	p := pool.New()
	configStore := store.NewConfigStore(cfg.ConfigFile)
	stateStore := store.NewStateStore(cfg.StateFile)

	httpClient, err := upstream.NewHTTPClient(time.Duration(cfg.RequestTimeout)*time.Second, cfg.SOCKSProxy)
	if err != nil {
		return fmt.Errorf("build upstream http client: %w", err)
	}

	tokens, monitorCfg, fallbackCfg, err := configStore.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	p.SetMonitorConfig(monitorCfg)
	p.SetFallbackConfig(fallbackCfg)

	for _, t := range tokens {
		creds := pool.NewCredentials(t.CSRFToken, t.SessionToken)
		session := upstream.NewHTTPSession(creds, httpClient)
		if _, err := p.Add(t.ID, creds, session); err != nil {
			log.Printf("skipping token %q from config: %v", t.ID, err)
			continue
		}
		if !t.Enabled {
			_ = p.Disable(t.ID)
		}
	}

	anon := upstream.NewAnonymousSession(httpClient)
	engine := query.New(p, stateStore, anon, time.Duration(cfg.RequestTimeout)*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		log.Printf("received %s, shutting down...", sig)
		cancel()
	}()

	srv := mcpserver.NewServer(engine, p)
	return srv.Run(ctx)
}
