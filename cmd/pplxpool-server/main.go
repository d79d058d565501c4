package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joestump/pplxpool/internal/adminapi"
	"github.com/joestump/pplxpool/internal/config"
	"github.com/joestump/pplxpool/internal/monitor"
	"github.com/joestump/pplxpool/internal/pool"
	"github.com/joestump/pplxpool/internal/query"
	"github.com/joestump/pplxpool/internal/store"
	"github.com/joestump/pplxpool/internal/upstream"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pplxpool-server",
		Short: "Admin HTTP server and background health monitor for a pplxpool token pool",
		RunE:  run,
	}

	f := rootCmd.Flags()
	f.String("config-file", "/state/token_pool_config.json", "path to the master token/config file")
	f.String("state-file", "/state/pool_state.json", "path to the cross-process runtime state file")
	f.String("admin-token", "", "bearer token required on mutating admin routes (empty disables the check)")
	f.Int("admin-port", 8080, "HTTP port for the admin API")
	f.String("socks-proxy", "", "SOCKS5 proxy URL for upstream requests (e.g. socks5://127.0.0.1:1080)")
	f.Int("request-timeout", 900, "seconds before an upstream request is cancelled")
	f.Float64("monitor-interval", 1.0, "hours between background health-check ticks")
	f.Bool("monitor-enable", true, "run the background health monitor")
	f.Bool("fallback-to-auto", true, "fall back to auto mode when a quota-gated mode is exhausted")
	f.String("telegram-bot-token", "", "Telegram bot token for health-change notifications")
	f.String("telegram-chat-id", "", "Telegram chat id for health-change notifications")
	f.Bool("verbose", false, "enable verbose logging")

	bindFlag := func(viperKey, flagName string) {
		_ = viper.BindPFlag(viperKey, f.Lookup(flagName))
	}
	bindFlag("config_file", "config-file")
	bindFlag("state_file", "state-file")
	bindFlag("admin_token", "admin-token")
	bindFlag("admin_port", "admin-port")
	bindFlag("socks_proxy", "socks-proxy")
	bindFlag("request_timeout", "request-timeout")
	bindFlag("monitor_interval", "monitor-interval")
	bindFlag("monitor_enable", "monitor-enable")
	bindFlag("fallback_to_auto", "fallback-to-auto")
	bindFlag("telegram_bot_token", "telegram-bot-token")
	bindFlag("telegram_chat_id", "telegram-chat-id")
	bindFlag("verbose", "verbose")

	viper.SetEnvPrefix("PPLX")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	fmt.Printf("pplxpool-server %s starting\n", config.Version)
	fmt.Printf("  config: %s\n", cfg.ConfigFile)
	fmt.Printf("  state:  %s\n", cfg.StateFile)
	fmt.Printf("  admin port: %d\n", cfg.AdminPort)
	fmt.Println()

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
	if monitorCfg == (pool.MonitorConfig{}) {
		monitorCfg = pool.MonitorConfig{Enable: cfg.MonitorEnable, IntervalHours: cfg.MonitorInterval}
	}
	if cfg.TelegramBotToken != "" {
		monitorCfg.TGBotToken = &cfg.TelegramBotToken
	}
	if cfg.TelegramChatID != "" {
		monitorCfg.TGChatID = &cfg.TelegramChatID
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

	states, err := stateStore.Load()
	if err != nil {
		log.Printf("load state: %v (starting with empty runtime state)", err)
	} else {
		store.ApplyToPool(p, states)
	}

	p.OnConfigChange = func() {
		tokens := store.TokensFromPool(p)
		if err := configStore.Save(tokens, p.GetMonitorConfig(), p.GetFallbackConfig()); err != nil {
			log.Printf("save config: %v", err)
		}
	}
	p.OnStateChange = func() {
		states := store.SnapshotFromPool(p)
		if err := stateStore.Save(states, time.Now()); err != nil {
			log.Printf("save state: %v", err)
		}
	}

	notifiers := monitor.MultiNotifier{&monitor.LogNotifier{}}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		notifiers = append(notifiers, monitor.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	mon := monitor.New(p, notifiers)

	anon := upstream.NewAnonymousSession(httpClient)
	engine := query.New(p, stateStore, anon, time.Duration(cfg.RequestTimeout)*time.Second)

	server := adminapi.New(p, mon, engine, configStore, cfg.AdminToken)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go mon.Run(ctx)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.AdminPort),
		Handler: server,
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("admin server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	log.Printf("received %s, shutting down...", sig)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("admin server shutdown: %v", err)
	}

	return nil
}
