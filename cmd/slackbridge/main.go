package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/colorcrew/slackbridge/pkg/config"
	"github.com/colorcrew/slackbridge/pkg/gateway"
	"github.com/colorcrew/slackbridge/pkg/heartbeat"
	"github.com/colorcrew/slackbridge/pkg/logger"
	"github.com/colorcrew/slackbridge/pkg/monitor"
	"github.com/colorcrew/slackbridge/pkg/notify"
	"github.com/colorcrew/slackbridge/pkg/registry"
	"github.com/colorcrew/slackbridge/pkg/relevance"
	"github.com/colorcrew/slackbridge/pkg/slackapi"
)

func main() {
	configPath := flag.String("config", "slack_config.json", "path to the daemon config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "slackbridge: %v\n", err)
		os.Exit(1)
	}

	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	if cfg.Logging.FileEnabled {
		if err := logger.EnableFileLogging(cfg.Logging.FilePath, cfg.Logging.MaxSizeMB); err != nil {
			fmt.Fprintf(os.Stderr, "slackbridge: file logging: %v\n", err)
			os.Exit(1)
		}
		defer logger.DisableFileLogging()
	}

	if err := run(cfg); err != nil {
		logger.FatalCF("main", "Daemon failed", map[string]interface{}{
			"error": err.Error(),
		})
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	colors := make([]string, 0, len(cfg.Agents))
	clients := map[string]*slackapi.Client{}
	for color, agent := range cfg.Agents {
		limiter := slackapi.NewRateLimiter(cfg.RateLimiting.MessagesPerMinute, cfg.RateLimiting.APICallsPerMinute)
		clients[color] = slackapi.NewClient(agent.BotToken, limiter)
		colors = append(colors, color)
		logger.InfoCF("main", "Chat client created", map[string]interface{}{
			"color": color,
			"agent": agent.Display(),
		})
	}

	resolveIdentities(ctx, cfg, clients)

	reg := registry.New(colors)

	gatewayClients := map[string]gateway.ChatClient{}
	for color, c := range clients {
		gatewayClients[color] = c
	}
	server := gateway.NewServer(cfg, reg, gatewayClients)

	notifier := notify.New()
	server.SetProber(notifier)

	targets := map[string]monitor.Target{}
	for color, c := range clients {
		agent := cfg.Agents[color]
		targets[color] = monitor.Target{
			Source: c,
			Identity: relevance.Identity{
				Color:          color,
				FriendlyName:   agent.FriendlyName(),
				ConfiguredName: agent.Name,
				BotUserID:      agent.BotUserID,
			},
			Channel: cfg.ChannelFor(color),
		}
	}
	loop := monitor.New(reg, notifier, targets,
		time.Duration(cfg.Monitor.IntervalSeconds)*time.Second, cfg.Monitor.FetchLimit)

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("working directory: %w", err)
	}
	if err := server.Start(cwd); err != nil {
		return err
	}

	go loop.Run(ctx)

	if cfg.Heartbeat.Enabled {
		hbColor, ok := cfg.ResolveColor(cfg.Heartbeat.Agent)
		if !ok {
			return fmt.Errorf("heartbeat agent %q not configured", cfg.Heartbeat.Agent)
		}
		hbClient := clients[hbColor]
		sender := heartbeat.SenderFunc(func(ctx context.Context, text, channel string) (interface{}, error) {
			return hbClient.SendMessage(ctx, text, channel)
		})
		announcer := heartbeat.New(cfg.Heartbeat.Schedule, cfg.ChannelFor(hbColor), sender, reg)
		go announcer.Run(ctx)
	}

	logger.InfoCF("main", "Daemon started", map[string]interface{}{
		"port":   server.Port(),
		"agents": len(cfg.Agents),
	})

	<-ctx.Done()
	logger.InfoC("main", "Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.WarnCF("main", "HTTP shutdown incomplete", map[string]interface{}{
			"error": err.Error(),
		})
	}

	logger.InfoC("main", "Daemon stopped")
	return nil
}

// resolveIdentities fills in missing bot user IDs via the platform's
// identity check. A failure leaves the configured value in place; the
// relevance filter degrades to textual patterns for that agent.
func resolveIdentities(ctx context.Context, cfg *config.Config, clients map[string]*slackapi.Client) {
	for color, client := range clients {
		agent := cfg.Agents[color]
		if agent.BotUserID != "" {
			continue
		}
		identity, err := client.AuthTest(ctx)
		if err != nil {
			logger.WarnCF("main", "Bot identity check failed", map[string]interface{}{
				"color": color,
				"error": err.Error(),
			})
			continue
		}
		agent.BotUserID = identity.UserID
		agent.BotID = identity.BotID
		cfg.Agents[color] = agent
		logger.InfoCF("main", "Bot identity resolved", map[string]interface{}{
			"color":       color,
			"bot_user_id": identity.UserID,
		})
	}
}
