package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/spf13/cobra"

	"github.com/evex-dev/rakubot/internal/bot"
	"github.com/evex-dev/rakubot/internal/config"
	"github.com/evex-dev/rakubot/internal/logger"
	"github.com/evex-dev/rakubot/internal/marketfeed"
	"github.com/evex-dev/rakubot/internal/rakuten"
	"github.com/evex-dev/rakubot/internal/server"
	"github.com/evex-dev/rakubot/internal/session"
)

var (
	cfgPath string
	version = "dev"
)

var rootCmd = &cobra.Command{
	Use:     "rakubot",
	Short:   "Discord bridge to the Rakuten AI streaming backend",
	Version: version,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bot until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVarP(&cfgPath, "config", "c", config.DefaultConfigPath, "path to the TOML config file")
	rootCmd.AddCommand(serveCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// statusSource feeds the status endpoint from the live components.
type statusSource struct {
	registry *session.Registry
	feed     *marketfeed.Feed
}

func (s *statusSource) SessionCount() int {
	return s.registry.Len()
}

func (s *statusSource) FeedConnected() (bool, bool) {
	if s.feed == nil {
		return false, false
	}
	return true, s.feed.Connected()
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	client := rakuten.NewClient(log, cfg.Rakuten.BaseURL, time.Duration(cfg.Rakuten.TimeoutSeconds)*time.Second)
	opener := func(ctx context.Context) (*rakuten.Thread, error) {
		user, err := client.CreateUser(ctx)
		if err != nil {
			return nil, err
		}
		return client.CreateThread(ctx, user.ID)
	}
	registry := session.NewRegistry(log, opener, cfg.Chat.SystemContext)

	dg, err := discordgo.New("Bot " + cfg.Discord.Token)
	if err != nil {
		return fmt.Errorf("discord session: %w", err)
	}

	b := bot.New(log, dg, registry, bot.Options{
		MaxMessageLen:  cfg.Chat.MaxMessageLen,
		ContextWindow:  cfg.Chat.ContextWindow,
		TypingInterval: cfg.Chat.TypingInterval,
		Model:          cfg.Rakuten.Model,
	})
	if err := b.Start(); err != nil {
		return fmt.Errorf("start bot: %w", err)
	}
	defer b.Stop()
	log.Info("bot started")

	var feed *marketfeed.Feed
	if cfg.Market.Enabled {
		feed = marketfeed.New(log, cfg.Market.URL, marketHandler(log, dg, cfg.Market.AnnounceChannelID))
		feed.Start(ctx)
		if len(cfg.Market.Channels) > 0 {
			feed.Subscribe(cfg.Market.Channels...)
		}
		log.Info("market feed started", "url", cfg.Market.URL)
	}

	if cfg.Status.Enabled {
		srv := server.NewServer(cfg.Status.Addr, &statusSource{registry: registry, feed: feed})
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("status server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
		log.Info("status server started", "addr", cfg.Status.Addr)
	}

	<-ctx.Done()
	log.Info("shutting down")
	return nil
}

// announceSender is the slice of *discordgo.Session the market handler needs.
type announceSender interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// marketHandler logs control frames and, when an announce channel is set,
// posts subscription acknowledgements there so operators can see the feed
// come and go without shell access.
func marketHandler(log *slog.Logger, sender announceSender, announceChannelID string) marketfeed.Handler {
	return func(m marketfeed.Message) {
		if m.Control != nil {
			log.Debug("market control frame", "frame", m.Control)
			if announceChannelID == "" {
				return
			}
			if msg, ok := m.Control["msg"].(string); ok && msg != "" {
				if _, err := sender.ChannelMessageSend(announceChannelID, "-# market feed: "+msg); err != nil {
					log.Warn("market announce failed", "channel_id", announceChannelID, "error", err)
				}
			}
			return
		}
		log.Debug("market data frame", "bytes", len(m.Data))
	}
}
