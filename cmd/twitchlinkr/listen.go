package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	twitchlinkr "github.com/twitchlinkr/twitchlinkr-go"
	"golang.org/x/sync/errgroup"
)

var (
	listenSubscribe   []string
	listenURL         string
	listenMetricsAddr string
	listenNoHeartbeat bool
	listenJSON        bool
)

func init() {
	rootCmd.AddCommand(listenCmd)
	listenCmd.Flags().StringArrayVarP(&listenSubscribe, "subscribe", "s", nil,
		"subscription to create on every new session, as type@version:key=value[,key=value] (repeatable)")
	listenCmd.Flags().StringVar(&listenURL, "url", "", "EventSub WebSocket URL (overrides default.eventsub_url)")
	listenCmd.Flags().StringVar(&listenMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	listenCmd.Flags().BoolVar(&listenNoHeartbeat, "no-heartbeat", false, "do not ping the server")
	listenCmd.Flags().BoolVar(&listenJSON, "json", false, "print notifications as JSON lines")
}

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Open an EventSub WebSocket session and print notifications",
	Long: "Connect to EventSub, create the requested subscriptions once the session is welcomed and\n" +
		"print every notification until interrupted.\n\n" +
		"Example: twitchlinkr listen -s channel.follow@2:broadcaster_user_id=1234,moderator_user_id=1234",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		subs := make([]subscriptionArg, 0, len(listenSubscribe))
		for _, s := range listenSubscribe {
			arg, err := parseSubscription(s)
			if err != nil {
				return err
			}
			subs = append(subs, arg)
		}

		var helix *twitchlinkr.Client
		if len(subs) > 0 {
			if helix, err = getHelixClient(cfg); err != nil {
				return err
			}
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		l := &listener{
			logger:   slog.Default().With("run_id", uuid.NewString()),
			helix:    helix,
			subs:     subs,
			json:     listenJSON,
			welcomes: make(chan twitchlinkr.Session, 1),
			fatal:    make(chan error, 1),
		}
		return l.run(ctx, valueOrDefault(listenURL, cfg.Default.EventSubURL), listenMetricsAddr)
	},
}

// ============================================================================
// Subscription arguments
// ============================================================================

type subscriptionArg struct {
	Type      string
	Version   string
	Condition map[string]string
}

// parseSubscription parses "type@version:key=value,key=value".
func parseSubscription(s string) (subscriptionArg, error) {
	head, cond, ok := strings.Cut(s, ":")
	if !ok {
		return subscriptionArg{}, fmt.Errorf("subscription %q: missing condition after ':'", s)
	}
	typ, version, ok := strings.Cut(head, "@")
	if !ok || typ == "" || version == "" {
		return subscriptionArg{}, fmt.Errorf("subscription %q: expected type@version", s)
	}

	arg := subscriptionArg{Type: typ, Version: version, Condition: map[string]string{}}
	for _, pair := range strings.Split(cond, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || k == "" {
			return subscriptionArg{}, fmt.Errorf("subscription %q: condition %q is not key=value", s, pair)
		}
		arg.Condition[k] = v
	}
	return arg, nil
}

// ============================================================================
// Listener
// ============================================================================

type listener struct {
	logger   *slog.Logger
	helix    *twitchlinkr.Client
	subs     []subscriptionArg
	json     bool
	welcomes chan twitchlinkr.Session
	fatal    chan error
}

func (l *listener) run(ctx context.Context, url, metricsAddr string) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := []twitchlinkr.WebSocketOption{
		twitchlinkr.WithLogger(l.logger),
		twitchlinkr.WithMetrics(twitchlinkr.NewMetrics(reg)),
	}
	if listenNoHeartbeat {
		opts = append(opts, twitchlinkr.WithHeartbeat(-1, 0))
	}
	ws := twitchlinkr.NewWebSocketClient(opts...)
	ws.OnNotification(l.printNotification)
	ws.OnWelcome(func(s twitchlinkr.Session) {
		// Drop the older pending welcome; only the latest session matters.
		select {
		case <-l.welcomes:
		default:
		}
		l.welcomes <- s
	})
	ws.OnReconnecting(func(attempt int, url string) {
		warning("reconnecting (attempt %d) to %s", attempt, url)
	})
	ws.OnRevocation(func(msg *twitchlinkr.ServiceMessage) {
		l.stop(fmt.Errorf("session revoked: %s", msg.Payload.Session.Status))
	})
	ws.OnFatal(l.stop)

	g, gctx := errgroup.WithContext(ctx)

	if metricsAddr != "" {
		srv := &http.Server{
			Addr:              metricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			l.logger.Info("serving metrics", "addr", metricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		if err := ws.Connect(gctx, url); err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		success("session %s open on %s", ws.SessionID(), ws.URL())

		select {
		case <-gctx.Done():
			return ws.Disconnect()
		case err := <-l.fatal:
			ws.Disconnect()
			return err
		}
	})

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case s := <-l.welcomes:
				l.subscribeAll(gctx, ws, s)
			}
		}
	})

	err := g.Wait()
	if err != nil && ctx.Err() != nil {
		// Interrupted.
		return nil
	}
	return err
}

func (l *listener) stop(err error) {
	select {
	case l.fatal <- err:
	default:
	}
}

// subscribeAll creates the requested subscriptions on a freshly welcomed
// session. Sessions reached through session_reconnect keep their
// subscriptions, so Twitch answers those with 409 Conflict.
func (l *listener) subscribeAll(ctx context.Context, ws *twitchlinkr.WebSocketClient, s twitchlinkr.Session) {
	if l.helix == nil {
		return
	}
	for _, arg := range l.subs {
		sub, err := l.helix.SubscribeSession(ctx, ws, arg.Type, arg.Version, arg.Condition)
		var apiErr *twitchlinkr.APIError
		switch {
		case errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict:
			l.logger.Info("subscription already exists", "type", arg.Type, "session_id", s.ID)
		case err != nil:
			failure("subscribe %s@%s: %v", arg.Type, arg.Version, err)
		default:
			info("subscribed %s@%s (%s, cost %d)", sub.Type, sub.Version, sub.Status, sub.Cost)
		}
	}
}

func (l *listener) printNotification(msg *twitchlinkr.NotificationMessage) {
	if l.json {
		b, err := json.Marshal(msg)
		if err != nil {
			l.logger.Warn("cannot encode notification", "message_id", msg.ID(), "error", err)
			return
		}
		fmt.Fprintln(stdout, string(b))
		return
	}

	gray.Fprintf(stdout, "%s ", msg.Metadata.MessageTimestamp.Local().Format(time.TimeOnly))
	bold.Fprintf(stdout, "%s", msg.Metadata.SubscriptionType)
	fmt.Fprintf(stdout, " %s\n", compactJSON(msg.Payload.Event))
}

func compactJSON(raw json.RawMessage) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return string(raw)
	}
	return string(b)
}
