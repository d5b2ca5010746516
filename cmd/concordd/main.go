package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	formatter "github.com/antonfisher/nested-logrus-formatter"
	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"

	"github.com/dollspace-gay/concord/engine"
	"github.com/dollspace-gay/concord/irc"
	"github.com/dollspace-gay/concord/store"
	"github.com/dollspace-gay/concord/store/sqlite"
)

// config binds the environment-driven surface named in §6.4: the
// persistence handle, bind address, MOTD, and overrides for the
// engine's per-nickname message limiter, all via envconfig per the
// ambient-stack decision recorded in DESIGN.md.
type config struct {
	Hostname    string `envconfig:"CONCORD_HOSTNAME" default:"concord.local"`
	ListenAddr  string `envconfig:"CONCORD_LISTEN_ADDR" default:":6667"`
	DBPath      string `envconfig:"CONCORD_DB_PATH" default:"concord.db"`
	MOTD        string `envconfig:"CONCORD_MOTD" default:"Welcome to Concord."`
	LogLevel    string `envconfig:"CONCORD_LOG_LEVEL" default:"info"`
	MessageBurst int   `envconfig:"CONCORD_MESSAGE_BURST" default:"10"`
	MessageRefillRate float64 `envconfig:"CONCORD_MESSAGE_REFILL_RATE" default:"1"`
	ShutdownTimeout time.Duration `envconfig:"CONCORD_SHUTDOWN_TIMEOUT" default:"30s"`
}

func main() {
	var cfg config
	if err := envconfig.Process("concord", &cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := logrus.New()
	logger.SetFormatter(&formatter.Formatter{
		HideKeys:    true,
		TimestampFormat: time.RFC3339,
	})
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	log := logger.WithField("component", "concordd")

	mainContext, shutdown := context.WithCancel(context.Background())
	defer shutdown()

	adapter, err := sqlite.Open(mainContext, cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open persistence store: %s", err)
	}
	defer adapter.Close()

	dispatcher := store.NewDispatcher(8, log)
	defer dispatcher.Wait()

	eng, err := engine.New(mainContext, adapter, dispatcher, log, engine.Config{
		MessageBurst:      cfg.MessageBurst,
		MessageRefillRate: cfg.MessageRefillRate,
	})
	if err != nil {
		log.Fatalf("failed to start engine: %s", err)
	}

	wg := conc.NewWaitGroup()
	defer wg.Wait()

	tenantID, err := bootstrapDefaultTenant(mainContext, adapter, eng)
	if err != nil {
		log.Fatalf("failed to bootstrap default tenant: %s", err)
	}

	lineServer := irc.NewServer(eng, adapter, log.WithField("sub-component", "irc"))
	lineServer.SetHostname(cfg.Hostname)
	lineServer.SetAddress(cfg.ListenAddr)
	lineServer.SetMOTD(cfg.MOTD)
	lineServer.SetDefaultTenant(tenantID)

	wg.Go(func() {
		if err := lineServer.ListenAndServe(); err != nil {
			log.Fatalf("line protocol listener stopped: %s", err)
		}
	})

	killSignals := make(chan os.Signal, 1)
	signal.Notify(killSignals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-killSignals
		log.Infof("shutting down, received signal: %s", sig)
		shutdown()

		select {
		case sig := <-killSignals:
			log.Fatalf("forcing shutdown, received signal: %s", sig)
		case <-time.After(cfg.ShutdownTimeout):
			log.Fatal("shutdown timeout exceeded, forcing exit")
		}
	}()

	<-mainContext.Done()
}

// bootstrapDefaultTenant returns the id of the first persisted server,
// creating one named "Default" owned by no one in particular if the
// store is empty. The line protocol's one-tenant-per-listener model
// (§6.4) needs some tenant to exist before the first connection
// arrives.
func bootstrapDefaultTenant(ctx context.Context, adapter store.Adapter, eng *engine.Engine) (string, error) {
	rows, err := adapter.ListServers(ctx)
	if err != nil {
		return "", err
	}
	if len(rows) > 0 {
		return rows[0].ID, nil
	}

	srv, _, err := eng.CreateServer(ctx, "Default", "")
	if err != nil {
		return "", err
	}
	return srv.ID(), nil
}
