package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"serena/app/client/telegram"
	"serena/app/config"
	"serena/app/server"
	"serena/app/service/conversation"
	"serena/app/service/engine"
	"serena/app/service/entitlement"
	"serena/app/service/queue"
	"serena/app/service/session"
	"serena/app/util/mylog"

	"github.com/gofiber/fiber/v2/log"
	"github.com/samber/do"
)

func main() {
	di := do.New()
	defer di.Shutdown()
	defer log.Info("Waiting for services to finish...")

	mylog.Preinit()

	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	do.ProvideValue(di, appCtx)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	do.ProvideValue(di, cfg)

	if err = mylog.Init(cfg); err != nil {
		log.Fatalf("logging init failed: %v", err)
	}

	do.Provide(di, newStore)
	do.Provide(di, telegram.NewClient)
	do.Provide(di, entitlement.New)
	do.Provide(di, session.New)
	do.Provide(di, conversation.New)
	do.Provide(di, queue.New)
	do.Provide(di, engine.New)
	do.Provide(di, server.New)

	slog.Info("Service started")

	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt)
		<-sigint

		log.Info("Shutting down...")

		cancel()
	}()

	go do.MustInvoke[*server.Service](di).Run()

	go do.MustInvoke[*engine.Service](di).Run(appCtx)

	<-appCtx.Done()
}

func newStore(di *do.Injector) (entitlement.Store, error) {
	cfg := do.MustInvoke[*config.Config](di)

	if cfg.DB.Driver == "postgres" {
		return entitlement.NewPGStore(do.MustInvoke[context.Context](di), cfg)
	}

	return entitlement.NewFileStore(cfg.DB.Path)
}
