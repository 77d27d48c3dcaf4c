package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/time/rate"

	"github.com/astromechza/appcanvas/pkg/config"
	"github.com/astromechza/appcanvas/pkg/logging"
	"github.com/astromechza/appcanvas/pkg/relay"
	"github.com/astromechza/appcanvas/pkg/viz"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	addrVar := flag.String("addr", cfg.ListenAddr, "the address to listen on")
	dbVar := flag.String("db", cfg.DatabasePath, "the sqlite database holding room snapshots")
	renderVar := flag.Bool("render", false, "render the history of every room on shutdown")
	flag.Parse()

	_, closer, err := logging.Init(cfg.LogLevel, cfg.LogFormat, cfg.LogFile, "")
	if err != nil {
		return err
	}
	defer closer.Close()

	slog.Info("Opening database", "path", *dbVar)
	db, err := sql.Open("sqlite3", *dbVar)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := relay.New(db, relay.Options{
		SyncInterval: cfg.SyncInterval,
		BusRate:      rate.Limit(cfg.BusRate),
		BusBurst:     cfg.BusBurst,
	})
	if err := s.Init(ctx); err != nil {
		return err
	}

	wg := new(sync.WaitGroup)
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.RunBackups(ctx, cfg.BackupInterval)
	}()

	httpServer := &http.Server{Addr: *addrVar, Handler: s.Handler()}
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("listening", "addr", *addrVar)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server listen failed", "err", err)
			cancel()
		}
	}()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-exit:
		slog.Info("Signal caught", "sig", sig)
	case <-ctx.Done():
	}
	cancel()
	_ = httpServer.Close()
	wg.Wait()

	for _, id := range s.Rooms() {
		store, _ := s.Store(id)
		tf := filepath.Join(os.TempDir(), id+".automerge")
		if err := os.WriteFile(tf, store.Save(), 0o644); err != nil {
			slog.Error("failed to dump", "room", id, "err", err)
			continue
		}
		slog.Info("dumped", "room", id, "path", tf)
		if !*renderVar {
			continue
		}
		doc, err := store.Fork()
		if err != nil {
			slog.Error("failed to fork", "room", id, "err", err)
			continue
		}
		changes, err := viz.History(doc, []string{"apps"})
		if err != nil {
			slog.Error("failed to read history", "room", id, "err", err)
			continue
		}
		if svgPath, err := viz.RenderToTemp(changes); err != nil {
			slog.Error("failed to render", "room", id, "err", err)
		} else {
			slog.Info("rendered", "room", id, "path", "file://"+svgPath)
		}
	}
	return nil
}
