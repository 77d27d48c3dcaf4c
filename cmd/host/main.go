package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/astromechza/appcanvas/pkg/apps"
	"github.com/astromechza/appcanvas/pkg/bus"
	"github.com/astromechza/appcanvas/pkg/camera"
	"github.com/astromechza/appcanvas/pkg/config"
	"github.com/astromechza/appcanvas/pkg/headless"
	"github.com/astromechza/appcanvas/pkg/loader"
	"github.com/astromechza/appcanvas/pkg/logging"
	"github.com/astromechza/appcanvas/pkg/session"
	"github.com/astromechza/appcanvas/pkg/transport"
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
	remotes := map[string]string{}
	flag.Func("remote", "register a remote app kind as kind=url, may be repeated", func(s string) error {
		kind, src, ok := strings.Cut(s, "=")
		if !ok || kind == "" || src == "" {
			return errors.New("expected kind=url")
		}
		remotes[kind] = src
		return nil
	})
	var adds []string
	flag.Func("add", "add an app of the given kind once connected, may be repeated", func(s string) error {
		adds = append(adds, s)
		return nil
	})
	widthVar := flag.Float64("width", 1280, "the width of the main board")
	heightVar := flag.Float64("height", 720, "the height of the main board")
	flag.Parse()

	participant := cfg.Participant
	if participant == "" {
		participant = fmt.Sprintf("p%d", os.Getpid())
	}
	_, closer, err := logging.Init(cfg.LogLevel, cfg.LogFormat, cfg.LogFile, participant)
	if err != nil {
		return err
	}
	defer closer.Close()

	mode, err := camera.ParseMode(cfg.CameraMode)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	base := cfg.RelayBase()
	store, err := transport.Join(ctx, http.DefaultClient, base, cfg.Room, participant)
	if err != nil {
		return err
	}

	cache, err := loader.OpenCache(cfg.AppCacheDSN, cfg.AppCacheMaxAge)
	if err != nil {
		return err
	}
	defer cache.Close()
	scripts := loader.New(
		loader.WithCache(cache),
		loader.WithHTTPClient(&http.Client{Timeout: cfg.FetchTimeout}),
	)

	b := bus.New(participant)
	client := transport.NewClient(base, cfg.Room, store, b, transport.ClientOptions{
		Participant:  participant,
		SyncInterval: cfg.SyncInterval,
	})

	views := headless.NewViews(*widthVar, *heightVar)
	mainView, err := views.Create(session.MainScope)
	if err != nil {
		return err
	}
	s, err := session.New(session.Options{
		Participant:   participant,
		Store:         store,
		Bus:           b,
		Phases:        client,
		Loader:        scripts,
		Boxes:         headless.NewBoxes(),
		Views:         views,
		Scenes:        headless.NewScenes(),
		MainView:      mainView,
		CameraMode:    mode,
		CameraWindow:  cfg.CameraWindow,
		BoxWindow:     cfg.BoxWindow,
		CreateTimeout: cfg.CreateTimeout,
	})
	if err != nil {
		return err
	}
	defer s.Destroy()
	if err := s.Register(noteModule(), counterModule()); err != nil {
		return err
	}
	for kind, src := range remotes {
		if err := s.Registry().RegisterRemote(kind, src); err != nil {
			return err
		}
	}

	wg := new(sync.WaitGroup)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := client.Run(ctx); err != nil {
			slog.Error("client stopped", "err", err)
		}
	}()

	s.Start()
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-s.Manager().Ready():
		case <-ctx.Done():
			return
		}
		for _, kind := range adds {
			id, err := s.Manager().AddApp(ctx, apps.Params{Kind: kind})
			if err != nil {
				slog.Error("failed to add app", "kind", kind, "err", err)
				continue
			}
			slog.Info("added app", "kind", kind, "app", id)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(cfg.SyncInterval * 5)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				slog.Info("status", "phase", client.Phase().String(), "apps", s.Manager().Apps(), "focus", s.Manager().Focus(), "camera", mainView.Camera())
			case <-ctx.Done():
				return
			}
		}
	}()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-exit
	slog.Info("Signal caught", "sig", sig)
	cancel()
	wg.Wait()

	tf := filepath.Join(os.TempDir(), participant+".automerge")
	if err := os.WriteFile(tf, store.Save(), 0o644); err != nil {
		return err
	}
	slog.Info("dumped", "dump", tf)
	return nil
}

// noteModule is a plain window with no behavior of its own.
func noteModule() apps.Module {
	return apps.Module{
		Kind:   "Note",
		Config: apps.Config{Width: 0.3, Height: 0.3},
		Setup: func(ctx *apps.Context) error {
			ctx.Storage().EnsureState(map[string]any{"text": ""})
			return nil
		},
	}
}

// counterModule bumps a shared counter at random intervals while it has write access.
func counterModule() apps.Module {
	return apps.Module{
		Kind:   "Counter",
		Config: apps.Config{Width: 0.2, Height: 0.2, Singleton: true},
		Setup: func(ctx *apps.Context) error {
			st := ctx.Storage()
			st.EnsureState(map[string]any{"count": int64(0)})
			go func() {
				for {
					select {
					case <-ctx.Context().Done():
						return
					case <-time.After(time.Duration(rand.Intn(3000)+500) * time.Millisecond):
					}
					if !ctx.Writable() {
						continue
					}
					current, _ := st.Get("count")
					n, _ := current.(int64)
					st.SetState(map[string]any{"count": n + 1})
					ctx.Logger().Info("incremented counter", "count", n+1)
				}
			}()
			return nil
		},
	}
}
