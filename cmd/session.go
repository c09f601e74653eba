package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	cli "github.com/urfave/cli/v3"

	"macroctl/internal/config"
	"macroctl/internal/editor"
	"macroctl/internal/log"
	"macroctl/internal/network"
	"macroctl/internal/notify"
	"macroctl/internal/run"
	"macroctl/internal/store"
)

type cfgKey struct{}

// setup loads the configuration and installs the logger before any
// command runs.
func setup(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	mgr, err := config.NewManager(cmd.String("config"))
	if err != nil {
		return ctx, fmt.Errorf("config: %w", err)
	}
	if err := mgr.Load(); err != nil {
		return ctx, err
	}
	if err := mgr.Update(func(c *config.Config) {
		if u := cmd.String("url"); u != "" {
			c.Executor.URL = u
		}
		if l := cmd.String("log-level"); l != "" {
			c.Log.Level = l
		}
	}); err != nil {
		return ctx, err
	}

	log.Setup(mgr.Get().Log.Level)
	return context.WithValue(ctx, cfgKey{}, mgr), nil
}

func configFrom(ctx context.Context) *config.Manager {
	return ctx.Value(cfgKey{}).(*config.Manager)
}

// session wires the editor to a live executor connection.
type session struct {
	cfg    config.Config
	conn   *network.Manager
	store  *store.Store
	run    *run.Controller
	ed     *editor.Editor
	notify *notify.Bus
}

func newSession(cfg config.Config) *session {
	var header http.Header
	if cfg.Executor.Token != "" {
		header = http.Header{"Authorization": []string{"Bearer " + cfg.Executor.Token}}
	}
	conn := network.NewManager(network.Options{
		URL:            cfg.Executor.URL,
		ReconnectDelay: cfg.Executor.ReconnectDelay,
		SettleDelay:    cfg.Executor.SettleDelay,
		WriteTimeout:   cfg.Executor.WriteTimeout,
		PingInterval:   cfg.Executor.PingInterval,
		Header:         header,
	})

	st := store.New()
	rc := run.NewController(nil)
	bus := notify.NewBus(nil)
	ed := editor.New(st, rc, conn, bus, editor.Options{
		DefaultWaitTime:  cfg.Editor.DefaultWaitTime,
		DefaultRandomize: cfg.Editor.DefaultRandomize,
		NestedGroups:     cfg.Editor.NestedGroups,
	})
	conn.SetHandler(ed)
	conn.OnStateChange(ed.HandleConnectionState)

	return &session{cfg: cfg, conn: conn, store: st, run: rc, ed: ed, notify: bus}
}

func (s *session) start(ctx context.Context) {
	s.conn.Start(ctx)
}

func (s *session) close() {
	s.conn.Close()
	if err := s.notify.Close(); err != nil {
		log.WithModule("main").Warn("closing notifications", "error", err)
	}
}

// waitSynced blocks until the executor's list has been received.
func (s *session) waitSynced(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	select {
	case <-s.ed.Synced():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("no step list from executor at %s: %w", s.cfg.Executor.URL, ctx.Err())
	}
}

// waitAcked blocks until every sent edit has been echoed back.
func (s *session) waitAcked(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for s.store.Pending() > 0 {
		select {
		case <-tick.C:
		case <-ctx.Done():
			return fmt.Errorf("executor did not confirm the update: %w", ctx.Err())
		}
	}
	return nil
}
