package main

import (
	"context"
	"fmt"

	"github.com/entrhq/memoryd/pkg/compaction"
	"github.com/entrhq/memoryd/pkg/config"
	"github.com/entrhq/memoryd/pkg/llm"
	"github.com/entrhq/memoryd/pkg/llm/tokenizer"
	"github.com/entrhq/memoryd/pkg/longtermmemory"
	"github.com/entrhq/memoryd/pkg/memory"
	"github.com/entrhq/memoryd/pkg/registry"
	"github.com/entrhq/memoryd/pkg/store"
	"github.com/entrhq/memoryd/pkg/types"
)

// app owns the long-lived components of a running server.
type app struct {
	client   *store.Redis
	provider *llm.Pool
	longTerm *longtermmemory.Memory
	service  *memory.Service
}

func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.client, err = store.NewRedis(cfg.StoreOptions())
	if err != nil {
		return nil, err
	}
	if err = a.client.Ping(ctx); err != nil {
		return nil, fmt.Errorf("store unreachable: %w", err)
	}

	a.provider, err = config.BuildProvider(ctx, cfg)
	if err != nil {
		return nil, err
	}

	tok, err := tokenizer.New()
	if err != nil {
		return nil, err
	}
	summarizer, err := compaction.NewSummarizer(a.provider, tok, cfg.LLM.Model, cfg.Budget())
	if err != nil {
		return nil, err
	}
	scheduler, err := compaction.NewScheduler(a.client, summarizer, cfg.Memory.WindowSize, cfg.SchedulerOptions(a.client)...)
	if err != nil {
		return nil, err
	}
	events := make(chan *types.CompactionEvent, 64)
	scheduler.SetEventChannel(events)
	go logCompactionEvents(events)

	opts := []memory.ServiceOption{memory.WithIndexTimeout(cfg.Memory.IndexTimeout)}
	a.longTerm, err = config.BuildLongTermMemory(cfg, a.provider, a.client)
	if err != nil {
		return nil, err
	}
	if a.longTerm != nil {
		if err = a.longTerm.EnsureIndex(ctx); err != nil {
			return nil, fmt.Errorf("ensure index: %w", err)
		}
		opts = append(opts, memory.WithLongTermMemory(a.longTerm))
	}

	a.service = memory.NewService(
		memory.NewWindowStore(a.client, cfg.Memory.WindowSize),
		registry.New(a.client),
		scheduler,
		opts...,
	)
	debugLog.Infof("memoryd v%s ready (provider=%s, window=%d, long-term memory=%t)",
		version, a.provider.Name(), cfg.Memory.WindowSize, a.longTerm != nil)
	return a, nil
}

func logCompactionEvents(events <-chan *types.CompactionEvent) {
	for e := range events {
		switch e.Type {
		case types.EventTypeCompactionProgress:
			debugLog.Debugf("session %s: %d chunks summarized (%d tokens)", e.SessionID, e.ChunksProcessed, e.TokensUsed)
		case types.EventTypeCompactionSkipped:
			debugLog.Debugf("session %s: compaction already running", e.SessionID)
		}
	}
}

// Close releases resources in reverse order of creation.
func (a *app) Close() {
	if a.longTerm != nil {
		a.longTerm.Close()
	}
	if a.provider != nil {
		if err := a.provider.Close(); err != nil {
			debugLog.Warnf("closing provider: %v", err)
		}
	}
	if a.client != nil {
		if err := a.client.Close(); err != nil {
			debugLog.Warnf("closing store: %v", err)
		}
	}
}
