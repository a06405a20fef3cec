package app

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/hoferino/manda-platform-sub003/internal/config"
	"github.com/hoferino/manda-platform-sub003/internal/data/graph"
	"github.com/hoferino/manda-platform-sub003/internal/ingestion/parser"
	"github.com/hoferino/manda-platform-sub003/internal/jobs/orchestrator"
	"github.com/hoferino/manda-platform-sub003/internal/jobs/pipeline/commit_document"
	"github.com/hoferino/manda-platform-sub003/internal/jobs/pipeline/extract_candidates"
	"github.com/hoferino/manda-platform-sub003/internal/jobs/pipeline/index_chunks"
	"github.com/hoferino/manda-platform-sub003/internal/jobs/pipeline/parse_document"
	"github.com/hoferino/manda-platform-sub003/internal/jobs/pipeline/resolve_candidates"
	"github.com/hoferino/manda-platform-sub003/internal/jobs/runtime"
	"github.com/hoferino/manda-platform-sub003/internal/jobs/worker"
	"github.com/hoferino/manda-platform-sub003/internal/modules/knowledge/feedback"
	"github.com/hoferino/manda-platform-sub003/internal/modules/knowledge/index"
	"github.com/hoferino/manda-platform-sub003/internal/modules/knowledge/resolver"
	"github.com/hoferino/manda-platform-sub003/internal/pkg/keylock"
	"github.com/hoferino/manda-platform-sub003/internal/pkg/logger"
	"github.com/hoferino/manda-platform-sub003/internal/realtime"
	"github.com/hoferino/manda-platform-sub003/internal/services"
)

type Services struct {
	Indexer    *index.Indexer
	Resolver   *resolver.Resolver
	Feedback   *feedback.Engine
	Graph      *graph.FindingGraph
	Engine     *orchestrator.Engine
	Registry   *runtime.Registry
	Worker     *worker.Worker
	Dispatcher *realtime.Dispatcher

	Documents services.DocumentService
	Knowledge services.KnowledgeService
}

func wireServices(ctx context.Context, db *gorm.DB, log *logger.Logger, cfg config.Config, repos Repos, clients Clients) (Services, error) {
	log.Info("Wiring services...")

	embedder, err := resolveEmbedder(cfg, clients.OpenAI)
	if err != nil {
		return Services{}, err
	}
	extractor, err := resolveExtractor(cfg, clients.OpenAI)
	if err != nil {
		return Services{}, err
	}
	store, err := resolveVectorStore(ctx, log, cfg.Index, indexDim(cfg.Index, embedder))
	if err != nil {
		return Services{}, err
	}
	ix := index.New(log, embedder, store, index.Options{
		MaxDim:         cfg.Index.MaxDim,
		ProjectionSeed: cfg.Index.ProjectionSeed,
		BatchSize:      cfg.OpenAI.BatchSize,
	})

	fetcher, err := resolveFetcher(log, cfg.Storage, clients.Storage)
	if err != nil {
		return Services{}, err
	}

	rules, err := resolver.LoadRules(cfg.RulesPath)
	if err != nil {
		return Services{}, fmt.Errorf("load knowledge rules: %w", err)
	}

	propagator := feedback.NewPropagator(log, repos.Findings, repos.Relationships, repos.Dependencies, repos.ReviewMarkers, repos.Outbox)
	fb := feedback.NewEngine(db, log, feedback.Config{
		ValidationBonus:    cfg.Feedback.ValidationBonus,
		HumanBaseline:      cfg.Feedback.HumanBaseline,
		RejectionThreshold: cfg.Feedback.RejectionThreshold,
		RejectionMinSample: cfg.Feedback.RejectionMinSample,
		RejectionWindow:    cfg.Feedback.RejectionWindow,
	}, feedback.Repos{
		Findings:    repos.Findings,
		Corrections: repos.Corrections,
		Validations: repos.Validations,
		Deps:        repos.Dependencies,
		Markers:     repos.ReviewMarkers,
		Flags:       repos.SourceFlags,
		Outbox:      repos.Outbox,
	}, propagator)

	res := resolver.New(log, rules, resolver.Options{
		LockTimeout:  cfg.TopicLockTimeout,
		LockAttempts: cfg.TopicLockRetries,
	}, ix, keylock.New(), repos.TopicLocks, repos.Findings, repos.Relationships, repos.Candidates, repos.Outbox, propagator)

	g := graph.NewFindingGraph(clients.Neo4j, log)

	engine := orchestrator.NewEngine(db, log, orchestrator.Options{
		Lease: cfg.Worker.Lease,
		Retry: orchestrator.RetryPolicy{
			MaxAttempts: cfg.Worker.MaxAttempts,
			Backoff:     cfg.Worker.Backoff,
		},
	}, repos.Jobs, repos.Documents, repos.Outbox)

	registry := runtime.NewRegistry()
	for _, h := range []runtime.Handler{
		parse_document.New(log, parser.NewService(log, fetcher, 0), repos.Chunks),
		index_chunks.New(log, ix, repos.Chunks),
		extract_candidates.New(log, extractor, repos.Chunks, repos.Candidates),
		resolve_candidates.New(log, res, repos.Candidates),
		commit_document.New(log, res, repos.Candidates, repos.Findings, repos.Relationships, g),
	} {
		if err := registry.Register(h); err != nil {
			return Services{}, err
		}
	}
	if missing := registry.Missing(); len(missing) > 0 {
		return Services{}, fmt.Errorf("no handler registered for stages %v", missing)
	}

	w := worker.NewWorker(db, log, worker.Options{
		ID:                cfg.Worker.ID,
		Concurrency:       cfg.Worker.Concurrency,
		PollInterval:      cfg.Worker.PollInterval,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
		StageTimeout:      cfg.Worker.TimeoutFor,
	}, engine, registry, repos.Jobs, repos.Documents)

	dispatcher := realtime.NewDispatcher(log, repos.Outbox, clients.Bus, realtime.DispatcherOptions{
		PollInterval: cfg.Events.PollInterval,
		BatchSize:    cfg.Events.BatchSize,
		MaxAttempts:  cfg.Events.MaxAttempts,
	})

	knowledgeSvc := services.NewKnowledgeService(log, ix, fb, g,
		repos.Findings, repos.Relationships, repos.Corrections, repos.Validations, repos.SourceFlags)

	return Services{
		Indexer:    ix,
		Resolver:   res,
		Feedback:   fb,
		Graph:      g,
		Engine:     engine,
		Registry:   registry,
		Worker:     w,
		Dispatcher: dispatcher,
		Documents:  services.NewDocumentService(log, engine),
		Knowledge:  knowledgeSvc,
	}, nil
}
