// Package runtime wires configuration into running components. It is shared
// by the serve and worker entrypoints so both assemble storage, search and
// the engine the same way.
package runtime

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/inquestai/inquest/config"
	"github.com/inquestai/inquest/internal/checkpoint"
	"github.com/inquestai/inquest/internal/relay"
	"github.com/inquestai/inquest/internal/research"
	"github.com/inquestai/inquest/provider"
	openai "github.com/inquestai/inquest/provider/openai"
	"github.com/inquestai/inquest/tools/search"
	"github.com/inquestai/inquest/tools/search/arxiv"
	"github.com/inquestai/inquest/tools/search/brave"
	"github.com/inquestai/inquest/tools/search/serper"
	"github.com/inquestai/inquest/tools/search/wikipedia"
)

// OpenRedis connects and pings the Redis instance used for dispatch and the
// event relay.
func OpenRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// BuildLLM constructs the generation provider from configuration.
func BuildLLM(cfg *config.Config) provider.Provider {
	var opts []openai.Option
	if cfg.LLM.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.LLM.BaseURL))
	}
	return openai.New(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.Temperature, cfg.LLM.MaxTokens, 60*time.Second, opts...)
}

// BuildSearchRegistry assembles the adapter chains per source type. Keyed
// adapters are registered only when their key is configured; Wikipedia and
// arXiv need no key and always participate.
func BuildSearchRegistry(cfg *config.Config) *search.Registry {
	httpClient := &http.Client{Timeout: 20 * time.Second}

	wiki := wikipedia.Client{HTTPClient: httpClient}
	papers := arxiv.Client{HTTPClient: httpClient}

	var web []search.Provider
	if cfg.Search.SerperAPIKey != "" {
		web = append(web, serper.Client{APIKey: cfg.Search.SerperAPIKey, HTTPClient: httpClient})
	}
	if cfg.Search.BraveAPIKey != "" {
		web = append(web, brave.Client{APIKey: cfg.Search.BraveAPIKey, HTTPClient: httpClient})
	}

	reg := search.NewRegistry(wiki)
	reg.Register(research.SourceAcademic, papers, wiki)
	reg.Register(research.SourceReference, wiki)
	if len(web) > 0 {
		reg.Register(research.SourceNews, web...)
		reg.Register(research.SourceGeneral, append(append([]search.Provider{}, web...), wiki)...)
	} else {
		reg.Register(research.SourceNews, wiki)
		reg.Register(research.SourceGeneral, wiki)
	}
	return reg
}

// BuildEngine assembles the orchestration engine with its worker.
func BuildEngine(cfg *config.Config, store checkpoint.Store, events relay.Publisher, logger *log.Logger) *research.Engine {
	worker := research.NewWorker(BuildSearchRegistry(cfg), logger)
	if cfg.Research.FanOut > 0 {
		worker.FanOut = cfg.Research.FanOut
	}
	if cfg.Research.SearchTimeout > 0 {
		worker.CallTimeout = cfg.Research.SearchTimeout
	}
	worker.FetchContent = cfg.Search.FetchContent

	eng := research.NewEngine(store, events, BuildLLM(cfg), worker, logger)
	if cfg.Research.MaxIterations > 0 {
		eng.MaxIterations = cfg.Research.MaxIterations
	}
	if cfg.Research.MaxSources > 0 {
		eng.MaxSources = cfg.Research.MaxSources
	}
	eng.ClassifyChat = cfg.Research.ClassifyChat
	return eng
}
