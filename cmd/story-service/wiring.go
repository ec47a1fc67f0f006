package main

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"

	"story-workers/internal/common/auth"
	appaws "story-workers/internal/common/aws"
	"story-workers/internal/common/config"
	"story-workers/internal/common/database"
	apphttp "story-workers/internal/common/http"
	"story-workers/internal/common/logger"
	"story-workers/internal/common/observability"
	"story-workers/internal/stories/alarm"
	"story-workers/internal/stories/artifacts"
	"story-workers/internal/stories/audio"
	"story-workers/internal/stories/generation"
	"story-workers/internal/stories/ledger"
	"story-workers/internal/stories/orchestrator"
	"story-workers/internal/stories/persistence"
	"story-workers/internal/stories/search"
	"story-workers/internal/stories/textgen"
)

// deps are the connections opened by main.
type deps struct {
	pg    *database.PostgresClient
	redis *database.RedisClient
	es    *database.ElasticsearchClient
	nats  *nats.Conn
}

type app struct {
	service *generation.Service
	auth    auth.Authenticator
	closers []func() error
}

func (a *app) close() {
	for _, c := range a.closers {
		_ = c()
	}
}

func buildApp(ctx context.Context, cfg *config.Config, d deps, obs *observability.Observability, log logger.Logger) (*app, error) {
	a := &app{}

	completer, err := textgen.NewOpenAICompleter(textgen.OpenAISettings{
		APIKey:      cfg.OpenAI.APIKey,
		BaseURL:     cfg.OpenAI.BaseURL,
		Model:       cfg.OpenAI.Model,
		Temperature: cfg.OpenAI.Temperature,
	})
	if err != nil {
		return nil, err
	}
	var parser textgen.Parser = textgen.ArrayParser{}
	if cfg.OpenAI.StrictParsing {
		parser = textgen.NewSchemaParser()
	}
	text := textgen.NewGenerator(completer, parser, textgen.Config{
		MaxTokensPerDraft: cfg.OpenAI.MaxTokensPerDraft,
		Timeout:           config.GetDuration(cfg.OpenAI.Timeout),
	}, log)

	speech, err := buildSynthesizer(cfg)
	if err != nil {
		return nil, err
	}

	objects, err := buildObjectStore(ctx, cfg, d.nats)
	if err != nil {
		return nil, err
	}
	store := artifacts.NewStore(objects, artifacts.Config{
		Bucket:       cfg.Storage.Bucket,
		PublicHost:   cfg.Storage.PublicHost,
		KeyPrefix:    cfg.Storage.KeyPrefix,
		CacheControl: cfg.Storage.CacheControl,
		Timeout:      config.GetDuration(cfg.Storage.Timeout),
	})

	pipeline := orchestrator.New(text, speech, store, orchestrator.Config{
		SynthesisTimeout: config.GetDuration(cfg.Speech.Timeout),
		MaxConcurrency:   cfg.Generation.MaxConcurrency,
	}, obs, log)

	local, err := buildLocalCache(cfg, d.redis)
	if err != nil {
		return nil, err
	}
	if closer, ok := local.(interface{ Close() error }); ok {
		a.closers = append(a.closers, closer.Close)
	}

	index := search.NewIndex(nil, cfg.Search.Index)
	if d.es != nil {
		index = search.NewIndex(d.es.Client, cfg.Search.Index)
	}

	coordinator := persistence.NewCoordinator(persistence.NewPostgresStore(d.pg.DB), local, index, log)

	alarms, err := buildAlarms(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	a.service = generation.NewService(generation.Config{
		Cost:           cfg.Generation.Cost,
		MaxDrafts:      cfg.Generation.MaxDrafts,
		DefaultDrafts:  cfg.Generation.DefaultDrafts,
		DefaultMinutes: cfg.Generation.DefaultMinutes,
		DefaultVoice:   cfg.Speech.Voice,
		Timeout:        config.GetDuration(cfg.Generation.Timeout),
		StoreTimeout:   config.GetDuration(cfg.Database.Postgres.QueryTimeout),
	}, ledger.NewPostgresLedger(d.pg.DB, log), pipeline, coordinator, index, alarms, obs, log)

	a.auth = buildAuthenticator(cfg)
	return a, nil
}

func buildSynthesizer(cfg *config.Config) (audio.Synthesizer, error) {
	switch cfg.Speech.Provider {
	case "http":
		client := apphttp.NewClient(config.GetDuration(cfg.Speech.Timeout))
		return audio.NewHTTPSynthesizer(client, cfg.Speech.BaseURL, cfg.Speech.Language), nil
	default:
		return audio.NewOpenAISynthesizer(audio.OpenAISettings{
			APIKey:  cfg.OpenAI.APIKey,
			BaseURL: cfg.OpenAI.BaseURL,
			Model:   cfg.Speech.Model,
			Speed:   cfg.Speech.Speed,
			Voices:  audio.DefaultVoices(cfg.Speech.Voice),
		})
	}
}

func buildObjectStore(ctx context.Context, cfg *config.Config, nc *nats.Conn) (artifacts.ObjectStore, error) {
	switch cfg.Storage.Provider {
	case "nats":
		if nc == nil {
			return nil, fmt.Errorf("nats storage selected without a connection")
		}
		js, err := nc.JetStream()
		if err != nil {
			return nil, fmt.Errorf("failed to open jetstream context: %w", err)
		}
		return artifacts.NewNATSStore(js, cfg.Storage.Bucket)
	default:
		client, err := appaws.NewS3Client(ctx, cfg.Storage.Region, cfg.Storage.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("failed to create s3 client: %w", err)
		}
		return artifacts.NewS3Store(client, cfg.Storage.Bucket), nil
	}
}

func buildLocalCache(cfg *config.Config, redis *database.RedisClient) (persistence.LocalCache, error) {
	switch cfg.LocalCache.Provider {
	case "bolt":
		return persistence.OpenBoltCache(cfg.LocalCache.Path, cfg.LocalCache.KeyPrefix)
	default:
		if redis == nil {
			return nil, fmt.Errorf("redis local cache selected without a connection")
		}
		return persistence.NewRedisCache(redis.Client, cfg.LocalCache.KeyPrefix), nil
	}
}

// buildAlarms fans refund alarms out to every configured channel and
// always logs them.
func buildAlarms(ctx context.Context, cfg *config.Config, log logger.Logger) (alarm.Notifier, error) {
	notifiers := alarm.Multi{alarm.NewLogNotifier(log)}

	if cfg.Alarms.SNSTopicARN != "" {
		client, err := appaws.NewSNSClient(ctx, cfg.Alarms.Region)
		if err != nil {
			return nil, fmt.Errorf("failed to create sns client: %w", err)
		}
		notifiers = append(notifiers, alarm.NewSNSNotifier(client, cfg.Alarms.SNSTopicARN))
	}
	if cfg.Alarms.SESFrom != "" && len(cfg.Alarms.SESTo) > 0 {
		client, err := appaws.NewSESClient(ctx, cfg.Alarms.Region)
		if err != nil {
			return nil, fmt.Errorf("failed to create ses client: %w", err)
		}
		notifiers = append(notifiers, alarm.NewSESNotifier(client, cfg.Alarms.SESFrom, cfg.Alarms.SESTo))
	}
	return notifiers, nil
}

func buildAuthenticator(cfg *config.Config) auth.Authenticator {
	if cfg.Auth.Mode == "keycloak" {
		return auth.NewKeycloakClient(
			cfg.Auth.Keycloak.URL,
			cfg.Auth.Keycloak.Realm,
			cfg.Auth.Keycloak.ClientID,
			cfg.Auth.Keycloak.ClientSecret,
		)
	}
	return auth.HeaderAuthenticator{Header: cfg.Auth.Header}
}
