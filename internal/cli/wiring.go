package cli

import (
	"context"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/jkeller/secondbrain/internal/agent"
	"github.com/jkeller/secondbrain/internal/config"
	"github.com/jkeller/secondbrain/internal/dynamostore"
	"github.com/jkeller/secondbrain/internal/journal"
	"github.com/jkeller/secondbrain/internal/queue"
	"github.com/jkeller/secondbrain/internal/store"
)

// pipeline bundles the opened backends for one command invocation.
type pipeline struct {
	cfg     config.Config
	store   store.Store
	journal journal.Journal
	queue   queue.Queue
	logger  *slog.Logger
}

func (p *pipeline) Close() {
	if p.queue != nil {
		p.queue.Close()
	}
	if p.journal != nil {
		p.journal.Close()
	}
	if p.store != nil {
		p.store.Close()
	}
}

// openPipeline loads configuration and opens the configured backends.
// SQLite backends open local files; AWS backends share one SDK config
// resolved from the environment.
func openPipeline(ctx context.Context, opts *RootOptions) (*pipeline, error) {
	cfg, err := config.Load(opts.Config, opts.DataDir)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}

	p := &pipeline{cfg: cfg, logger: newLogger(opts, cfg.Log.Level)}

	needAWS := cfg.Store.Backend == "dynamodb" ||
		cfg.Journal.Backend == "s3" ||
		cfg.Queue.Backend == "sqs"
	var awsCfg awsLoaded
	if needAWS {
		awsCfg, err = loadAWS(ctx, cfg)
		if err != nil {
			p.Close()
			return nil, WrapExitError(ExitCommandError, "failed to load AWS config", err)
		}
	}

	switch cfg.Store.Backend {
	case "dynamodb":
		p.store = dynamostore.New(dynamodb.NewFromConfig(awsCfg.store), cfg.Store.Table)
	default:
		s, err := store.Open(cfg.Store.Path)
		if err != nil {
			p.Close()
			return nil, WrapExitError(ExitCommandError, "failed to open entity store", err)
		}
		p.store = s
	}

	switch cfg.Journal.Backend {
	case "s3":
		p.journal = journal.NewS3(s3.NewFromConfig(awsCfg.journal), cfg.Journal.Bucket)
	default:
		j, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			p.Close()
			return nil, WrapExitError(ExitCommandError, "failed to open journal", err)
		}
		p.journal = j
	}

	switch cfg.Queue.Backend {
	case "sqs":
		p.queue = queue.NewSQS(sqs.NewFromConfig(awsCfg.queue), queue.SQSConfig{
			ProcessURL:    cfg.Queue.ProcessQueueURL,
			RespondURL:    cfg.Queue.RespondQueueURL,
			DeadLetterURL: cfg.Queue.DeadLetterURL,
		})
	default:
		var qopts []queue.Option
		if cfg.Queue.MaxReceiveCount > 0 {
			qopts = append(qopts, queue.WithMaxReceiveCount(cfg.Queue.MaxReceiveCount))
		}
		q, err := queue.Open(cfg.Queue.Path, qopts...)
		if err != nil {
			p.Close()
			return nil, WrapExitError(ExitCommandError, "failed to open work queue", err)
		}
		p.queue = q
	}

	return p, nil
}

// awsLoaded holds per-service SDK configs, which may differ by region.
type awsLoaded struct {
	store   aws.Config
	journal aws.Config
	queue   aws.Config
}

func loadAWS(ctx context.Context, cfg config.Config) (awsLoaded, error) {
	load := func(region string) (aws.Config, error) {
		if region != "" {
			return awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
		}
		return awsconfig.LoadDefaultConfig(ctx)
	}

	var out awsLoaded
	var err error
	if out.store, err = load(cfg.Store.Region); err != nil {
		return awsLoaded{}, err
	}
	if out.journal, err = load(cfg.Journal.Region); err != nil {
		return awsLoaded{}, err
	}
	if out.queue, err = load(cfg.Queue.Region); err != nil {
		return awsLoaded{}, err
	}
	return out, nil
}

// newInvoker builds the model invoker from configuration.
func newInvoker(cfg config.AgentConfig) agent.Invoker {
	return agent.NewAnthropicInvoker(agent.AnthropicConfig{
		APIKey:    cfg.APIKey,
		Model:     cfg.Model,
		BaseURL:   cfg.BaseURL,
		MaxTokens: cfg.MaxTokens,
	})
}
