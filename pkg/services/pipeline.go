package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query-gateway/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-query-gateway/pkg/formats"
	"github.com/ekaya-inc/ekaya-query-gateway/pkg/mailer"
	"github.com/ekaya-inc/ekaya-query-gateway/pkg/models"
	"github.com/ekaya-inc/ekaya-query-gateway/pkg/plugins"
)

// ProcessorResolver finds the processor a query names. *plugins.Registry implements it.
type ProcessorResolver interface {
	Resolve(ctx context.Context, ref *models.PluginReference) (plugins.Processor, error)
}

// MailerLookup finds mailer specifications. catalog.Store implements it.
type MailerLookup interface {
	GetMailer(ctx context.Context, name string) (*models.MailerSpecification, error)
}

// PipelineConfig wires the optional collaborators of a Pipeline.
type PipelineConfig struct {
	Processors ProcessorResolver // nil disables processors
	Mailers    MailerLookup
	Mailer     mailer.Mailer // nil disables mail delivery
	// MailTimeout bounds one background delivery. Defaults to one minute.
	MailTimeout time.Duration
}

// Pipeline runs the pre/post-processing hooks of a query, renders results and mails them.
type Pipeline struct {
	cfg    PipelineConfig
	logger *zap.Logger
	wg     sync.WaitGroup
}

// NewPipeline creates a pipeline.
func NewPipeline(cfg PipelineConfig, logger *zap.Logger) *Pipeline {
	if cfg.MailTimeout <= 0 {
		cfg.MailTimeout = time.Minute
	}
	return &Pipeline{cfg: cfg, logger: logger}
}

// PreProcessResult is the request after pre-processing.
type PreProcessResult struct {
	Specs   []models.RequestSpecification
	Escaped bool
	Output  any
}

// PreProcess runs the query's processor on the request fields before any database call.
func (p *Pipeline) PreProcess(ctx context.Context, q *models.QuerySpecification, specs []models.RequestSpecification) (PreProcessResult, error) {
	proc, err := p.processor(ctx, q)
	if err != nil || proc == nil {
		return PreProcessResult{Specs: specs}, err
	}

	res, err := proc.ProcessInput(ctx, q.Key, specs, q)
	if err != nil {
		return PreProcessResult{}, p.processorFailure("pre-processing", q, err)
	}
	if res.Escape {
		p.logger.Debug("Processor short-circuited query", zap.String("query_key", q.Key))
		return PreProcessResult{Specs: specs, Escaped: true, Output: res.Output}, nil
	}
	if res.Specs != nil {
		specs = res.Specs
	}
	return PreProcessResult{Specs: specs}, nil
}

// PostProcess lets the query's processor replace the raw result before rendering.
func (p *Pipeline) PostProcess(ctx context.Context, q *models.QuerySpecification, raw any, specs []models.RequestSpecification) (any, error) {
	proc, err := p.processor(ctx, q)
	if err != nil || proc == nil {
		return raw, err
	}

	out, err := proc.ProcessOutput(ctx, q.Key, raw, specs, q)
	if err != nil {
		return nil, p.processorFailure("post-processing", q, err)
	}
	return out, nil
}

func (p *Pipeline) processor(ctx context.Context, q *models.QuerySpecification) (plugins.Processor, error) {
	if q.Processor == nil || p.cfg.Processors == nil {
		return nil, nil
	}
	proc, err := p.cfg.Processors.Resolve(ctx, q.Processor)
	if err != nil {
		return nil, p.processorFailure("loading", q, err)
	}
	return proc, nil
}

func (p *Pipeline) processorFailure(stage string, q *models.QuerySpecification, err error) error {
	p.logger.Error("Query processor failed",
		zap.String("stage", stage),
		zap.String("query_key", q.Key),
		zap.String("processor", q.Processor.Name),
		zap.String("path", q.Processor.Path),
		zap.String("class", q.Processor.ClassName),
		zap.Error(err))
	if apperrors.IsKind(err, apperrors.KindPlugin) {
		return err
	}
	return apperrors.Wrap(apperrors.KindPlugin, fmt.Sprintf("%s for query %q failed", stage, q.Key), err)
}

// Render converts a result to the output format.
func (p *Pipeline) Render(q *models.QuerySpecification, output models.OutputShape, payload any) (*formats.Document, error) {
	return formats.Render(output, q.Key, payload)
}

// Mail delivers doc in the background when the query asks for it. Failures are logged and
// never reach the caller.
func (p *Pipeline) Mail(ctx context.Context, q *models.QuerySpecification, doc *formats.Document) {
	if !q.SendOutputViaEmail {
		return
	}
	if p.cfg.Mailer == nil || p.cfg.Mailers == nil {
		p.logger.Warn("Query asks for mail delivery but no mailer is configured", zap.String("query_key", q.Key))
		return
	}

	ctx = context.WithoutCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("Panic while mailing query output",
					zap.String("query_key", q.Key),
					zap.Any("panic", r))
			}
		}()

		ctx, cancel := context.WithTimeout(ctx, p.cfg.MailTimeout)
		defer cancel()

		spec, err := p.cfg.Mailers.GetMailer(ctx, q.Mailer)
		if err != nil {
			p.logger.Warn("Failed to resolve mailer", zap.String("query_key", q.Key), zap.String("mailer", q.Mailer), zap.Error(err))
			return
		}
		if err := p.cfg.Mailer.Send(ctx, spec, doc); err != nil {
			p.logger.Warn("Failed to mail query output", zap.String("query_key", q.Key), zap.String("mailer", q.Mailer), zap.Error(err))
		}
	}()
}

// Wait blocks until background deliveries finish.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}
