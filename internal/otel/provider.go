// Package otel builds the OpenTelemetry log pipeline behind the slog bridge.
package otel

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/openrails-go/fleet/internal/config"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ErrNoExporter is returned when the pipeline is enabled with nowhere to send
// records.
var ErrNoExporter = errors.New("otel enabled without a log writer or endpoint")

// Identity names the simulation node on every exported record.
type Identity struct {
	Role string
	User string
}

// Pipeline owns the log provider. A pipeline started from a disabled config
// has a nil provider and no-op methods.
type Pipeline struct {
	provider *sdklog.LoggerProvider
}

// Start builds the pipeline. Records are written to w as pretty JSON and,
// when an endpoint is set, exported over OTLP/HTTP as well.
func Start(ctx context.Context, c config.OTelConfig, id Identity, w io.Writer) (*Pipeline, error) {
	if !c.Enabled {
		return &Pipeline{}, nil
	}
	res, err := nodeResource(ctx, c.ServiceName, id)
	if err != nil {
		return nil, err
	}
	exps, err := exporters(ctx, c, w)
	if err != nil {
		return nil, err
	}
	opts := []sdklog.LoggerProviderOption{sdklog.WithResource(res)}
	for _, exp := range exps {
		opts = append(opts, sdklog.WithProcessor(sdklog.NewBatchProcessor(exp, sdklog.WithExportTimeout(c.BatchTimeout))))
	}
	return &Pipeline{provider: sdklog.NewLoggerProvider(opts...)}, nil
}

func nodeResource(ctx context.Context, service string, id Identity) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{semconv.ServiceName(service)}
	if id.Role != "" {
		attrs = append(attrs, attribute.String("fleet.role", id.Role))
	}
	if id.User != "" {
		attrs = append(attrs, attribute.String("fleet.user", id.User))
	}
	res, err := resource.New(ctx, resource.WithAttributes(attrs...))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}

func exporters(ctx context.Context, c config.OTelConfig, w io.Writer) ([]sdklog.Exporter, error) {
	var exps []sdklog.Exporter
	if w != nil {
		exp, err := stdoutlog.New(stdoutlog.WithWriter(w), stdoutlog.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create file log exporter: %w", err)
		}
		exps = append(exps, exp)
	}
	if c.Endpoint != "" {
		opts := []otlploghttp.Option{otlploghttp.WithEndpoint(c.Endpoint)}
		if c.Insecure {
			opts = append(opts, otlploghttp.WithInsecure())
		}
		exp, err := otlploghttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP log exporter: %w", err)
		}
		exps = append(exps, exp)
	}
	if len(exps) == 0 {
		return nil, ErrNoExporter
	}
	return exps, nil
}

// LoggerProvider returns the provider for the otelslog bridge, or nil when
// the pipeline is disabled.
func (p *Pipeline) LoggerProvider() *sdklog.LoggerProvider {
	return p.provider
}

// Shutdown flushes pending records and stops the exporters.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	if p.provider == nil {
		return nil
	}
	if err := p.provider.Shutdown(ctx); err != nil {
		return fmt.Errorf("log shutdown failed: %w", err)
	}
	return nil
}
