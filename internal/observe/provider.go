package observe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Exporter names accepted by InitProvider.
const (
	ExporterNone       = "none"
	ExporterPrometheus = "prometheus"
)

// ProviderConfig configures the OpenTelemetry metric provider.
type ProviderConfig struct {
	// ServiceName is reported on every series. Default: "drivemail".
	ServiceName    string
	ServiceVersion string

	// Exporter selects where metrics go. ExporterNone keeps the SDK
	// provider without a reader so instruments stay cheap.
	Exporter string

	// ListenAddr is where /metrics is served for ExporterPrometheus. Empty
	// registers the exporter without serving it.
	ListenAddr string
}

// Provider owns the installed meter provider and the optional scrape server.
type Provider struct {
	mp     *sdkmetric.MeterProvider
	server *http.Server
	addr   string
}

// InitProvider builds the meter provider described by cfg and registers it
// as the global OTel provider. Call Shutdown on exit to flush and close it.
func InitProvider(ctx context.Context, cfg ProviderConfig) (*Provider, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = meterName
	}

	// Schemaless so the merge never conflicts with the SDK default schema.
	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, err
	}

	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	var registry *prometheus.Registry

	switch cfg.Exporter {
	case "", ExporterNone:
	case ExporterPrometheus:
		registry = prometheus.NewRegistry()
		exp, err := promexporter.New(promexporter.WithRegisterer(registry))
		if err != nil {
			return nil, fmt.Errorf("prometheus exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(exp))
	default:
		return nil, fmt.Errorf("unknown metrics exporter %q", cfg.Exporter)
	}

	p := &Provider{mp: sdkmetric.NewMeterProvider(opts...)}

	if registry != nil && cfg.ListenAddr != "" {
		var lc net.ListenConfig
		ln, err := lc.Listen(ctx, "tcp", cfg.ListenAddr)
		if err != nil {
			_ = p.mp.Shutdown(ctx)
			return nil, fmt.Errorf("metrics listen %s: %w", cfg.ListenAddr, err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		p.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		p.addr = ln.Addr().String()
		go func() { _ = p.server.Serve(ln) }()
	}

	otel.SetMeterProvider(p.mp)
	return p, nil
}

// MeterProvider returns the provider instruments should be created on.
func (p *Provider) MeterProvider() metric.MeterProvider {
	return p.mp
}

// Addr is the bound scrape address, or empty when nothing is served.
func (p *Provider) Addr() string {
	return p.addr
}

// Shutdown stops the scrape server and flushes the meter provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	if p.server != nil {
		if err := p.server.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := p.mp.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
