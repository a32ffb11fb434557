package devsession

import (
	"github.com/rs/zerolog"
	"github.com/viant/afs"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	sessiondao "github.com/project-nyra/devsession/service/dao/session"
	"github.com/project-nyra/devsession/service/signal"
	"github.com/project-nyra/devsession/tracing"
)

// Option customises the façade service.
type Option func(s *Service)

// WithConfig sets the configuration; nil keeps the defaults.
func WithConfig(config *Config) Option {
	return func(s *Service) {
		if config != nil {
			s.config = config
		}
	}
}

// WithFileService sets the afs service used for durable state.
func WithFileService(fileService afs.Service) Option {
	return func(s *Service) { s.fs = fileService }
}

// WithStore sets the session store, replacing the filesystem default.
func WithStore(store sessiondao.Store) Option {
	return func(s *Service) { s.store = store }
}

// WithSignalChannel sets the signal channel, replacing the filesystem
// default.
func WithSignalChannel(channel signal.Channel) Option {
	return func(s *Service) { s.channel = channel }
}

// WithLogger sets the structured logger shared by all layers.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithTracing configures OpenTelemetry tracing with the stdout exporter.
// If outputFile is empty traces go to stdout. Safe to call multiple
// times; the first successful initialisation wins.
func WithTracing(serviceName, serviceVersion, outputFile string) Option {
	return func(s *Service) {
		_ = tracing.Init(serviceName, serviceVersion, outputFile)
	}
}

// WithTracingExporter configures OpenTelemetry tracing using a custom
// SpanExporter (OTLP, Jaeger, Zipkin, ...). Safe to call multiple times;
// the first successful initialisation wins.
func WithTracingExporter(serviceName, serviceVersion string, exporter sdktrace.SpanExporter) Option {
	return func(s *Service) {
		_ = tracing.InitWithExporter(serviceName, serviceVersion, exporter)
	}
}
