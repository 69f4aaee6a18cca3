// Copyright Lightstep Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package launcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	"github.com/go-logr/zapr"
	"github.com/sethvargo/go-envconfig"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/lightstep/runtime-events-go/lightstep/instrumentation/runtimeevents"
	"github.com/lightstep/runtime-events-go/lightstep/instrumentation/runtimestats"
	"github.com/lightstep/runtime-events-go/lightstep/instrumentation/sampling"
	"github.com/lightstep/runtime-events-go/pipelines"
)

type Option func(*Config)

// WithEventSource configures where runtime events are read from.
// It is required.
func WithEventSource(src runtimeevents.Source) Option {
	return func(c *Config) {
		c.source = src
	}
}

// WithMetricExporterEndpoint configures the endpoint for sending metrics via OTLP
func WithMetricExporterEndpoint(url string) Option {
	return func(c *Config) {
		c.MetricExporterEndpoint = url
	}
}

// WithServiceName configures a "service.name" resource label
func WithServiceName(name string) Option {
	return func(c *Config) {
		c.ServiceName = name
	}
}

// WithServiceVersion configures a "service.version" resource label
func WithServiceVersion(version string) Option {
	return func(c *Config) {
		c.ServiceVersion = version
	}
}

// WithHeaders configures OTLP/gRPC connection headers
func WithHeaders(headers map[string]string) Option {
	return func(c *Config) {
		if c.Headers == nil {
			c.Headers = make(map[string]string)
		}
		for k, v := range headers {
			c.Headers[k] = v
		}
	}
}

// WithLogLevel configures the logging level.  "debug" enables
// verbose output from the default logger.
func WithLogLevel(loglevel string) Option {
	return func(c *Config) {
		c.LogLevel = loglevel
	}
}

// WithMetricExporterInsecure permits connecting to the
// metric endpoint without a certificate
func WithMetricExporterInsecure(insecure bool) Option {
	return func(c *Config) {
		c.MetricExporterEndpointInsecure = insecure
	}
}

// WithResourceAttributes configures attributes on the resource
func WithResourceAttributes(attributes map[string]string) Option {
	return func(c *Config) {
		c.ResourceAttributes = attributes
	}
}

// Configures a global error handler to be used throughout an OpenTelemetry instrumented project.
// See "go.opentelemetry.io/otel"
func WithErrorHandler(handler otel.ErrorHandler) Option {
	return func(c *Config) {
		c.errorHandler = handler
	}
}

// WithMetricReportingPeriod configures the metric reporting period,
// how often the reader collects and exports metric data.
func WithMetricReportingPeriod(p time.Duration) Option {
	return func(c *Config) {
		c.MetricReportingPeriod = fmt.Sprint(p)
	}
}

// WithMetricTemporalityPreference controls the temporality preference
// used for Counter and Histogram (only not for UpDownCounter, which
// ignores this preference for specified reasons).
func WithMetricTemporalityPreference(prefName string) Option {
	return func(c *Config) {
		c.MetricTemporalityPreference = prefName
	}
}

// WithMetricsEnabled configures whether the OTLP metrics pipeline
// is started.  When disabled, the MeterProvider given by
// WithMeterProvider or the global one is used.
func WithMetricsEnabled(enabled bool) Option {
	return func(c *Config) {
		c.MetricsEnabled = enabled
	}
}

// WithMeterProvider sets the provider used when the metrics
// pipeline is disabled.
func WithMeterProvider(provider metric.MeterProvider) Option {
	return func(c *Config) {
		c.meterProvider = provider
	}
}

// WithCollectors selects collectors by name, as accepted by
// runtimestats.ParseCollectors.
func WithCollectors(names ...string) Option {
	return func(c *Config) {
		c.Collectors = names
	}
}

// WithJITSampleEvery sets the JIT collector sampling rate.
func WithJITSampleEvery(n int) Option {
	return func(c *Config) {
		c.JITSampleEvery = n
	}
}

// WithContentionSampleEvery sets the lock contention sampling rate.
func WithContentionSampleEvery(n int) Option {
	return func(c *Config) {
		c.ContentionSampleEvery = n
	}
}

// WithThreadPoolSchedulingSampleEvery sets the thread pool
// scheduling sampling rate.
func WithThreadPoolSchedulingSampleEvery(n int) Option {
	return func(c *Config) {
		c.ThreadPoolSchedulingSampleEvery = n
	}
}

// WithPendingTTL sets how long a start event waits for its stop.
func WithPendingTTL(ttl time.Duration) Option {
	return func(c *Config) {
		c.PendingTTL = ttl
	}
}

// WithDebuggingMetrics enables per-event debugging counters.
func WithDebuggingMetrics(enabled bool) Option {
	return func(c *Config) {
		c.DebugMetrics = enabled
	}
}

// WithLogger sets the logger for the launcher, the collectors, and
// the OpenTelemetry SDK.
func WithLogger(logger logr.Logger) Option {
	return func(c *Config) {
		c.logger = logger
		c.customLogger = true
	}
}

// WithZapLogger is WithLogger for a zap logger.
func WithZapLogger(logger *zap.Logger) Option {
	return WithLogger(zapr.NewLogger(logger))
}

type defaultHandler struct {
	logger logr.Logger
}

func (l *defaultHandler) Handle(err error) {
	l.logger.Error(err, "opentelemetry error")
}

type Config struct {
	ServiceName                     string            `env:"RUNTIME_EVENTS_SERVICE_NAME"`
	ServiceVersion                  string            `env:"RUNTIME_EVENTS_SERVICE_VERSION,default=unknown"`
	Headers                         map[string]string `env:"OTEL_EXPORTER_OTLP_HEADERS"`
	MetricExporterEndpoint          string            `env:"OTEL_EXPORTER_OTLP_METRIC_ENDPOINT,default=localhost:4317"`
	MetricExporterEndpointInsecure  bool              `env:"OTEL_EXPORTER_OTLP_METRIC_INSECURE,default=false"`
	MetricsEnabled                  bool              `env:"RUNTIME_EVENTS_METRICS_ENABLED,default=true"`
	LogLevel                        string            `env:"OTEL_LOG_LEVEL,default=info"`
	MetricReportingPeriod           string            `env:"OTEL_EXPORTER_OTLP_METRIC_PERIOD,default=30s"`
	MetricTemporalityPreference     string            `env:"OTEL_EXPORTER_OTLP_METRIC_TEMPORALITY_PREFERENCE,default=cumulative"`
	Collectors                      []string          `env:"RUNTIME_EVENTS_COLLECTORS,default=all"`
	JITSampleEvery                  int               `env:"RUNTIME_EVENTS_JIT_SAMPLE_EVERY,default=10"`
	ContentionSampleEvery           int               `env:"RUNTIME_EVENTS_CONTENTION_SAMPLE_EVERY,default=2"`
	ThreadPoolSchedulingSampleEvery int               `env:"RUNTIME_EVENTS_THREADPOOL_SCHEDULING_SAMPLE_EVERY,default=10"`
	PendingTTL                      time.Duration     `env:"RUNTIME_EVENTS_PENDING_TTL,default=30s"`
	DebugMetrics                    bool              `env:"RUNTIME_EVENTS_DEBUG_METRICS,default=false"`
	ResourceAttributes              map[string]string
	Resource                        *resource.Resource

	logger        logr.Logger
	customLogger  bool
	errorHandler  otel.ErrorHandler
	meterProvider metric.MeterProvider
	source        runtimeevents.Source
}

func validateConfiguration(c Config) error {
	if len(c.ServiceName) == 0 {
		serviceNameSet := false
		for _, kv := range c.Resource.Attributes() {
			if kv.Key == semconv.ServiceNameKey {
				if len(kv.Value.AsString()) > 0 {
					serviceNameSet = true
				}
				break
			}
		}
		if !serviceNameSet {
			return errors.New("invalid configuration: service name missing. Set RUNTIME_EVENTS_SERVICE_NAME env var or configure WithServiceName in code")
		}
	}
	if c.source == nil {
		return errors.New("invalid configuration: event source missing. Configure WithEventSource in code")
	}
	if c.MetricsEnabled && c.MetricExporterEndpoint == "" {
		return errors.New("invalid configuration: metrics are enabled but no endpoint is set. Set OTEL_EXPORTER_OTLP_METRIC_ENDPOINT env var or configure WithMetricsEnabled(false) in code")
	}
	return nil
}

func newConfig(opts ...Option) (Config, error) {
	var c Config
	envError := envconfig.Process(context.Background(), &c)
	c.logger = stdr.New(log.New(os.Stderr, "", log.LstdFlags))

	for _, opt := range opts {
		opt(&c)
	}
	if c.LogLevel == "debug" && !c.customLogger {
		stdr.SetVerbosity(1)
	}
	c.Resource = newResource(&c)

	if envError != nil {
		return c, fmt.Errorf("environment error: %w", envError)
	}
	return c, nil
}

// collectorOptions translates the collector selection into
// runtimestats options.
func (c Config) collectorOptions() ([]runtimestats.Option, error) {
	names, err := runtimestats.ParseCollectors(strings.Join(c.Collectors, ","))
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	var opts []runtimestats.Option
	for _, name := range names {
		rate := runtimestats.DefaultRate(name)
		switch name {
		case runtimestats.JIT:
			rate = sampling.Rate(c.JITSampleEvery)
		case runtimestats.Contention:
			rate = sampling.Rate(c.ContentionSampleEvery)
		case runtimestats.ThreadPoolScheduling:
			rate = sampling.Rate(c.ThreadPoolSchedulingSampleEvery)
		}
		opts = append(opts, runtimestats.WithCollector(name, rate))
	}
	return opts, nil
}

type Launcher struct {
	config        Config
	stats         *runtimestats.Stats
	shutdownFuncs []func() error
}

func newResource(c *Config) *resource.Resource {
	r := resource.Environment()

	hostnameSet := false
	for iter := r.Iter(); iter.Next(); {
		if iter.Attribute().Key == semconv.HostNameKey && len(iter.Attribute().Value.Emit()) > 0 {
			hostnameSet = true
		}
	}

	attributes := []attribute.KeyValue{
		semconv.TelemetrySDKNameKey.String("runtime-events-go"),
		semconv.TelemetrySDKLanguageGo,
		semconv.TelemetrySDKVersionKey.String(runtimestats.Version()),
	}

	if len(c.ServiceName) > 0 {
		attributes = append(attributes, semconv.ServiceNameKey.String(c.ServiceName))
	}

	if len(c.ServiceVersion) > 0 {
		attributes = append(attributes, semconv.ServiceVersionKey.String(c.ServiceVersion))
	}

	for key, value := range c.ResourceAttributes {
		if len(value) > 0 {
			if key == string(semconv.HostNameKey) {
				hostnameSet = true
			}
			attributes = append(attributes, attribute.String(key, value))
		}
	}

	if !hostnameSet {
		hostname, err := os.Hostname()
		if err != nil {
			c.logger.V(1).Info("unable to set host.name. Set OTEL_RESOURCE_ATTRIBUTES=\"host.name=<your_host_name>\" env var or configure WithResourceAttributes in code", "error", err)
		} else {
			attributes = append(attributes, semconv.HostNameKey.String(hostname))
		}
	}

	attributes = append(r.Attributes(), attributes...)

	// These detectors can't actually fail, ignoring the error.
	r, _ = resource.New(
		context.Background(),
		resource.WithSchemaURL(semconv.SchemaURL),
		resource.WithAttributes(attributes...),
	)
	return r
}

func setupMetrics(c Config) (func() error, error) {
	if !c.MetricsEnabled {
		c.logger.V(1).Info("metrics export is disabled by configuration")
		return nil, nil
	}
	return pipelines.NewMetricsPipeline(pipelines.PipelineConfig{
		Endpoint:              c.MetricExporterEndpoint,
		Insecure:              c.MetricExporterEndpointInsecure,
		Headers:               c.Headers,
		Resource:              c.Resource,
		ReportingPeriod:       c.MetricReportingPeriod,
		TemporalityPreference: c.MetricTemporalityPreference,
	})
}

// ConfigureRuntimeMetrics starts exporting runtime event metrics.
// On error, everything started so far is stopped again.
func ConfigureRuntimeMetrics(opts ...Option) (Launcher, error) {
	c, err := newConfig(opts...)
	if err != nil {
		return Launcher{config: c}, err
	}

	if c.LogLevel == "debug" {
		c.logger.V(1).Info("debug logging enabled")
		s, _ := json.MarshalIndent(c, "", "\t")
		c.logger.V(1).Info("configuration", "config", string(s))
	}

	ls := Launcher{
		config: c,
	}

	if err := validateConfiguration(c); err != nil {
		return ls, fmt.Errorf("configuration error: %w", err)
	}
	statsOpts, err := c.collectorOptions()
	if err != nil {
		return ls, fmt.Errorf("configuration error: %w", err)
	}

	otel.SetLogger(c.logger)
	if c.errorHandler != nil {
		otel.SetErrorHandler(c.errorHandler)
		statsOpts = append(statsOpts, runtimestats.WithErrorHandler(c.errorHandler))
	} else {
		otel.SetErrorHandler(&defaultHandler{logger: c.logger})
	}

	shutdown, err := setupMetrics(c)
	if err != nil {
		return ls, fmt.Errorf("setup error: %w", err)
	}
	provider := c.meterProvider
	if shutdown != nil {
		ls.shutdownFuncs = append(ls.shutdownFuncs, shutdown)
		provider = otel.GetMeterProvider()
	}

	statsOpts = append(statsOpts,
		runtimestats.WithMeterProvider(provider),
		runtimestats.WithLogger(c.logger),
		runtimestats.WithPendingTTL(c.PendingTTL),
		runtimestats.WithDebuggingMetrics(c.DebugMetrics),
	)
	ls.stats, err = runtimestats.Start(c.source, statsOpts...)
	if err != nil {
		return ls, multierr.Append(fmt.Errorf("setup error: %w", err), ls.Shutdown())
	}
	return ls, nil
}

// Collectors lists the running collectors.
func (ls Launcher) Collectors() []string {
	if ls.stats == nil {
		return nil
	}
	return ls.stats.Collectors()
}

// Shutdown stops the collectors, then flushes and stops the
// metrics pipeline.
func (ls Launcher) Shutdown() error {
	var err error
	if ls.stats != nil {
		err = multierr.Append(err, ls.stats.Shutdown())
	}
	for _, shutdown := range ls.shutdownFuncs {
		if serr := shutdown(); serr != nil {
			err = multierr.Append(err, fmt.Errorf("failed to stop exporter: %w", serr))
		}
	}
	return err
}
