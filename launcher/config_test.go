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
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/suite"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/protobuf/encoding/prototext"

	"github.com/lightstep/runtime-events-go/lightstep/instrumentation/runtimeevents"
	"github.com/lightstep/runtime-events-go/lightstep/instrumentation/runtimestats"
	"github.com/lightstep/runtime-events-go/pipelines/test"
)

const exceptionThrown = 80

type testSuite struct {
	suite.Suite

	*test.Server

	testLogger
	testErrorHandler
}

func (suite *testSuite) SetupSuite() {
	suite.Server = test.NewServer(suite.T())
}

func (suite *testSuite) SetupTest() {
	suite.testLogger.reset()
}

func (suite *testSuite) insecureMetricsEndpointOptions() []Option {
	return []Option{
		WithMetricExporterEndpoint(fmt.Sprintf(":%d", suite.Server.InsecureMetricsPort)),
		WithMetricExporterInsecure(true),
	}
}

// localOptions disable export and record into a manual reader.
func (suite *testSuite) localOptions(feed *runtimeevents.Feed) ([]Option, *sdkmetric.ManualReader) {
	reader := sdkmetric.NewManualReader()
	return []Option{
		WithEventSource(feed),
		WithMetricsEnabled(false),
		WithMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))),
		WithLogger(suite.testLogger.logr()),
		WithErrorHandler(&suite.testErrorHandler),
	}, reader
}

func (suite *testSuite) TearDownTest() {
	unsetEnvironment()
	suite.testLogger.reset()
}

func (suite *testSuite) TearDownSuite() {
	suite.Server.Stop()
}

func TestLauncherSuite(t *testing.T) {
	suite.Run(t, new(testSuite))
}

type testLogger struct {
	lock   sync.Mutex
	output []string
}

func (logger *testLogger) logr() logr.Logger {
	return funcr.New(func(prefix, args string) {
		logger.lock.Lock()
		defer logger.lock.Unlock()
		logger.output = append(logger.output, prefix+" "+args)
	}, funcr.Options{Verbosity: 1})
}

func (suite *testSuite) getOutput() []string {
	suite.testLogger.lock.Lock()
	defer suite.testLogger.lock.Unlock()
	return append([]string(nil), suite.testLogger.output...)
}

func (suite *testSuite) requireLogContains(expected string) {
	suite.T().Helper()

	for _, output := range suite.getOutput() {
		if strings.Contains(output, expected) {
			return
		}
	}

	suite.T().Errorf("\nString unexpectedly not found: %v\nIn: %v", expected, suite.getOutput())
}

func (logger *testLogger) reset() {
	logger.lock.Lock()
	defer logger.lock.Unlock()
	logger.output = nil
}

type testErrorHandler struct {
	lock sync.Mutex
	errs []error
}

func (t *testErrorHandler) Handle(err error) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.errs = append(t.errs, err)
}

func publishExceptions(feed *runtimeevents.Feed, n int) {
	for i := 0; i < n; i++ {
		feed.Publish(runtimeevents.Event{
			Source: runtimeevents.RuntimeSourceName,
			ID:     exceptionThrown,
			Name:   "ExceptionThrown_V1",
		})
	}
}

func sumValue(rm metricdata.ResourceMetrics, name string) (int64, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok || len(sum.DataPoints) == 0 {
				return 0, false
			}
			return sum.DataPoints[0].Value, true
		}
	}
	return 0, false
}

func (suite *testSuite) TestInvalidServiceName() {
	feed := runtimeevents.NewFeed()
	opts, _ := suite.localOptions(feed)
	ls, err := ConfigureRuntimeMetrics(opts...)
	suite.Require().NoError(ls.Shutdown())

	suite.Require().Error(err)
	suite.Contains(err.Error(), "invalid configuration: service name missing")
	suite.Equal(0, feed.Subscribers())
}

func (suite *testSuite) TestMissingEventSource() {
	_, err := ConfigureRuntimeMetrics(
		WithServiceName("test-service"),
		WithMetricsEnabled(false),
		WithLogger(suite.testLogger.logr()),
	)
	suite.Require().Error(err)
	suite.Contains(err.Error(), "event source missing")
}

func (suite *testSuite) TestMissingEndpoint() {
	_, err := ConfigureRuntimeMetrics(
		WithServiceName("test-service"),
		WithEventSource(runtimeevents.NewFeed()),
		WithMetricExporterEndpoint(""),
		WithLogger(suite.testLogger.logr()),
	)
	suite.Require().Error(err)
	suite.Contains(err.Error(), "no endpoint is set")
}

func (suite *testSuite) TestServiceNameViaResourceAttributes() {
	os.Setenv("OTEL_RESOURCE_ATTRIBUTES", "service.name=test-service-b")
	opts, _ := suite.localOptions(runtimeevents.NewFeed())
	ls, err := ConfigureRuntimeMetrics(opts...)
	suite.Require().NoError(err)
	suite.Require().NoError(ls.Shutdown())
}

func (suite *testSuite) TestInvalidCollector() {
	feed := runtimeevents.NewFeed()
	opts, _ := suite.localOptions(feed)
	_, err := ConfigureRuntimeMetrics(append(opts,
		WithServiceName("test-service"),
		WithCollectors("gc", "bogus"),
	)...)
	suite.Require().Error(err)
	suite.Contains(err.Error(), `unknown runtime stats collector: "bogus"`)
	suite.Equal(0, feed.Subscribers())
}

func (suite *testSuite) TestInvalidSampleRate() {
	feed := runtimeevents.NewFeed()
	opts, _ := suite.localOptions(feed)
	_, err := ConfigureRuntimeMetrics(append(opts,
		WithServiceName("test-service"),
		WithCollectors(runtimestats.JIT),
		WithJITSampleEvery(0),
	)...)
	suite.Require().Error(err)
	suite.Contains(err.Error(), "invalid sampling rate 0")
	suite.Equal(0, feed.Subscribers())
}

func (suite *testSuite) TestInvalidReportingPeriod() {
	_, err := ConfigureRuntimeMetrics(append(suite.insecureMetricsEndpointOptions(),
		WithServiceName("test-service"),
		WithEventSource(runtimeevents.NewFeed()),
		WithLogger(suite.testLogger.logr()),
		WithMetricReportingPeriod(-time.Second),
	)...)
	suite.Require().Error(err)
	suite.Contains(err.Error(), "setup error")
}

func (suite *testSuite) TestCollectorSelection() {
	feed := runtimeevents.NewFeed()
	opts, _ := suite.localOptions(feed)
	ls, err := ConfigureRuntimeMetrics(append(opts,
		WithServiceName("test-service"),
		WithCollectors("GC", " exceptions"),
	)...)
	suite.Require().NoError(err)

	suite.Equal([]string{runtimestats.GC, runtimestats.Exceptions}, ls.Collectors())
	suite.Equal(2, feed.Subscribers())

	suite.Require().NoError(ls.Shutdown())
	suite.Equal(0, feed.Subscribers())
	suite.Empty(suite.testErrorHandler.errs)
}

func (suite *testSuite) TestMetricsDisabledUsesMeterProvider() {
	feed := runtimeevents.NewFeed()
	opts, reader := suite.localOptions(feed)
	ls, err := ConfigureRuntimeMetrics(append(opts,
		WithServiceName("test-service"),
		WithCollectors(runtimestats.Exceptions),
	)...)
	suite.Require().NoError(err)
	defer func() { suite.Require().NoError(ls.Shutdown()) }()

	publishExceptions(feed, 3)

	var rm metricdata.ResourceMetrics
	suite.Require().NoError(reader.Collect(context.Background(), &rm))
	v, ok := sumValue(rm, "runtime.exceptions")
	suite.True(ok)
	suite.Equal(int64(3), v)
}

func (suite *testSuite) TestExportOnShutdown() {
	feed := runtimeevents.NewFeed()
	before := len(suite.Server.MetricsRequests())

	ls, err := ConfigureRuntimeMetrics(append(suite.insecureMetricsEndpointOptions(),
		WithServiceName("export-service"),
		WithEventSource(feed),
		WithCollectors(runtimestats.Exceptions),
		WithLogger(suite.testLogger.logr()),
		WithErrorHandler(&suite.testErrorHandler),
		WithHeaders(map[string]string{"test-header": "launcher"}),
	)...)
	suite.Require().NoError(err)

	publishExceptions(feed, 2)
	suite.Require().NoError(ls.Shutdown())

	requests := suite.Server.MetricsRequests()
	suite.Require().Greater(len(requests), before)

	var all []string
	for _, req := range requests[before:] {
		txt, err := prototext.Marshal(req)
		suite.Require().NoError(err)
		all = append(all, string(txt))
	}
	output := strings.Join(all, "\n")
	suite.Contains(output, "runtime.exceptions")
	suite.Contains(output, "export-service")
	suite.Contains(output, runtimestats.ScopeName)

	mds := suite.Server.MetricsMDs()
	suite.Equal([]string{"launcher"}, mds[len(mds)-1]["test-header"])
}

func (suite *testSuite) TestDebugEnabled() {
	opts, _ := suite.localOptions(runtimeevents.NewFeed())
	ls, err := ConfigureRuntimeMetrics(append(opts,
		WithServiceName("test-service"),
		WithLogLevel("debug"),
		WithResourceAttributes(map[string]string{
			"attr1":     "val1",
			"host.name": "host456",
		}),
	)...)
	suite.Require().NoError(err)
	defer func() { suite.Require().NoError(ls.Shutdown()) }()

	output := strings.Join(suite.getOutput(), ",")
	assert := suite.Assert()
	assert.Contains(output, "debug logging enabled")
	assert.Contains(output, "test-service")
	assert.Contains(output, "attr1")
	assert.Contains(output, "val1")
	assert.Contains(output, "host456")
}

func (suite *testSuite) TestDefaultErrorHandlerLogs() {
	core, logs := observer.New(zap.InfoLevel)
	feed := runtimeevents.NewFeed()
	ls, err := ConfigureRuntimeMetrics(
		WithServiceName("test-service"),
		WithEventSource(feed),
		WithMetricsEnabled(false),
		WithMeterProvider(sdkmetric.NewMeterProvider()),
		WithZapLogger(zap.New(core)),
	)
	suite.Require().NoError(err)
	defer func() { suite.Require().NoError(ls.Shutdown()) }()

	otel.Handle(errors.New("exporter unavailable"))

	entries := logs.FilterMessage("opentelemetry error").All()
	suite.Require().Len(entries, 1)
	suite.Equal("exporter unavailable", entries[0].ContextMap()["error"])
}

func (suite *testSuite) TestDefaultConfig() {
	config, err := newConfig(
		WithLogger(suite.testLogger.logr()),
		WithErrorHandler(&suite.testErrorHandler),
	)
	suite.Require().NoError(err)

	attributes := []attribute.KeyValue{
		attribute.String("host.name", host()),
		attribute.String("service.version", "unknown"),
		attribute.String("telemetry.sdk.name", "runtime-events-go"),
		attribute.String("telemetry.sdk.language", "go"),
		attribute.String("telemetry.sdk.version", runtimestats.Version()),
	}

	expected := Config{
		ServiceName:                     "",
		ServiceVersion:                  "unknown",
		MetricExporterEndpoint:          "localhost:4317",
		MetricExporterEndpointInsecure:  false,
		MetricReportingPeriod:           "30s",
		MetricsEnabled:                  true,
		MetricTemporalityPreference:     "cumulative",
		LogLevel:                        "info",
		Collectors:                      []string{"all"},
		JITSampleEvery:                  10,
		ContentionSampleEvery:           2,
		ThreadPoolSchedulingSampleEvery: 10,
		PendingTTL:                      30 * time.Second,
		Resource:                        resource.NewWithAttributes(semconv.SchemaURL, attributes...),
	}
	suite.Empty(cmp.Diff(expected, config, cmpopts.IgnoreUnexported(Config{}), cmpopts.EquateEmpty()))
	suite.Equal(&suite.testErrorHandler, config.errorHandler)
}

func (suite *testSuite) TestEnvironmentVariables() {
	setEnvironment()

	config, err := newConfig(WithLogger(suite.testLogger.logr()))
	suite.Require().NoError(err)

	attributes := []attribute.KeyValue{
		attribute.String("host.name", host()),
		attribute.String("service.name", "test-service-name"),
		attribute.String("service.version", "test-service-version"),
		attribute.String("telemetry.sdk.name", "runtime-events-go"),
		attribute.String("telemetry.sdk.language", "go"),
		attribute.String("telemetry.sdk.version", runtimestats.Version()),
	}

	expected := Config{
		ServiceName:                     "test-service-name",
		ServiceVersion:                  "test-service-version",
		Headers:                         map[string]string{"api-key": "secret"},
		MetricExporterEndpoint:          "metrics-url",
		MetricExporterEndpointInsecure:  true,
		MetricReportingPeriod:           "10s",
		MetricsEnabled:                  false,
		MetricTemporalityPreference:     "delta",
		LogLevel:                        "debug",
		Collectors:                      []string{"gc", "jit"},
		JITSampleEvery:                  5,
		ContentionSampleEvery:           3,
		ThreadPoolSchedulingSampleEvery: 7,
		PendingTTL:                      5 * time.Second,
		DebugMetrics:                    true,
		Resource:                        resource.NewWithAttributes(semconv.SchemaURL, attributes...),
	}
	suite.Empty(cmp.Diff(expected, config, cmpopts.IgnoreUnexported(Config{})))
}

func (suite *testSuite) TestConfigurationOverrides() {
	setEnvironment()

	config, err := newConfig(
		WithServiceName("override-service-name"),
		WithServiceVersion("override-service-version"),
		WithMetricExporterEndpoint("override-metrics-url"),
		WithMetricExporterInsecure(false),
		WithMetricTemporalityPreference("stateless"),
		WithMetricReportingPeriod(time.Minute),
		WithMetricsEnabled(true),
		WithLogLevel("info"),
		WithCollectors(runtimestats.Contention),
		WithContentionSampleEvery(4),
		WithThreadPoolSchedulingSampleEvery(20),
		WithJITSampleEvery(1),
		WithPendingTTL(time.Minute),
		WithDebuggingMetrics(false),
		WithHeaders(map[string]string{"other": "value"}),
		WithLogger(suite.testLogger.logr()),
	)
	suite.Require().NoError(err)

	attributes := []attribute.KeyValue{
		attribute.String("host.name", host()),
		attribute.String("service.name", "override-service-name"),
		attribute.String("service.version", "override-service-version"),
		attribute.String("telemetry.sdk.name", "runtime-events-go"),
		attribute.String("telemetry.sdk.language", "go"),
		attribute.String("telemetry.sdk.version", runtimestats.Version()),
	}

	expected := Config{
		ServiceName:                     "override-service-name",
		ServiceVersion:                  "override-service-version",
		Headers:                         map[string]string{"api-key": "secret", "other": "value"},
		MetricExporterEndpoint:          "override-metrics-url",
		MetricExporterEndpointInsecure:  false,
		MetricReportingPeriod:           "1m0s",
		MetricsEnabled:                  true,
		MetricTemporalityPreference:     "stateless",
		LogLevel:                        "info",
		Collectors:                      []string{"contention"},
		JITSampleEvery:                  1,
		ContentionSampleEvery:           4,
		ThreadPoolSchedulingSampleEvery: 20,
		PendingTTL:                      time.Minute,
		DebugMetrics:                    false,
		Resource:                        resource.NewWithAttributes(semconv.SchemaURL, attributes...),
	}
	suite.Empty(cmp.Diff(expected, config, cmpopts.IgnoreUnexported(Config{})))
}

func (suite *testSuite) TestEnvironmentError() {
	os.Setenv("RUNTIME_EVENTS_JIT_SAMPLE_EVERY", "ten")
	_, err := newConfig(WithLogger(suite.testLogger.logr()))
	suite.Require().Error(err)
	suite.Contains(err.Error(), "environment error")
}

func host() string {
	host, _ := os.Hostname()
	return host
}

func (suite *testSuite) TestConfigureResourcesAttributes() {
	assert := suite.Assert()
	os.Setenv("OTEL_RESOURCE_ATTRIBUTES", "label1=value1,label2=value2")
	config := Config{
		ServiceName:    "test-service",
		ServiceVersion: "test-version",
	}
	resource := newResource(&config)
	expected := []attribute.KeyValue{
		attribute.String("host.name", host()),
		attribute.String("label1", "value1"),
		attribute.String("label2", "value2"),
		attribute.String("service.name", "test-service"),
		attribute.String("service.version", "test-version"),
		attribute.String("telemetry.sdk.language", "go"),
		attribute.String("telemetry.sdk.name", "runtime-events-go"),
		attribute.String("telemetry.sdk.version", runtimestats.Version()),
	}
	assert.Equal(expected, resource.Attributes())

	os.Setenv("OTEL_RESOURCE_ATTRIBUTES", "telemetry.sdk.language=test-language")
	config = Config{
		ServiceName:    "test-service",
		ServiceVersion: "test-version",
	}
	resource = newResource(&config)
	expected = []attribute.KeyValue{
		attribute.String("host.name", host()),
		attribute.String("service.name", "test-service"),
		attribute.String("service.version", "test-version"),
		attribute.String("telemetry.sdk.language", "go"),
		attribute.String("telemetry.sdk.name", "runtime-events-go"),
		attribute.String("telemetry.sdk.version", runtimestats.Version()),
	}
	assert.Equal(expected, resource.Attributes())

	os.Setenv("OTEL_RESOURCE_ATTRIBUTES", "service.name=test-service-b,host.name=host123")
	config = Config{
		ServiceName:    "test-service-b",
		ServiceVersion: "test-version",
	}
	resource = newResource(&config)
	expected = []attribute.KeyValue{
		attribute.String("host.name", "host123"),
		attribute.String("service.name", "test-service-b"),
		attribute.String("service.version", "test-version"),
		attribute.String("telemetry.sdk.language", "go"),
		attribute.String("telemetry.sdk.name", "runtime-events-go"),
		attribute.String("telemetry.sdk.version", runtimestats.Version()),
	}
	assert.Equal(expected, resource.Attributes())
}

func (suite *testSuite) TestEmptyHostnameDefaultsToOsHostname() {
	assert := suite.Assert()
	os.Setenv("OTEL_RESOURCE_ATTRIBUTES", "host.name=")
	opts, _ := suite.localOptions(runtimeevents.NewFeed())
	ls, err := ConfigureRuntimeMetrics(append(opts,
		WithServiceName("test-service"),
		WithResourceAttributes(map[string]string{
			"attr1":     "val1",
			"host.name": "",
		}),
	)...)
	suite.Require().NoError(err)
	defer func() { suite.Require().NoError(ls.Shutdown()) }()

	attrs := attribute.NewSet(ls.config.Resource.Attributes()...)
	v, ok := attrs.Value("host.name")
	assert.Equal(host(), v.AsString())
	assert.True(ok)

	v, ok = attrs.Value("attr1")
	assert.Equal("val1", v.AsString())
	assert.True(ok)
}

func setEnvironment() {
	os.Setenv("RUNTIME_EVENTS_SERVICE_NAME", "test-service-name")
	os.Setenv("RUNTIME_EVENTS_SERVICE_VERSION", "test-service-version")
	os.Setenv("OTEL_EXPORTER_OTLP_HEADERS", "api-key:secret")
	os.Setenv("OTEL_EXPORTER_OTLP_METRIC_ENDPOINT", "metrics-url")
	os.Setenv("OTEL_EXPORTER_OTLP_METRIC_INSECURE", "true")
	os.Setenv("OTEL_EXPORTER_OTLP_METRIC_PERIOD", "10s")
	os.Setenv("OTEL_LOG_LEVEL", "debug")
	os.Setenv("OTEL_RESOURCE_ATTRIBUTES", "service.name=test-service-name-b")
	os.Setenv("OTEL_EXPORTER_OTLP_METRIC_TEMPORALITY_PREFERENCE", "delta")
	os.Setenv("RUNTIME_EVENTS_METRICS_ENABLED", "false")
	os.Setenv("RUNTIME_EVENTS_COLLECTORS", "gc,jit")
	os.Setenv("RUNTIME_EVENTS_JIT_SAMPLE_EVERY", "5")
	os.Setenv("RUNTIME_EVENTS_CONTENTION_SAMPLE_EVERY", "3")
	os.Setenv("RUNTIME_EVENTS_THREADPOOL_SCHEDULING_SAMPLE_EVERY", "7")
	os.Setenv("RUNTIME_EVENTS_PENDING_TTL", "5s")
	os.Setenv("RUNTIME_EVENTS_DEBUG_METRICS", "true")
}

func unsetEnvironment() {
	vars := []string{
		"RUNTIME_EVENTS_SERVICE_NAME",
		"RUNTIME_EVENTS_SERVICE_VERSION",
		"OTEL_EXPORTER_OTLP_HEADERS",
		"OTEL_EXPORTER_OTLP_METRIC_ENDPOINT",
		"OTEL_EXPORTER_OTLP_METRIC_INSECURE",
		"OTEL_EXPORTER_OTLP_METRIC_PERIOD",
		"OTEL_LOG_LEVEL",
		"OTEL_RESOURCE_ATTRIBUTES",
		"OTEL_SERVICE_NAME",
		"OTEL_EXPORTER_OTLP_METRIC_TEMPORALITY_PREFERENCE",
		"RUNTIME_EVENTS_METRICS_ENABLED",
		"RUNTIME_EVENTS_COLLECTORS",
		"RUNTIME_EVENTS_JIT_SAMPLE_EVERY",
		"RUNTIME_EVENTS_CONTENTION_SAMPLE_EVERY",
		"RUNTIME_EVENTS_THREADPOOL_SCHEDULING_SAMPLE_EVERY",
		"RUNTIME_EVENTS_PENDING_TTL",
		"RUNTIME_EVENTS_DEBUG_METRICS",
	}
	for _, envvar := range vars {
		os.Unsetenv(envvar)
	}
}

func TestMain(m *testing.M) {
	unsetEnvironment()
	os.Exit(m.Run())
}
