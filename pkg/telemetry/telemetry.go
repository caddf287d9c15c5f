// Package telemetry wires structured JSON logging and optional OpenTelemetry
// tracing for the update server binaries.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.opentelemetry.io/otel/trace"
)

// Init configures logging and tracing for serviceName. Tracing is enabled
// only when otlpEndpoint is non-empty; without it the returned middleware
// still emits a JSON access log per request.
//
// The returned shutdown func flushes the trace exporter and is safe to call
// even when tracing is disabled.
func Init(ctx context.Context, serviceName, otlpEndpoint string) (func(context.Context) error, func(http.Handler) http.Handler, *log.Logger, error) {
	if serviceName == "" {
		return nil, nil, nil, fmt.Errorf("telemetry: service name is required")
	}

	writer := newLineWriter(serviceName, os.Stdout)
	logger := log.New(writer, "", 0)

	shutdown := func(context.Context) error { return nil }
	traced := false

	if otlpEndpoint != "" {
		exporter, err := newTraceExporter(ctx, otlpEndpoint)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("telemetry: create exporter: %w", err)
		}

		res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
		if err != nil {
			return nil, nil, nil, fmt.Errorf("telemetry: create resource: %w", err)
		}

		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))
		shutdown = tp.Shutdown
		traced = true
	}

	middleware := func(next http.Handler) http.Handler {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(rec, r)

			traceID := ""
			if sc := trace.SpanFromContext(r.Context()).SpanContext(); sc.IsValid() {
				traceID = sc.TraceID().String()
			}
			writer.log("INFO", fmt.Sprintf("%s %s %d %s", r.Method, r.URL.Path, rec.status, time.Since(start)), traceID)
		})
		if traced {
			return otelhttp.NewHandler(handler, serviceName)
		}
		return handler
	}

	return shutdown, middleware, logger, nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func newTraceExporter(ctx context.Context, endpoint string) (*otlptrace.Exporter, error) {
	var opts []otlptracehttp.Option

	parsed, err := url.Parse(endpoint)
	if err == nil && parsed.Scheme != "" {
		if parsed.Host == "" {
			return nil, fmt.Errorf("invalid OTLP endpoint: %s", endpoint)
		}
		opts = append(opts, otlptracehttp.WithEndpoint(parsed.Host))
		if parsed.Path != "" && parsed.Path != "/" {
			opts = append(opts, otlptracehttp.WithURLPath(parsed.Path))
		}
		if parsed.Scheme == "http" {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
	} else {
		opts = append(opts, otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithInsecure())
	}

	return otlptracehttp.New(ctx, opts...)
}

// lineWriter renders each log line as a single JSON object. It implements
// io.Writer so it can back a *log.Logger.
type lineWriter struct {
	mu      sync.Mutex
	service string
	out     io.Writer
}

func newLineWriter(service string, out io.Writer) *lineWriter {
	if out == nil {
		out = os.Stdout
	}
	return &lineWriter{service: service, out: out}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	level, msg := splitLevel(strings.TrimSpace(string(p)))
	if err := w.log(level, msg, ""); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *lineWriter) log(level, msg, traceID string) error {
	entry := map[string]string{
		"ts":      time.Now().UTC().Format(time.RFC3339Nano),
		"level":   level,
		"service": w.service,
		"msg":     msg,
	}
	if traceID != "" {
		entry["trace_id"] = traceID
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	_, err = w.out.Write(append(data, '\n'))
	return err
}

// splitLevel recognises the "LEVEL message" convention used throughout the
// binaries (logger.Printf("ERROR ...")).
func splitLevel(msg string) (string, string) {
	fields := strings.Fields(msg)
	if len(fields) > 0 {
		switch lvl := strings.ToUpper(fields[0]); lvl {
		case "DEBUG", "INFO", "WARN", "ERROR":
			return lvl, strings.TrimSpace(strings.TrimPrefix(msg, fields[0]))
		}
	}
	return "INFO", msg
}
