// Package pipeline runs the full decode, interpret, validate and image
// extraction flow over one transaction.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/bentedesco/eft-fingerprint-viewer/internal/an2k"
	"github.com/bentedesco/eft-fingerprint-viewer/internal/common"
	"github.com/bentedesco/eft-fingerprint-viewer/internal/images"
	"github.com/bentedesco/eft-fingerprint-viewer/internal/metadata"
	"github.com/bentedesco/eft-fingerprint-viewer/internal/rules"
)

const tracerName = "eftgate.pipeline"

// Options configures Process. A nil Engine uses the built-in table; a nil
// Codec skips pixel decoding.
type Options struct {
	Engine  *rules.Engine
	Codec   images.Codec
	Decode  images.DecodeOptions
	Metrics *common.Metrics
}

// Result holds everything derived from one transaction.
type Result struct {
	SHA256     string
	Size       int
	Fields     []an2k.Field
	Metadata   metadata.Metadata
	Validation rules.Report
	Images     []images.ImageField
	// Decoded has one entry per image when a codec was configured.
	Decoded  []images.Decoded
	Duration time.Duration
}

// DecodeFailures counts images whose decode failed.
func (r *Result) DecodeFailures() int {
	n := 0
	for _, d := range r.Decoded {
		if d.Err != nil {
			n++
		}
	}
	return n
}

// Process runs the pipeline over data. The only error it returns is a
// container format error from the decoder (or context cancellation); image
// failures are reported per image.
func Process(ctx context.Context, data []byte, opts Options) (*Result, error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "pipeline.Process", trace.WithAttributes(attribute.Int("eft.size", len(data))))
	defer span.End()

	start := time.Now()
	res := &Result{SHA256: common.Sha256Hex(data), Size: len(data)}
	span.SetAttributes(attribute.String("eft.sha256", res.SHA256))

	_, decodeSpan := tracer.Start(ctx, "an2k.Decode")
	dec := an2k.NewDecoder(data)
	dec.SetMetrics(opts.Metrics)
	recs, err := dec.ReadAll()
	if err != nil {
		decodeSpan.RecordError(err)
		decodeSpan.SetStatus(codes.Error, "format error")
		decodeSpan.End()
		span.SetStatus(codes.Error, err.Error())
		opts.Metrics.IncFailure()
		return nil, err
	}
	res.Fields = an2k.Flatten(recs)
	decodeSpan.SetAttributes(attribute.Int("an2k.records", len(recs)), attribute.Int("an2k.fields", len(res.Fields)))
	decodeSpan.End()

	res.Metadata = metadata.Interpret(res.Fields)
	engine := opts.Engine
	if engine == nil {
		engine = rules.NewEngine(rules.DefaultTable())
	}
	_, validateSpan := tracer.Start(ctx, "rules.Validate")
	res.Validation = engine.Validate(res.Metadata.Transaction, res.Metadata.Demographics, res.Metadata.Fingerprints)
	validateSpan.SetAttributes(
		attribute.String("eft.tot", res.Validation.TransactionType),
		attribute.Bool("eft.valid", res.Validation.IsValid),
	)
	validateSpan.End()

	res.Images = images.Extract(res.Fields)
	span.SetAttributes(attribute.Int("eft.images", len(res.Images)))
	if opts.Codec != nil && len(res.Images) > 0 {
		dctx, imgSpan := tracer.Start(ctx, "images.DecodeAll")
		res.Decoded = images.DecodeAll(dctx, opts.Codec, res.Images, opts.Decode)
		failed := res.DecodeFailures()
		imgSpan.SetAttributes(attribute.Int("images.failed", failed))
		if failed > 0 {
			imgSpan.SetStatus(codes.Error, fmt.Sprintf("%d of %d images failed", failed, len(res.Images)))
		}
		imgSpan.End()
	}
	if err := ctx.Err(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	res.Duration = time.Since(start)
	opts.Metrics.AddFile()
	common.Logger().Sugar().Debugw("processed transaction",
		"sha256", res.SHA256,
		"tot", res.Validation.TransactionType,
		"valid", res.Validation.IsValid,
		"images", len(res.Images),
		"elapsed", res.Duration,
	)
	return res, nil
}

// ProcessFile reads path and runs Process over its contents.
func ProcessFile(ctx context.Context, path string, opts Options) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	res, err := Process(ctx, data, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return res, nil
}
