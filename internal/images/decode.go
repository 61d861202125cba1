package images

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/png"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/bentedesco/eft-fingerprint-viewer/internal/common"
)

const (
	defaultDecodeTimeout = 30 * time.Second
	defaultRetryBackoff  = 200 * time.Millisecond
)

// DecodeOptions bounds a DecodeAll run. Zero values select defaults.
type DecodeOptions struct {
	Concurrency  int
	Timeout      time.Duration
	RetryBackoff time.Duration
	// Pool, when set, is shared by every DecodeAll call holding these
	// options and caps the images decoding at once across all of them.
	Pool *semaphore.Weighted
}

// NewPool returns a process-wide decode limit of n images.
func NewPool(n int) *semaphore.Weighted {
	if n <= 0 {
		n = runtime.NumCPU()
	}
	return semaphore.NewWeighted(int64(n))
}

func (o DecodeOptions) withDefaults() DecodeOptions {
	if o.Concurrency <= 0 {
		o.Concurrency = runtime.NumCPU()
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultDecodeTimeout
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = defaultRetryBackoff
	}
	return o
}

// Decoded is the outcome for one image. Exactly one of Image and Err is set.
type Decoded struct {
	Field ImageField
	Image image.Image
	Err   error
}

// DecodeAll decodes fields on a bounded pool and returns one result per
// field in input order. A failing image never affects the others.
func DecodeAll(ctx context.Context, codec Codec, fields []ImageField, opts DecodeOptions) []Decoded {
	opts = opts.withDefaults()
	out := make([]Decoded, len(fields))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for i, f := range fields {
		g.Go(func() error {
			if opts.Pool != nil {
				if err := opts.Pool.Acquire(gctx, 1); err != nil {
					out[i] = Decoded{Field: f, Err: err}
					return nil
				}
				defer opts.Pool.Release(1)
			}
			img, err := decodeWithRetry(gctx, codec, f, opts)
			if err != nil {
				common.Warnf("image %s (%s): %v", f.Name(), f.Format, err)
			}
			out[i] = Decoded{Field: f, Image: img, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func decodeWithRetry(ctx context.Context, codec Codec, f ImageField, opts DecodeOptions) (image.Image, error) {
	img, err := decodeOnce(ctx, codec, f, opts.Timeout)
	if err == nil || !errors.Is(err, ErrTransient) {
		return img, err
	}
	common.Debugf("image %s: retrying after transient failure: %v", f.Name(), err)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(opts.RetryBackoff):
	}
	return decodeOnce(ctx, codec, f, opts.Timeout)
}

type decodeResult struct {
	img image.Image
	err error
}

// decodeOnce runs the codec under a deadline. A codec that ignores its
// context is abandoned when the deadline passes.
func decodeOnce(ctx context.Context, codec Codec, f ImageField, timeout time.Duration) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	done := make(chan decodeResult, 1)
	go func() {
		img, err := codec.Decode(tctx, f.Format, f.Data)
		done <- decodeResult{img: img, err: err}
	}()
	select {
	case res := <-done:
		if res.err == nil && res.img == nil {
			return nil, fmt.Errorf("%w: codec returned no image", ErrCodec)
		}
		if errors.Is(res.err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: %s decode exceeded %s: %w", ErrCodec, f.Format, timeout, res.err)
		}
		return res.img, res.err
	case <-tctx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s decode exceeded %s: %w", ErrCodec, f.Format, timeout, tctx.Err())
	}
}

// EncodePNG renders img as PNG.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// DataURL wraps data in a base64 data URL.
func DataURL(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}
