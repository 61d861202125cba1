package images

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

var (
	// ErrCodec matches every image decode failure.
	ErrCodec = errors.New("images: decode failed")
	// ErrUnsupported marks a format the codec cannot handle.
	ErrUnsupported = fmt.Errorf("%w: unsupported format", ErrCodec)
	// ErrTransient marks failures worth one retry.
	ErrTransient = errors.New("images: transient codec failure")
)

// Codec turns a compressed payload into pixels.
type Codec interface {
	Decode(ctx context.Context, format Format, data []byte) (image.Image, error)
}

// Prober is implemented by codecs that can report format support up front.
type Prober interface {
	Supports(format Format) bool
}

// Supports reports whether c can decode format. Codecs that are not Probers
// are assumed to support everything.
func Supports(c Codec, format Format) bool {
	if p, ok := c.(Prober); ok {
		return p.Supports(format)
	}
	return c != nil
}

// StdCodec decodes baseline JPEG in process.
type StdCodec struct{}

func (StdCodec) Supports(format Format) bool {
	return format == JPEG
}

func (StdCodec) Decode(ctx context.Context, format Format, data []byte) (image.Image, error) {
	if format != JPEG {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, format)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: jpeg: %v", ErrCodec, err)
	}
	return img, nil
}

// ExecCodec decodes JPEG 2000 with opj_decompress and WSQ with the NBIS dwsq
// tool. Each call works in its own temporary directory.
type ExecCodec struct {
	OPJDecompress string
	DWSQ          string
	TempDir       string
}

// NewExecCodec resolves the tools from binDir, falling back to PATH when
// binDir is empty.
func NewExecCodec(binDir string) *ExecCodec {
	c := &ExecCodec{OPJDecompress: "opj_decompress", DWSQ: "dwsq"}
	if binDir != "" {
		c.OPJDecompress = filepath.Join(binDir, "opj_decompress")
		c.DWSQ = filepath.Join(binDir, "dwsq")
	}
	return c
}

func (c *ExecCodec) Supports(format Format) bool {
	switch format {
	case JPEG2000:
		return toolAvailable(c.OPJDecompress)
	case WSQ:
		return toolAvailable(c.DWSQ)
	}
	return false
}

func toolAvailable(path string) bool {
	if path == "" {
		return false
	}
	_, err := exec.LookPath(path)
	return err == nil
}

func (c *ExecCodec) Decode(ctx context.Context, format Format, data []byte) (image.Image, error) {
	switch format {
	case JPEG2000, WSQ:
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, format)
	}
	dir, err := os.MkdirTemp(c.TempDir, "eftimg-")
	if err != nil {
		return nil, fmt.Errorf("%w: %w: temp dir: %v", ErrCodec, ErrTransient, err)
	}
	defer os.RemoveAll(dir)

	if format == JPEG2000 {
		return c.decodeJP2(ctx, dir, data)
	}
	return c.decodeWSQ(ctx, dir, data)
}

func (c *ExecCodec) decodeJP2(ctx context.Context, dir string, data []byte) (image.Image, error) {
	ext := ".jp2"
	if bytes.HasPrefix(data, j2kStream) {
		ext = ".j2k"
	}
	in := filepath.Join(dir, "in"+ext)
	out := filepath.Join(dir, "out.png")
	if err := os.WriteFile(in, data, 0o600); err != nil {
		return nil, fmt.Errorf("%w: %w: %v", ErrCodec, ErrTransient, err)
	}
	if err := run(ctx, c.OPJDecompress, "-i", in, "-o", out); err != nil {
		return nil, err
	}
	f, err := os.Open(out)
	if err != nil {
		return nil, fmt.Errorf("%w: opj_decompress produced no output: %v", ErrCodec, err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: png: %v", ErrCodec, err)
	}
	return img, nil
}

func (c *ExecCodec) decodeWSQ(ctx context.Context, dir string, data []byte) (image.Image, error) {
	w, h, err := WSQDimensions(data)
	if err != nil {
		return nil, err
	}
	in := filepath.Join(dir, "in.wsq")
	if err := os.WriteFile(in, data, 0o600); err != nil {
		return nil, fmt.Errorf("%w: %w: %v", ErrCodec, ErrTransient, err)
	}
	if err := run(ctx, c.DWSQ, "raw", in, "-r"); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(filepath.Join(dir, "in.raw"))
	if err != nil {
		return nil, fmt.Errorf("%w: dwsq produced no output: %v", ErrCodec, err)
	}
	if len(raw) < w*h {
		return nil, fmt.Errorf("%w: dwsq output %d bytes, want %d", ErrCodec, len(raw), w*h)
	}
	img := image.NewGray(image.Rect(0, 0, w, h))
	copy(img.Pix, raw[:w*h])
	return img, nil
}

func run(ctx context.Context, tool string, args ...string) error {
	cmd := exec.CommandContext(ctx, tool, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return fmt.Errorf("%w: %s: %s", ErrCodec, filepath.Base(tool), msg)
	}
	return nil
}

const wsqSOF = 0xFFA2

// WSQDimensions reads the image width and height from the WSQ frame header.
func WSQDimensions(data []byte) (width, height int, err error) {
	if !bytes.HasPrefix(data, wsqMagic) {
		return 0, 0, fmt.Errorf("%w: not a WSQ stream", ErrCodec)
	}
	pos := len(wsqMagic)
	for pos+4 <= len(data) {
		marker := binary.BigEndian.Uint16(data[pos:])
		segLen := int(binary.BigEndian.Uint16(data[pos+2:]))
		if marker == wsqSOF {
			// Lf(2) black(1) white(1) Y(2) X(2) Em(1) M(2) Er(1) R(2) P(1) S(2)
			body := data[pos+2:]
			if len(body) < 8 {
				break
			}
			height = int(binary.BigEndian.Uint16(body[4:]))
			width = int(binary.BigEndian.Uint16(body[6:]))
			if width == 0 || height == 0 {
				return 0, 0, fmt.Errorf("%w: WSQ frame has zero size", ErrCodec)
			}
			return width, height, nil
		}
		if marker>>8 != 0xFF || segLen < 2 {
			break
		}
		pos += 2 + segLen
	}
	return 0, 0, fmt.Errorf("%w: WSQ frame header not found", ErrCodec)
}

// Registry routes each format to its codec.
type Registry struct {
	codecs map[Format]Codec
}

func NewRegistry() *Registry {
	return &Registry{codecs: make(map[Format]Codec)}
}

// DefaultRegistry uses StdCodec for JPEG and ExecCodec for the rest.
func DefaultRegistry(binDir string) *Registry {
	r := NewRegistry()
	r.Register(JPEG, StdCodec{})
	exe := NewExecCodec(binDir)
	r.Register(JPEG2000, exe)
	r.Register(WSQ, exe)
	return r
}

func (r *Registry) Register(format Format, c Codec) {
	r.codecs[format] = c
}

func (r *Registry) Supports(format Format) bool {
	c, ok := r.codecs[format]
	return ok && Supports(c, format)
}

func (r *Registry) Decode(ctx context.Context, format Format, data []byte) (image.Image, error) {
	c, ok := r.codecs[format]
	if !ok {
		return nil, fmt.Errorf("%w: no codec for %s", ErrUnsupported, format)
	}
	return c.Decode(ctx, format, data)
}
