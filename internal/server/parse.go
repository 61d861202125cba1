package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/bentedesco/eft-fingerprint-viewer/internal/an2k"
	"github.com/bentedesco/eft-fingerprint-viewer/internal/common"
	"github.com/bentedesco/eft-fingerprint-viewer/internal/images"
	"github.com/bentedesco/eft-fingerprint-viewer/internal/metadata"
	"github.com/bentedesco/eft-fingerprint-viewer/internal/pipeline"
	"github.com/bentedesco/eft-fingerprint-viewer/internal/report"
	"github.com/bentedesco/eft-fingerprint-viewer/internal/rules"
)

const (
	defaultUploadName = "uploaded.eft"
	rawValueLimit     = 200
)

type rawField struct {
	Indices string `json:"indices"`
	Tag     string `json:"tag"`
	Value   string `json:"value"`
}

type parseMetadata struct {
	Transaction        metadata.Transaction         `json:"transaction"`
	Demographics       metadata.Demographics        `json:"demographics"`
	FingerprintRecords []metadata.FingerprintRecord `json:"fingerprint_records"`
	Validation         rules.Report                 `json:"validation"`
	Compression        string                       `json:"compression,omitempty"`
	RawFields          []rawField                   `json:"raw_fields"`
}

type fingerprintImage struct {
	Name     string `json:"name"`
	Format   string `json:"format"`
	Position *int   `json:"position,omitempty"`
	Data     string `json:"data,omitempty"`
	Error    string `json:"error,omitempty"`
}

type parseResponse struct {
	Filename     string             `json:"filename"`
	Metadata     parseMetadata      `json:"metadata"`
	Fingerprints []fingerprintImage `json:"fingerprints"`
	Artifacts    []ArtifactRef      `json:"artifacts"`
}

type parseFailure struct {
	Filename string `json:"filename"`
	Error    string `json:"error"`
	Offset   *int64 `json:"offset,omitempty"`
}

func (s *Server) handleParse(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	name, data, err := readUpload(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.process(r.Context(), data)
	if err != nil {
		status, failure := s.failure(name, err)
		writeJSON(w, status, failure)
		return
	}
	resp := parseResponse{
		Filename:     name,
		Metadata:     presentMetadata(res),
		Fingerprints: presentImages(res),
		Artifacts:    s.reportArtifacts(name, res),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) process(ctx context.Context, data []byte) (*pipeline.Result, error) {
	res, err := pipeline.Process(ctx, data, s.pipelineOptions())
	if err != nil {
		if errors.Is(err, an2k.ErrFormat) {
			s.metrics.formatErrors.Inc()
		}
		return nil, err
	}
	s.metrics.observe(res)
	return res, nil
}

func (s *Server) failure(name string, err error) (int, parseFailure) {
	f := parseFailure{Filename: name, Error: err.Error()}
	var fe *an2k.FormatError
	switch {
	case errors.As(err, &fe):
		f.Offset = &fe.Offset
		return http.StatusUnprocessableEntity, f
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, f
	default:
		common.Warnf("parse %s: %v", name, err)
		return http.StatusInternalServerError, f
	}
}

// readUpload accepts either a multipart form with a "file" part or the raw
// transaction as the request body.
func readUpload(r *http.Request) (string, []byte, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return "", nil, fmt.Errorf("read body: %w", err)
		}
		if len(data) == 0 {
			return "", nil, errors.New("no file uploaded")
		}
		name := defaultUploadName
		if q := strings.TrimSpace(r.URL.Query().Get("filename")); q != "" {
			name = filepath.Base(q)
		}
		return name, data, nil
	}
	f, fh, err := r.FormFile("file")
	if err != nil {
		return "", nil, errors.New("no file uploaded")
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return "", nil, fmt.Errorf("read upload: %w", err)
	}
	name := filepath.Base(fh.Filename)
	if name == "" || name == "." {
		name = defaultUploadName
	}
	return name, data, nil
}

func presentMetadata(res *pipeline.Result) parseMetadata {
	md := parseMetadata{
		Transaction:        res.Metadata.Transaction,
		Demographics:       res.Metadata.Demographics,
		FingerprintRecords: res.Metadata.Fingerprints,
		Validation:         res.Validation,
		Compression:        res.Metadata.Compression,
		RawFields:          make([]rawField, 0, len(res.Fields)),
	}
	if md.FingerprintRecords == nil {
		md.FingerprintRecords = []metadata.FingerprintRecord{}
	}
	for _, f := range res.Fields {
		md.RawFields = append(md.RawFields, rawField{
			Indices: f.IndexString(),
			Tag:     f.Tag(),
			Value:   f.Display(rawValueLimit),
		})
	}
	return md
}

// presentImages renders decoded images as PNG data URLs. JPEG payloads that
// failed to decode in process are still handed to the browser verbatim.
func presentImages(res *pipeline.Result) []fingerprintImage {
	out := make([]fingerprintImage, 0, len(res.Images))
	for i, img := range res.Images {
		fp := fingerprintImage{Name: img.Name(), Format: img.Format.Label()}
		if img.Position >= 0 {
			pos := img.Position
			fp.Position = &pos
		}
		var decoded images.Decoded
		if i < len(res.Decoded) {
			decoded = res.Decoded[i]
		}
		switch {
		case decoded.Image != nil:
			png, err := images.EncodePNG(decoded.Image)
			if err != nil {
				fp.Error = err.Error()
				break
			}
			fp.Data = images.DataURL("image/png", png)
		case img.Format == images.JPEG:
			fp.Data = images.DataURL("image/jpeg", img.Data)
		case decoded.Err != nil:
			fp.Error = decoded.Err.Error()
		default:
			fp.Error = images.ErrUnsupported.Error()
		}
		out = append(out, fp)
	}
	return out
}

// reportArtifacts stores the JSON and PDF validation reports for download.
// Failures are logged and leave the artifact out of the response.
func (s *Server) reportArtifacts(name string, res *pipeline.Result) []ArtifactRef {
	doc := report.FromResult(name, res)
	base := strings.TrimSuffix(name, filepath.Ext(name))
	refs := []ArtifactRef{}

	var jsonBuf bytes.Buffer
	if err := report.WriteJSON(&jsonBuf, doc); err != nil {
		common.Warnf("render json report for %s: %v", name, err)
	} else if art, err := s.addArtifact(jsonBuf.Bytes(), base+"-report.json", "report"); err != nil {
		common.Warnf("store json report for %s: %v", name, err)
	} else {
		refs = append(refs, toRef(art))
	}

	var pdfBuf bytes.Buffer
	if err := report.WritePDF(&pdfBuf, doc); err != nil {
		common.Warnf("render pdf report for %s: %v", name, err)
	} else if art, err := s.addArtifact(pdfBuf.Bytes(), base+"-report.pdf", "report"); err != nil {
		common.Warnf("store pdf report for %s: %v", name, err)
	} else {
		refs = append(refs, toRef(art))
	}
	return refs
}

type batchItem struct {
	Filename        string  `json:"filename"`
	SHA256          string  `json:"sha256,omitempty"`
	TransactionType string  `json:"transaction_type,omitempty"`
	IsValid         bool    `json:"is_valid"`
	MatchType       *string `json:"match_type,omitempty"`
	Images          int     `json:"images"`
	ImageFailures   int     `json:"image_failures"`
	Error           string  `json:"error,omitempty"`
}

type batchSummary struct {
	Done    bool `json:"done"`
	Files   int  `json:"files"`
	Valid   int  `json:"valid"`
	Invalid int  `json:"invalid"`
	Failed  int  `json:"failed"`
}

// handleBatch validates every uploaded file and streams one NDJSON line per
// file as it completes, followed by a summary line.
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("parse multipart: %v", err))
		return
	}
	defer r.MultipartForm.RemoveAll()
	files := r.MultipartForm.File["file"]
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, "no files uploaded")
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	out := NewNDJSONWriter(w)
	items := make([]batchItem, len(files))
	g, ctx := errgroup.WithContext(r.Context())
	g.SetLimit(s.opts.Concurrency)
	for i, fh := range files {
		g.Go(func() error {
			item := batchItem{Filename: filepath.Base(fh.Filename)}
			defer func() { items[i] = item }()
			f, err := fh.Open()
			if err != nil {
				item.Error = err.Error()
				return out.WriteObject(item)
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				item.Error = err.Error()
				return out.WriteObject(item)
			}
			res, err := s.process(ctx, data)
			if err != nil {
				item.Error = err.Error()
				return out.WriteObject(item)
			}
			item.SHA256 = res.SHA256
			item.TransactionType = res.Validation.TransactionType
			item.IsValid = res.Validation.IsValid
			item.MatchType = res.Validation.MatchType
			item.Images = len(res.Images)
			item.ImageFailures = res.DecodeFailures()
			return out.WriteObject(item)
		})
	}
	if err := g.Wait(); err != nil {
		common.Warnf("batch stream aborted: %v", err)
		return
	}
	sum := batchSummary{Done: true, Files: len(items)}
	for _, it := range items {
		switch {
		case it.Error != "":
			sum.Failed++
		case it.IsValid:
			sum.Valid++
		default:
			sum.Invalid++
		}
	}
	out.WriteObject(sum)
}

type healthResponse struct {
	Status string          `json:"status"`
	Codecs map[string]bool `json:"codecs"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status: "ok",
		Codecs: map[string]bool{
			"jpeg2000": images.Supports(s.opts.Codec, images.JPEG2000),
			"wsq":      images.Supports(s.opts.Codec, images.WSQ),
			"jpeg":     images.Supports(s.opts.Codec, images.JPEG),
		},
	})
}

func (s *Server) handlePolicies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.Engine.Table())
}
