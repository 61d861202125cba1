// Package server exposes the transaction pipeline over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/bentedesco/eft-fingerprint-viewer/internal/common"
	"github.com/bentedesco/eft-fingerprint-viewer/internal/pipeline"
)

// Server coordinates HTTP handlers and manages the report artifacts produced
// by parse requests.
type Server struct {
	opts      Options
	artifacts *ArtifactStore
	workDir   string
	metrics   *serverMetrics
	limiter   *ipRateLimiter

	trustedProxies []netip.Prefix
}

// Artifact represents a file generated by the daemon.
type Artifact struct {
	ID          string
	Path        string
	Name        string
	ContentType string
	Size        int64
	Kind        string
	Created     time.Time
}

// ArtifactRef is the public representation returned in API responses.
type ArtifactRef struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	URL         string `json:"url"`
	ContentType string `json:"contentType,omitempty"`
	Size        int64  `json:"size,omitempty"`
	Kind        string `json:"kind,omitempty"`
}

// ArtifactStore keeps track of generated artifacts for later download.
type ArtifactStore struct {
	mu      sync.RWMutex
	entries map[string]Artifact
}

// NewServer constructs a Server rooted at a temporary workspace directory.
func NewServer(opts Options) (*Server, error) {
	opts = opts.withDefaults()
	proxies, err := parseTrustedProxies(opts.TrustedProxies)
	if err != nil {
		return nil, err
	}
	storageDir := opts.StorageDir
	if storageDir == "" {
		storageDir = os.TempDir()
	}
	if err := os.MkdirAll(storageDir, 0o755); err != nil {
		return nil, err
	}
	workDir, err := os.MkdirTemp(storageDir, "eftd-")
	if err != nil {
		return nil, err
	}
	s := &Server{
		opts:      opts,
		artifacts: &ArtifactStore{entries: make(map[string]Artifact)},
		workDir:   workDir,
		metrics:   newServerMetrics(opts.Registry),

		trustedProxies: proxies,
	}
	if opts.RateLimit > 0 {
		s.limiter = newIPRateLimiter(opts.RateLimit, opts.RateBurst)
	}
	return s, nil
}

// Close removes the workspace and every artifact in it.
func (s *Server) Close() error {
	if s == nil || s.workDir == "" {
		return nil
	}
	return os.RemoveAll(s.workDir)
}

func (s *Server) pipelineOptions() pipeline.Options {
	return pipeline.Options{
		Engine: s.opts.Engine,
		Codec:  s.opts.Codec,
		Decode: s.opts.Decode,
	}
}

// addArtifact stores data under the workspace and registers it for download.
func (s *Server) addArtifact(data []byte, displayName, kind string) (Artifact, error) {
	if displayName == "" {
		return Artifact{}, errors.New("empty artifact name")
	}
	s.pruneArtifacts(time.Now())
	id := uuid.NewString()
	path := filepath.Join(s.workDir, id+filepath.Ext(displayName))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return Artifact{}, err
	}
	art := Artifact{
		ID:          id,
		Path:        path,
		Name:        displayName,
		ContentType: guessContentType(displayName),
		Size:        int64(len(data)),
		Kind:        kind,
		Created:     time.Now(),
	}
	s.artifacts.mu.Lock()
	s.artifacts.entries[id] = art
	s.artifacts.mu.Unlock()
	return art, nil
}

func (s *Server) getArtifact(id string) (Artifact, bool) {
	s.pruneArtifacts(time.Now())
	s.artifacts.mu.RLock()
	defer s.artifacts.mu.RUnlock()
	art, ok := s.artifacts.entries[id]
	return art, ok
}

func (s *Server) listArtifacts() []Artifact {
	s.pruneArtifacts(time.Now())
	s.artifacts.mu.RLock()
	defer s.artifacts.mu.RUnlock()
	out := make([]Artifact, 0, len(s.artifacts.entries))
	for _, art := range s.artifacts.entries {
		out = append(out, art)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Created.Before(out[j].Created) })
	return out
}

func (s *Server) pruneArtifacts(now time.Time) {
	s.artifacts.mu.Lock()
	defer s.artifacts.mu.Unlock()
	for id, art := range s.artifacts.entries {
		if now.Sub(art.Created) < s.opts.ArtifactTTL {
			continue
		}
		if err := os.Remove(art.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			common.Warnf("remove artifact %s: %v", art.Path, err)
		}
		delete(s.artifacts.entries, id)
	}
}

func toRef(art Artifact) ArtifactRef {
	return ArtifactRef{
		ID:          art.ID,
		Name:        art.Name,
		URL:         "/artifacts/" + art.ID,
		ContentType: art.ContentType,
		Size:        art.Size,
		Kind:        art.Kind,
	}
}

func (s *Server) handleArtifactDownload(w http.ResponseWriter, r *http.Request) {
	art, ok := s.getArtifact(chi.URLParam(r, "id"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	f, err := os.Open(art.Path)
	if err != nil {
		http.Error(w, fmt.Sprintf("open artifact: %v", err), http.StatusInternalServerError)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		http.Error(w, fmt.Sprintf("stat artifact: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", art.ContentType)
	w.Header().Set("Content-Length", fmt.Sprintf("%d", info.Size()))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", art.Name))
	io.Copy(w, f)
}

func (s *Server) handleArtifactList(w http.ResponseWriter, r *http.Request) {
	arts := s.listArtifacts()
	refs := make([]ArtifactRef, 0, len(arts))
	for _, art := range arts {
		refs = append(refs, toRef(art))
	}
	writeJSON(w, http.StatusOK, struct {
		Artifacts []ArtifactRef `json:"artifacts"`
	}{refs})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func guessContentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		return "application/json"
	case ".ndjson":
		return "application/x-ndjson"
	case ".pdf":
		return "application/pdf"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".yaml", ".yml":
		return "application/yaml"
	default:
		return "application/octet-stream"
	}
}
