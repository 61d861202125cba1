package server

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bentedesco/eft-fingerprint-viewer/internal/testutil"
)

func newTestServer(t *testing.T, opts Options) (*Server, http.Handler) {
	t.Helper()
	if opts.StorageDir == "" {
		opts.StorageDir = t.TempDir()
	}
	if opts.RateLimit == 0 {
		opts.RateLimit = -1
	}
	s, err := NewServer(opts)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, NewRouter(s)
}

func multipartBody(t *testing.T, files map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, data := range files {
		part, err := mw.CreateFormFile("file", name)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func do(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestParseMultipartFD258(t *testing.T) {
	_, h := newTestServer(t, Options{})
	body, ct := multipartBody(t, map[string][]byte{"card.eft": testutil.FD258()})
	req := httptest.NewRequest(http.MethodPost, "/api/parse", body)
	req.Header.Set("Content-Type", ct)
	rec := do(h, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	assert.ElementsMatch(t, []string{"filename", "metadata", "fingerprints", "artifacts"}, keys(raw))

	var md map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw["metadata"], &md))
	assert.ElementsMatch(t,
		[]string{"transaction", "demographics", "fingerprint_records", "validation", "compression", "raw_fields"},
		keys(md))

	var validation map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(md["validation"], &validation))
	assert.ElementsMatch(t, []string{
		"is_valid", "transaction_type", "fingerprints_present", "fingerprints_missing",
		"demographics_present", "demographics_missing", "match_type", "messages", "warnings",
	}, keys(validation))

	var resp parseResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "card.eft", resp.Filename)
	assert.True(t, resp.Metadata.Validation.IsValid)
	assert.Equal(t, "FAUF", resp.Metadata.Transaction.Type)
	assert.Equal(t, "JPEGB", resp.Metadata.Compression)
	require.Len(t, resp.Fingerprints, len(testutil.FD258Positions))
	for i, fp := range resp.Fingerprints {
		assert.Equal(t, "JPEG", fp.Format)
		assert.True(t, strings.HasPrefix(fp.Data, "data:image/png;base64,"), fp.Name)
		require.NotNil(t, fp.Position)
		assert.Equal(t, testutil.FD258Positions[i], *fp.Position)
	}
	require.Len(t, resp.Artifacts, 2)
	assert.Equal(t, "card-report.json", resp.Artifacts[0].Name)
	assert.Equal(t, "card-report.pdf", resp.Artifacts[1].Name)

	dl := do(h, httptest.NewRequest(http.MethodGet, resp.Artifacts[1].URL, nil))
	require.Equal(t, http.StatusOK, dl.Code)
	assert.Equal(t, "application/pdf", dl.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(dl.Body.Bytes(), []byte("%PDF-")))
	assert.Contains(t, dl.Header().Get("Content-Disposition"), "card-report.pdf")
}

func keys(m map[string]json.RawMessage) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestParseRawBodyTruncatesRawFields(t *testing.T) {
	_, h := newTestServer(t, Options{})
	demo := testutil.DefaultDemographics()
	demo[41] = strings.Repeat("A", 300)
	data := testutil.Sample{TOT: "FAUF", Positions: []int{13, 14, 15}, Demographics: demo}.Build()

	req := httptest.NewRequest(http.MethodPost, "/api/parse?filename=dir/raw.eft", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/octet-stream")
	rec := do(h, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp parseResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "raw.eft", resp.Filename)
	var address, image *rawField
	for i := range resp.Metadata.RawFields {
		f := &resp.Metadata.RawFields[i]
		switch f.Tag {
		case "2.041":
			address = f
		case "14.999":
			if image == nil {
				image = f
			}
		}
	}
	require.NotNil(t, address)
	assert.Len(t, address.Value, 200)
	assert.True(t, strings.HasPrefix(address.Indices, "2."), address.Indices)
	require.NotNil(t, image)
	assert.True(t, strings.HasPrefix(image.Value, "<"))
	assert.Equal(t, "Flat/Slap Impressions Only", *resp.Metadata.Validation.MatchType)
}

func TestParseFormatErrorIs422(t *testing.T) {
	_, h := newTestServer(t, Options{})
	req := httptest.NewRequest(http.MethodPost, "/api/parse", strings.NewReader("not an eft file"))
	rec := do(h, req)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var f parseFailure
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &f))
	assert.Equal(t, defaultUploadName, f.Filename)
	require.NotNil(t, f.Offset)
	assert.Equal(t, int64(0), *f.Offset)
	assert.NotEmpty(t, f.Error)
}

func TestParseWithoutFile(t *testing.T) {
	_, h := newTestServer(t, Options{})
	rec := do(h, httptest.NewRequest(http.MethodPost, "/api/parse", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("other", "x"))
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/api/parse", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec = do(h, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "no file uploaded")
}

func TestParseUndecodableImageReportsError(t *testing.T) {
	_, h := newTestServer(t, Options{})
	data := testutil.Sample{
		TOT:       "FAUF",
		Positions: []int{13, 14},
		Payload: func(pos int) []byte {
			if pos == 14 {
				return testutil.WSQ(8, 8)
			}
			return testutil.JPEG(8, 8)
		},
	}.Build()
	rec := do(h, httptest.NewRequest(http.MethodPost, "/api/parse", bytes.NewReader(data)))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp parseResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Fingerprints, 2)
	assert.NotEmpty(t, resp.Fingerprints[0].Data)
	assert.Equal(t, "WSQ", resp.Fingerprints[1].Format)
	assert.Empty(t, resp.Fingerprints[1].Data)
	assert.NotEmpty(t, resp.Fingerprints[1].Error)
}

func TestHealthReportsCodecs(t *testing.T) {
	_, h := newTestServer(t, Options{})
	rec := do(h, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, map[string]bool{"jpeg2000": false, "wsq": false, "jpeg": true}, resp.Codecs)
}

func TestPolicies(t *testing.T) {
	_, h := newTestServer(t, Options{})
	rec := do(h, httptest.NewRequest(http.MethodGet, "/api/policies", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var table struct {
		Default  string                     `json:"default"`
		Policies map[string]json.RawMessage `json:"policies"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &table))
	assert.Equal(t, "FAUF", table.Default)
	assert.Contains(t, table.Policies, "FAUF")
}

func TestCORSPreflight(t *testing.T) {
	_, h := newTestServer(t, Options{})
	rec := do(h, httptest.NewRequest(http.MethodOptions, "/api/parse", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
}

func TestUploadRateLimit(t *testing.T) {
	_, h := newTestServer(t, Options{RateLimit: 0.001, RateBurst: 1})
	send := func(remote string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/parse", strings.NewReader("x"))
		req.RemoteAddr = remote + ":40000"
		return do(h, req).Code
	}
	assert.Equal(t, http.StatusUnprocessableEntity, send("203.0.113.1"))
	assert.Equal(t, http.StatusTooManyRequests, send("203.0.113.1"))
	assert.Equal(t, http.StatusUnprocessableEntity, send("198.51.100.7"))

	rec := do(h, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUploadRateLimitIgnoresForwardedForFromUntrustedPeer(t *testing.T) {
	_, h := newTestServer(t, Options{RateLimit: 0.001, RateBurst: 1})
	codes := make([]int, 0, 3)
	for _, xff := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		req := httptest.NewRequest(http.MethodPost, "/api/parse", strings.NewReader("x"))
		req.RemoteAddr = "203.0.113.9:5555"
		req.Header.Set("X-Forwarded-For", xff)
		codes = append(codes, do(h, req).Code)
	}
	assert.Equal(t, []int{http.StatusUnprocessableEntity, http.StatusTooManyRequests, http.StatusTooManyRequests}, codes)
}

func TestClientIP(t *testing.T) {
	s, _ := newTestServer(t, Options{TrustedProxies: []string{"10.0.0.0/8", "192.0.2.1"}})
	tests := []struct {
		name   string
		remote string
		xff    string
		want   string
	}{
		{"no proxy", "203.0.113.5:1234", "", "203.0.113.5"},
		{"untrusted peer", "203.0.113.5:1234", "198.51.100.1", "203.0.113.5"},
		{"trusted peer", "10.1.2.3:80", "198.51.100.1", "198.51.100.1"},
		{"spoofed left hop", "10.1.2.3:80", "1.2.3.4, 198.51.100.1", "198.51.100.1"},
		{"chained proxies", "192.0.2.1:80", "198.51.100.1, 10.9.9.9", "198.51.100.1"},
		{"garbage header", "10.1.2.3:80", "nonsense", "10.1.2.3"},
		{"missing header", "10.1.2.3:80", "", "10.1.2.3"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remote
			if tc.xff != "" {
				req.Header.Set("X-Forwarded-For", tc.xff)
			}
			assert.Equal(t, tc.want, s.clientIP(req))
		})
	}
}

func TestRateLimiterEvictsIdleClients(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	rl := newIPRateLimiter(0.001, 1)
	rl.max = 2
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	now = now.Add(time.Minute)
	assert.True(t, rl.Allow("b"))
	assert.False(t, rl.Allow("b"))

	// Table full: "a" is the least recently seen and goes; "b" keeps its
	// exhausted bucket.
	now = now.Add(time.Second)
	assert.True(t, rl.Allow("c"))
	assert.Len(t, rl.limiters, 2)
	assert.Contains(t, rl.limiters, "b")
	assert.False(t, rl.Allow("b"))

	now = now.Add(clientIdleTTL + time.Minute)
	assert.True(t, rl.Allow("d"))
	assert.NotContains(t, rl.limiters, "b")
	assert.NotContains(t, rl.limiters, "c")
}

func TestDecodePoolSharedAcrossRequests(t *testing.T) {
	s, _ := newTestServer(t, Options{})
	require.NotNil(t, s.opts.Decode.Pool)
	assert.Same(t, s.opts.Decode.Pool, s.pipelineOptions().Decode.Pool)
}

func TestBatchStreamsNDJSON(t *testing.T) {
	_, h := newTestServer(t, Options{Concurrency: 2})
	body, ct := multipartBody(t, map[string][]byte{
		"good.eft": testutil.FD258(),
		"bad.eft":  []byte("garbage"),
		"partial.eft": testutil.Sample{
			TOT:          "FAUF",
			Positions:    []int{13, 14},
			Demographics: testutil.DefaultDemographics(),
		}.Build(),
	})
	req := httptest.NewRequest(http.MethodPost, "/api/batch", body)
	req.Header.Set("Content-Type", ct)
	rec := do(h, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))

	var lines []string
	sc := bufio.NewScanner(rec.Body)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.Len(t, lines, 4)

	byName := map[string]batchItem{}
	for _, line := range lines[:3] {
		var it batchItem
		require.NoError(t, json.Unmarshal([]byte(line), &it))
		byName[it.Filename] = it
	}
	assert.True(t, byName["good.eft"].IsValid)
	assert.Equal(t, len(testutil.FD258Positions), byName["good.eft"].Images)
	assert.NotEmpty(t, byName["bad.eft"].Error)
	assert.False(t, byName["partial.eft"].IsValid)
	assert.Empty(t, byName["partial.eft"].Error)

	var sum batchSummary
	require.NoError(t, json.Unmarshal([]byte(lines[3]), &sum))
	assert.Equal(t, batchSummary{Done: true, Files: 3, Valid: 1, Invalid: 1, Failed: 1}, sum)
}

func TestMetricsEndpoint(t *testing.T) {
	_, h := newTestServer(t, Options{})
	do(h, httptest.NewRequest(http.MethodPost, "/api/parse", bytes.NewReader(testutil.FD258())))
	do(h, httptest.NewRequest(http.MethodPost, "/api/parse", strings.NewReader("junk")))

	rec := do(h, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	text := rec.Body.String()
	assert.Contains(t, text, `eftd_files_parsed_total{valid="true"} 1`)
	assert.Contains(t, text, "eftd_format_errors_total 1")
	assert.Contains(t, text, `eftd_images_decoded_total{format="JPEG",outcome="ok"}`)
	assert.Contains(t, text, "eftd_parse_duration_seconds_count 1")
}

func TestArtifactsExpire(t *testing.T) {
	s, h := newTestServer(t, Options{ArtifactTTL: time.Minute})
	art, err := s.addArtifact([]byte(`{}`), "x-report.json", "report")
	require.NoError(t, err)

	rec := do(h, httptest.NewRequest(http.MethodGet, "/artifacts", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), art.ID)

	s.pruneArtifacts(time.Now().Add(2 * time.Minute))
	rec = do(h, httptest.NewRequest(http.MethodGet, "/artifacts/"+art.ID, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNDJSONWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewNDJSONWriter(&buf)
	require.NoError(t, w.WriteObject(map[string]int{"a": 1}))
	require.NoError(t, w.WriteObject([]string{"b"}))
	out, err := io.ReadAll(&buf)
	require.NoError(t, err)
	assert.Equal(t, "{\"a\":1}\n[\"b\"]\n", string(out))

	var nilWriter *NDJSONWriter
	assert.NoError(t, nilWriter.WriteObject(1))
}
