package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade-export/internal/domain"
	"trade-export/internal/middleware"
	"trade-export/internal/service/jobs"
)

const secret = "api-test-secret"

type stubExports struct {
	gotIdentity string
	gotSpec     domain.QuerySpec
	result      *jobs.Result
	err         error
	records     map[string]*domain.JobRecord
}

func (s *stubExports) Submit(_ context.Context, identity string, spec domain.QuerySpec) (*jobs.Result, error) {
	s.gotIdentity = identity
	s.gotSpec = spec
	return s.result, s.err
}

func (s *stubExports) Status(_ context.Context, identity, signature string) (*domain.JobRecord, error) {
	rec, ok := s.records[signature]
	if !ok || rec.Identity != identity {
		return nil, domain.ErrNotFound("job %q not found", signature)
	}
	return rec, nil
}

type stubArtifacts struct {
	dir    string
	owners map[string]string
}

func (s *stubArtifacts) Owns(_ context.Context, identity, filename string) (bool, error) {
	return s.owners[filename] == identity, nil
}

func (s *stubArtifacts) Path(filename string) string { return filepath.Join(s.dir, filename) }

func newServer(t *testing.T, exports *stubExports, artifacts *stubArtifacts) http.Handler {
	t.Helper()
	v, err := middleware.NewHS256Validator(secret, "")
	require.NoError(t, err)
	if artifacts == nil {
		artifacts = &stubArtifacts{dir: t.TempDir()}
	}
	return NewRouter(context.Background(), NewHandler(exports, artifacts, nil), RouterConfig{Validator: v})
}

func do(t *testing.T, h http.Handler, method, path, identity string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if identity != "" {
		token, err := middleware.IssueHS256(secret, identity, "", time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestQuery_Success(t *testing.T) {
	t.Parallel()
	exports := &stubExports{result: &jobs.Result{
		Signature: "abc", Filename: "trades_0a1b2c3d_1700000000.csv", Path: "/data/results/trades_0a1b2c3d_1700000000.csv", Cached: true,
	}}
	h := newServer(t, exports, nil)

	rec := do(t, h, http.MethodPost, "/v1/query", "alice", `{
		"exchanges": ["XNAS", "XBOS"],
		"pricelow": 1.5,
		"sizehigh": 100,
		"datelow": "2021-01-01",
		"operations": [{"expression": "PRICE * SIZE"}],
		"sortby": "priceasc",
		"aggregateby": "hr",
		"extra": "ignored"
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode[QueryResponse](t, rec)
	assert.Equal(t, "success", body.Status)
	assert.Equal(t, "trades_0a1b2c3d_1700000000.csv", body.Filename)
	assert.True(t, body.Cached)

	assert.Equal(t, "alice", exports.gotIdentity)
	assert.Equal(t, []string{"XNAS", "XBOS"}, exports.gotSpec.Exchanges)
	require.NotNil(t, exports.gotSpec.PriceLow)
	assert.InDelta(t, 1.5, *exports.gotSpec.PriceLow, 0)
	require.NotNil(t, exports.gotSpec.SizeHigh)
	assert.Equal(t, int64(100), *exports.gotSpec.SizeHigh)
	assert.Equal(t, domain.SortPriceAsc, exports.gotSpec.SortBy)
	assert.Equal(t, domain.GranularityHour, exports.gotSpec.AggregateBy)
	assert.Equal(t, []domain.Operation{{Expression: "PRICE * SIZE"}}, exports.gotSpec.Operations)
}

func TestQuery_ErrorMapping(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		err        error
		wantCode   int
		wantStatus string
		wantMsg    string
	}{
		{"validation", domain.ErrValidation("invalid sortby %q", "x"), http.StatusBadRequest, "error", `invalid sortby "x"`},
		{"execution", domain.ErrExecution("sig", "error generating CSV: boom"), http.StatusInternalServerError, "error", "error generating CSV: boom"},
		{"timeout", domain.ErrTimeout("timed out waiting for job sig"), http.StatusGatewayTimeout, "timeout", "timed out waiting for job sig"},
		{"conflict", domain.ErrConflict("lost race"), http.StatusConflict, "error", "lost race"},
		{"unexpected", assert.AnError, http.StatusInternalServerError, "error", "internal error"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := newServer(t, &stubExports{err: tc.err}, nil)
			rec := do(t, h, http.MethodPost, "/v1/query", "alice", map[string]any{})
			assert.Equal(t, tc.wantCode, rec.Code)
			body := decode[ErrorResponse](t, rec)
			assert.Equal(t, tc.wantStatus, body.Status)
			assert.Equal(t, tc.wantMsg, body.Message)
		})
	}
}

func TestQuery_BadBody(t *testing.T) {
	t.Parallel()
	h := newServer(t, &stubExports{}, nil)
	rec := do(t, h, http.MethodPost, "/v1/query", "alice", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQuery_RequiresToken(t *testing.T) {
	t.Parallel()
	h := newServer(t, &stubExports{}, nil)
	rec := do(t, h, http.MethodPost, "/v1/query", "", map[string]any{})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetJob(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	exports := &stubExports{records: map[string]*domain.JobRecord{
		"abc": {Signature: "abc", Identity: "alice", Status: domain.JobStatusRunning, CreatedAt: now, UpdatedAt: now},
	}}
	h := newServer(t, exports, nil)

	rec := do(t, h, http.MethodGet, "/v1/jobs/abc", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[JobResponse](t, rec)
	assert.Equal(t, "RUNNING", body.Status)

	rec = do(t, h, http.MethodGet, "/v1/jobs/abc", "bob", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDownload(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	name := "trades_0a1b2c3d_1700000000.csv"
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("ticker,exchange\nA,XNAS\n"), 0o644))
	h := newServer(t, &stubExports{}, &stubArtifacts{dir: dir, owners: map[string]string{name: "alice"}})

	rec := do(t, h, http.MethodGet, "/v1/download/"+name, "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "ticker,exchange"))
	assert.FileExists(t, filepath.Join(dir, name), "download keeps the artifact")

	rec = do(t, h, http.MethodGet, "/v1/download/"+name, "bob", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, h, http.MethodGet, "/v1/download/..%2Fsecret.csv", "alice", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	h := newServer(t, &stubExports{}, nil)
	rec := do(t, h, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
