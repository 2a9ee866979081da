package api

import (
	"bytes"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v5"

	"github.com/Vincentjhon31/MangaAutoScroller/internal/report"
	"github.com/Vincentjhon31/MangaAutoScroller/pkg/onnx"
	"github.com/Vincentjhon31/MangaAutoScroller/pkg/quant"
)

func newTestEcho(maxBody int64) *echo.Echo {
	server := NewServer(Config{MaxBody: maxBody, ProducerVersion: "test"})
	e := echo.New()
	server.Register(e)
	return e
}

func modelBytes(t *testing.T) []byte {
	t.Helper()
	w := make([]float32, 32*16)
	for i := range w {
		w[i] = float32(i%13-6) * 0.05
	}
	m := &onnx.Model{
		IRVersion:    7,
		OpsetImports: []onnx.OperatorSetID{{Version: 13}},
		ProducerName: "pytorch",
		Graph: &onnx.Graph{
			Name:         "g",
			Nodes:        []*onnx.Node{{Name: "fc", OpType: "MatMul", Inputs: []string{"x", "w"}, Outputs: []string{"y"}}},
			Initializers: []*onnx.Tensor{onnx.NewFloatTensor("w", []int64{32, 16}, w)},
			Inputs:       []*onnx.ValueInfo{{Name: "x"}},
			Outputs:      []*onnx.ValueInfo{{Name: "y"}},
		},
	}
	data, err := onnx.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func doPost(t *testing.T, e *echo.Echo, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set(echo.HeaderContentType, MIMEONNX)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	t.Parallel()

	e := newTestEcho(0)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d body=%s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestQuantizeEndpoint(t *testing.T) {
	t.Parallel()

	e := newTestEcho(0)
	in := modelBytes(t)
	rec := doPost(t, e, "/v1/quantize?weight_type=int8", in)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d body=%s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != MIMEONNX {
		t.Fatalf("content type: %q", ct)
	}
	if _, err := uuid.Parse(rec.Header().Get(HeaderRunID)); err != nil {
		t.Fatalf("run id: %q", rec.Header().Get(HeaderRunID))
	}

	out := rec.Body.Bytes()
	if got := rec.Header().Get(HeaderInputBytes); got != strconv.Itoa(len(in)) {
		t.Fatalf("input bytes header: %q", got)
	}
	if got := rec.Header().Get(HeaderOutputBytes); got != strconv.Itoa(len(out)) {
		t.Fatalf("output bytes header: %q", got)
	}
	if len(out) >= len(in) {
		t.Fatalf("output not smaller: in=%d out=%d", len(in), len(out))
	}
	pct, err := strconv.ParseFloat(rec.Header().Get(HeaderReductionPercent), 64)
	if err != nil {
		t.Fatalf("reduction header: %v", err)
	}
	if want := report.Reduction(int64(len(in)), int64(len(out))); pct < want-0.01 || pct > want+0.01 {
		t.Fatalf("reduction: got %v want %v", pct, want)
	}
	if rec.Header().Get(HeaderQuantizedNodes) != "1" {
		t.Fatalf("quantized nodes header: %q", rec.Header().Get(HeaderQuantizedNodes))
	}

	m, err := onnx.Unmarshal(out)
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	wq := m.Graph.Initializer("w_quantized")
	if wq == nil || wq.DataType != onnx.DataTypeInt8 {
		t.Fatalf("expected int8 weight, got %+v", wq)
	}
	if m.ProducerVersion != "test" {
		t.Fatalf("producer version: %q", m.ProducerVersion)
	}
}

func TestQuantizeValidation(t *testing.T) {
	t.Parallel()

	e := newTestEcho(0)
	cases := []struct {
		name string
		path string
		body []byte
		code int
		msg  string
	}{
		{"empty body", "/v1/quantize", nil, http.StatusBadRequest, "must contain an ONNX model"},
		{"garbage", "/v1/quantize", []byte("not a model"), http.StatusBadRequest, "invalid_model_error"},
		{"weight type", "/v1/quantize?weight_type=fp4", modelBytes(t), http.StatusBadRequest, "unknown weight type"},
		{"reduce range", "/v1/quantize?reduce_range=maybe", modelBytes(t), http.StatusBadRequest, "invalid boolean"},
		{"op types", "/v1/quantize?op_types=Softmax", modelBytes(t), http.StatusBadRequest, "Softmax"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doPost(t, e, tc.path, tc.body)
			if rec.Code != tc.code {
				t.Fatalf("status: got %d want %d body=%s", rec.Code, tc.code, rec.Body.String())
			}
			if !strings.Contains(rec.Body.String(), tc.msg) {
				t.Fatalf("body %s does not mention %q", rec.Body.String(), tc.msg)
			}
		})
	}
}

func TestQuantizeBodyLimit(t *testing.T) {
	t.Parallel()

	e := newTestEcho(64)
	rec := doPost(t, e, "/v1/quantize", modelBytes(t))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status: got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestQuantizeLargestBodyLimit(t *testing.T) {
	t.Parallel()

	e := newTestEcho(math.MaxInt64)
	rec := doPost(t, e, "/v1/quantize", modelBytes(t))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestInspectEndpoint(t *testing.T) {
	t.Parallel()

	e := newTestEcho(0)
	rec := doPost(t, e, "/v1/inspect", modelBytes(t))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d body=%s", rec.Code, rec.Body.String())
	}
	var s report.Summary
	if err := json.Unmarshal(rec.Body.Bytes(), &s); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if s.Ops["MatMul"] != 1 || len(s.Candidates) != 1 || s.Candidates[0] != "fc" {
		t.Fatalf("summary: %+v", s)
	}

	rec = doPost(t, e, "/v1/inspect?op_types=Gather", modelBytes(t))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"candidates":[]`) {
		t.Fatalf("gather-only inspect should list no candidates: %s", rec.Body.String())
	}
}

func TestDefaultsApply(t *testing.T) {
	t.Parallel()

	server := NewServer(Config{Defaults: quant.Options{WeightType: quant.QInt8}})
	e := echo.New()
	server.Register(e)

	rec := doPost(t, e, "/v1/quantize", modelBytes(t))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d body=%s", rec.Code, rec.Body.String())
	}
	m, err := onnx.Unmarshal(rec.Body.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if wq := m.Graph.Initializer("w_quantized"); wq == nil || wq.DataType != onnx.DataTypeInt8 {
		t.Fatalf("server default weight type not applied: %+v", wq)
	}
}
