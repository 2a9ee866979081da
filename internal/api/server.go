// Package api serves dynamic quantization over HTTP.
package api

import (
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v5"

	"github.com/Vincentjhon31/MangaAutoScroller/internal/logger"
	"github.com/Vincentjhon31/MangaAutoScroller/internal/quantizer"
	"github.com/Vincentjhon31/MangaAutoScroller/internal/report"
	"github.com/Vincentjhon31/MangaAutoScroller/internal/version"
	"github.com/Vincentjhon31/MangaAutoScroller/pkg/onnx"
	"github.com/Vincentjhon31/MangaAutoScroller/pkg/quant"
)

// DefaultMaxBody caps uploaded models.
const DefaultMaxBody int64 = 512 << 20

const (
	HeaderRunID            = "X-Run-Id"
	HeaderInputBytes       = "X-Input-Bytes"
	HeaderOutputBytes      = "X-Output-Bytes"
	HeaderReductionPercent = "X-Reduction-Percent"
	HeaderQuantizedNodes   = "X-Quantized-Nodes"

	MIMEONNX = "application/octet-stream"
)

// Config configures a Server.
type Config struct {
	MaxBody         int64
	ProducerVersion string
	Defaults        quant.Options
	Logger          logger.Logger
}

type Server struct {
	native   *quantizer.Native
	maxBody  int64
	defaults quant.Options
	log      logger.Logger
	clock    func() time.Time
}

func NewServer(cfg Config) *Server {
	if cfg.MaxBody <= 0 {
		cfg.MaxBody = DefaultMaxBody
	}
	// readBody reads one byte past the limit.
	if cfg.MaxBody == math.MaxInt64 {
		cfg.MaxBody = math.MaxInt64 - 1
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Discard()
	}
	return &Server{
		native:   &quantizer.Native{ProducerVersion: cfg.ProducerVersion},
		maxBody:  cfg.MaxBody,
		defaults: cfg.Defaults,
		log:      cfg.Logger,
		clock:    time.Now,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", s.handleHealth)
	e.POST("/v1/quantize", s.handleQuantize)
	e.POST("/v1/inspect", s.handleInspect)
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":  "ok",
		"version": version.String(),
	})
}

func (s *Server) handleQuantize(c *echo.Context) error {
	runID := uuid.NewString()
	started := s.clock()

	opts, err := s.options(c)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	body, err := s.readBody(c)
	if err != nil {
		return s.bodyError(c, err)
	}

	out, stats, err := s.native.QuantizeBytes(body, opts)
	if err != nil {
		if errors.Is(err, onnx.ErrMalformed) || errors.Is(err, onnx.ErrNoGraph) ||
			errors.Is(err, quant.ErrUnsupportedOp) || errors.Is(err, quant.ErrNonFinite) {
			return writeError(c, http.StatusBadRequest, "invalid_model_error", err.Error(), runID)
		}
		s.log.Error("quantization failed", "run_id", runID, "error", err)
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error(), runID)
	}

	reduction := report.Reduction(int64(len(body)), int64(len(out)))
	s.log.Info("quantized model", "run_id", runID, "weight_type", opts.WeightType.String(),
		"input_bytes", len(body), "output_bytes", len(out), "nodes", stats.Quantized(),
		"duration", s.clock().Sub(started))

	h := c.Response().Header()
	h.Set(HeaderRunID, runID)
	h.Set(HeaderInputBytes, strconv.Itoa(len(body)))
	h.Set(HeaderOutputBytes, strconv.Itoa(len(out)))
	h.Set(HeaderReductionPercent, strconv.FormatFloat(reduction, 'f', 2, 64))
	h.Set(HeaderQuantizedNodes, strconv.Itoa(stats.Quantized()))
	return c.Blob(http.StatusOK, MIMEONNX, out)
}

func (s *Server) handleInspect(c *echo.Context) error {
	opts, err := s.options(c)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	body, err := s.readBody(c)
	if err != nil {
		return s.bodyError(c, err)
	}
	m, err := onnx.Unmarshal(body)
	if err != nil {
		return writeError(c, http.StatusBadRequest, "invalid_model_error", err.Error(), "")
	}
	summary, err := report.Summarize(m, opts)
	if err != nil {
		return writeError(c, http.StatusBadRequest, "invalid_model_error", err.Error(), "")
	}
	return c.JSON(http.StatusOK, summary)
}

// options layers query parameters over the server defaults.
func (s *Server) options(c *echo.Context) (quant.Options, error) {
	opts := s.defaults
	if v := c.QueryParam("weight_type"); v != "" {
		t, err := quant.ParseType(v)
		if err != nil {
			return opts, newInvalidRequest(err.Error())
		}
		opts.WeightType = t
	}
	if v := c.QueryParam("reduce_range"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return opts, newInvalidRequest(fmt.Sprintf("reduce_range: invalid boolean %q", v))
		}
		opts.ReduceRange = b
	}
	if v := c.QueryParam("op_types"); v != "" {
		opts.OpTypes = splitList(v)
	}
	if v := c.QueryParam("exclude_nodes"); v != "" {
		opts.NodesToExclude = splitList(v)
	}
	return opts, nil
}

func (s *Server) readBody(c *echo.Context) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, s.maxBody+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > s.maxBody {
		return nil, ErrBodyTooLarge
	}
	if len(body) == 0 {
		return nil, newInvalidRequest("request body must contain an ONNX model")
	}
	return body, nil
}

func (s *Server) bodyError(c *echo.Context, err error) error {
	switch {
	case errors.Is(err, ErrBodyTooLarge):
		return writeError(c, http.StatusRequestEntityTooLarge, "invalid_request_error",
			fmt.Sprintf("%v (limit %d bytes)", err, s.maxBody), "")
	case errors.Is(err, ErrInvalidRequest):
		return writeBadRequest(c, err.Error())
	default:
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error(), "")
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
