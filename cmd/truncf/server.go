package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/fxamacker/cbor/v2"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/semaphore"

	"github.com/23skdu/longbow-truncf/internal/cache"
	"github.com/23skdu/longbow-truncf/internal/compare"
	"github.com/23skdu/longbow-truncf/internal/config"
	"github.com/23skdu/longbow-truncf/internal/render"
	"github.com/23skdu/longbow-truncf/internal/report"
)

var (
	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "truncf_request_duration_seconds",
		Help:    "Time spent serving comparison requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"handler"})

	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "truncf_response_cache_hits_total",
		Help: "Responses served from the response cache",
	})
)

const (
	contentTypeCBOR  = "application/cbor"
	contentTypeArrow = "application/vnd.apache.arrow.stream"
	contentTypeText  = "text/plain; charset=utf-8"
)

var errTooManyRows = errors.New("range exceeds max rows")

type Server struct {
	cmp    *compare.Comparator
	cache  cache.ResponseCache
	sem    *semaphore.Weighted
	maxSem int64
	alloc  memory.Allocator
	cfg    config.Config
}

func NewServer(cfg config.Config, cmp *compare.Comparator) *Server {
	return &Server{
		cmp:    cmp,
		cache:  cache.NewMapCache(cfg.CacheEntries),
		sem:    semaphore.NewWeighted(cfg.MaxConcurrent),
		maxSem: cfg.MaxConcurrent,
		alloc:  memory.NewGoAllocator(),
		cfg:    cfg,
	}
}

// Router wires every endpoint.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/compare", s.handleCompare).Methods(http.MethodGet)
	r.HandleFunc("/compare/arrow", s.handleCompareArrow).Methods(http.MethodGet)
	r.HandleFunc("/compare/text", s.handleCompareText).Methods(http.MethodGet)
	r.HandleFunc("/summary", s.handleSummary).Methods(http.MethodGet)
	r.HandleFunc("/divergence", s.handleDivergence).Methods(http.MethodGet)
	return r
}

func startServer(cfg config.Config, cmp *compare.Comparator) {
	srv := NewServer(cfg, cmp)

	log.Info().Str("addr", cfg.Listen).Int64("max_rows", cfg.MaxRows).Msg("Starting truncf HTTP server")
	if err := http.ListenAndServe(cfg.Listen, srv.Router()); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

var tracer = otel.Tracer("truncf-server")

// parseRange reads start/end query parameters, defaulting to the configured
// range.
func (s *Server) parseRange(r *http.Request) (int64, int64, error) {
	start, end := s.cfg.Start, s.cfg.End
	q := r.URL.Query()
	if v := q.Get("start"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("%w: start: %v", compare.ErrInvalidRange, err)
		}
		start = n
	}
	if v := q.Get("end"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("%w: end: %v", compare.ErrInvalidRange, err)
		}
		end = n
	}
	if err := compare.ValidateRange(start, end); err != nil {
		return 0, 0, err
	}
	if end-start > s.cfg.MaxRows {
		return 0, 0, fmt.Errorf("%w: %d > %d", errTooManyRows, end-start, s.cfg.MaxRows)
	}
	return start, end, nil
}

type renderFunc func(ctx context.Context, start, end int64, w io.Writer) error

// serve handles the shared request path: range parsing, caching, admission
// control, tracing and metrics.
func (s *Server) serve(w http.ResponseWriter, r *http.Request, name, contentType string, fn renderFunc) {
	ctx, span := tracer.Start(r.Context(), name)
	defer span.End()

	t0 := time.Now()
	defer func() {
		requestDuration.WithLabelValues(name).Observe(time.Since(t0).Seconds())
	}()

	start, end, err := s.parseRange(r)
	if err != nil {
		span.RecordError(err)
		status := http.StatusBadRequest
		if errors.Is(err, errTooManyRows) {
			status = http.StatusRequestEntityTooLarge
		}
		http.Error(w, fmt.Sprintf("Bad Request: %v", err), status)
		return
	}
	span.SetAttributes(
		attribute.Int64("range.start", start),
		attribute.Int64("range.end", end),
	)

	key := cache.Key(name, start, end)
	if body, ok := s.cache.Get(key); ok {
		cacheHits.Inc()
		span.SetAttributes(attribute.Bool("cache.hit", true))
		w.Header().Set("Content-Type", contentType)
		_, _ = w.Write(body)
		return
	}

	// Admission Control
	weight := end - start
	if weight > s.maxSem {
		weight = s.maxSem
	}
	if weight < 1 {
		weight = 1
	}
	if err := s.sem.Acquire(ctx, weight); err != nil {
		log.Error().Err(err).Msg("Failed to acquire semaphore")
		http.Error(w, "Server busy", http.StatusServiceUnavailable)
		return
	}
	defer s.sem.Release(weight)

	var buf bytes.Buffer
	if err := fn(ctx, start, end, &buf); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error().Err(err).Str("handler", name).Msg("Failed to render comparison")
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	// A cancelled stream ends early without an error chunk; never cache it.
	if err := ctx.Err(); err != nil {
		log.Warn().Err(err).Str("handler", name).Msg("Request cancelled")
		return
	}

	body := buf.Bytes()
	s.cache.Put(key, body)
	w.Header().Set("Content-Type", contentType)
	_, _ = w.Write(body)
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, "compare", contentTypeCBOR, func(ctx context.Context, start, end int64, out io.Writer) error {
		rows, err := s.cmp.Collect(ctx, start, end)
		if err != nil {
			return err
		}
		return cbor.NewEncoder(out).Encode(rows)
	})
}

func (s *Server) handleCompareArrow(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, "compare_arrow", contentTypeArrow, func(ctx context.Context, start, end int64, out io.Writer) error {
		builder := report.NewRecordBatchBuilder(s.alloc)
		writer := ipc.NewWriter(out, ipc.WithSchema(report.Schema), ipc.WithAllocator(s.alloc))
		for res := range s.cmp.Compare(ctx, start, end) {
			if res.Err != nil {
				_ = writer.Close()
				return res.Err
			}
			if err := writeBatch(writer, builder, res.Rows); err != nil {
				_ = writer.Close()
				return err
			}
		}
		return writer.Close()
	})
}

func (s *Server) handleCompareText(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, "compare_text", contentTypeText, func(ctx context.Context, start, end int64, out io.Writer) error {
		lines := render.NewLineWriter(out,
			render.WithWidth(s.cfg.Width),
			render.WithPrecision(s.cfg.Precision),
			render.WithLineEnding(s.cfg.LineEnding),
		)
		for res := range s.cmp.Compare(ctx, start, end) {
			if res.Err != nil {
				return res.Err
			}
			if err := lines.WriteRows(res.Rows); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, "summary", contentTypeCBOR, func(ctx context.Context, start, end int64, out io.Writer) error {
		acc := report.NewAccumulator(start, end)
		for res := range s.cmp.Compare(ctx, start, end) {
			if res.Err != nil {
				return res.Err
			}
			acc.Add(res.Rows...)
		}
		return report.EncodeSummary(out, acc.Summary())
	})
}

// divergence is the /divergence response body.
type divergence struct {
	Found bool         `cbor:"found"`
	Row   *compare.Row `cbor:"row,omitempty"`
}

func (s *Server) handleDivergence(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, "divergence", contentTypeCBOR, func(ctx context.Context, start, end int64, out io.Writer) error {
		row, ok, err := s.cmp.FirstDivergence(ctx, start, end)
		if err != nil {
			return err
		}
		body := divergence{Found: ok}
		if ok {
			body.Row = &row
		}
		return cbor.NewEncoder(out).Encode(body)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
