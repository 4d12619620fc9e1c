package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-truncf/internal/client"
	"github.com/23skdu/longbow-truncf/internal/compare"
	"github.com/23skdu/longbow-truncf/internal/config"
	"github.com/23skdu/longbow-truncf/internal/report"
)

type mockFlightClient struct {
	mock.Mock
}

func (m *mockFlightClient) DoPut(ctx context.Context, datasetName string, record arrow.RecordBatch) error {
	args := m.Called(ctx, datasetName, record)
	return args.Error(0)
}

func (m *mockFlightClient) Close() error {
	return nil
}

func newTestServer() *Server {
	cfg := config.Default()
	cfg.MaxRows = 1 << 16
	return NewServer(cfg, compare.NewComparator(compare.WithBatchSize(128)))
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestServer_Full(t *testing.T) {
	srv := newTestServer()
	router := srv.Router()

	t.Run("Health Check", func(t *testing.T) {
		rr := get(t, router, "/health")
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "OK", rr.Body.String())
	})

	t.Run("Compare CBOR", func(t *testing.T) {
		rr := get(t, router, "/compare?start=16777216&end=16777224")
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, contentTypeCBOR, rr.Header().Get("Content-Type"))

		var rows []compare.Row
		require.NoError(t, cbor.Unmarshal(rr.Body.Bytes(), &rows))
		require.Len(t, rows, 8)
		assert.Equal(t, compare.Evaluate(1<<24+3), rows[3])
	})

	t.Run("Compare text uses the configured range", func(t *testing.T) {
		rr := get(t, router, "/compare/text")
		require.Equal(t, http.StatusOK, rr.Code)

		lines := strings.Split(strings.TrimSuffix(rr.Body.String(), "\r\n"), "\r\n")
		require.Len(t, lines, 500)
		assert.Equal(t, "0  0.0000  0.0000", lines[0])
		assert.Equal(t, "499 499.0000 499.0000", lines[499])
	})

	t.Run("Compare Arrow", func(t *testing.T) {
		rr := get(t, router, "/compare/arrow?start=-300&end=300")
		require.Equal(t, http.StatusOK, rr.Code)

		rows, err := report.ReadRows(bytes.NewReader(rr.Body.Bytes()), memory.NewGoAllocator())
		require.NoError(t, err)
		require.Len(t, rows, 600)
		assert.Equal(t, int32(-300), rows[0].Input)
		assert.Equal(t, int32(299), rows[599].Input)
	})

	t.Run("Summary", func(t *testing.T) {
		rr := get(t, router, "/summary?start=16777216&end=16777224")
		require.Equal(t, http.StatusOK, rr.Code)

		s, err := report.DecodeSummary(rr.Body)
		require.NoError(t, err)
		assert.Equal(t, 8, s.Count)
		assert.Equal(t, 2, s.Divergent)
	})

	t.Run("Divergence", func(t *testing.T) {
		rr := get(t, router, "/divergence?start=16777200&end=16777300")
		require.Equal(t, http.StatusOK, rr.Code)

		var body divergence
		require.NoError(t, cbor.Unmarshal(rr.Body.Bytes(), &body))
		require.True(t, body.Found)
		assert.Equal(t, int32(1<<24+3), body.Row.Input)

		rr = get(t, router, "/divergence")
		require.NoError(t, cbor.Unmarshal(rr.Body.Bytes(), &body))
		assert.False(t, body.Found)
	})

	t.Run("Cache", func(t *testing.T) {
		before := srv.cache.Size()
		first := get(t, router, "/compare?start=1&end=9")
		second := get(t, router, "/compare?start=1&end=9")
		assert.Equal(t, first.Body.Bytes(), second.Body.Bytes())
		assert.Equal(t, before+1, srv.cache.Size())
	})

	t.Run("Bad ranges", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, get(t, router, "/compare?start=10&end=0").Code)
		assert.Equal(t, http.StatusBadRequest, get(t, router, "/compare?start=abc").Code)
		assert.Equal(t, http.StatusBadRequest, get(t, router, "/compare?end=2147483649").Code)
		assert.Equal(t, http.StatusRequestEntityTooLarge, get(t, router, "/compare?start=0&end=1000000").Code)
	})

	t.Run("Method not allowed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/compare", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	})
}

func TestFlightServer_DoGet(t *testing.T) {
	server := flight.NewServerWithMiddleware(nil)
	server.RegisterFlightService(NewTruncfFlightServer(compare.NewComparator(compare.WithBatchSize(64)), 1<<16))
	require.NoError(t, server.Init("localhost:0"))
	go func() {
		_ = server.Serve()
	}()
	defer server.Shutdown()

	fc, err := client.NewFlightClient(server.Addr().String())
	require.NoError(t, err)
	defer fc.Close()

	rows, err := fc.FetchRange(context.Background(), 1<<24-100, 1<<24+100)
	require.NoError(t, err)
	require.Len(t, rows, 200)
	for i, r := range rows {
		assert.Equal(t, compare.Evaluate(int32(1<<24-100+i)), r)
	}

	_, err = fc.FetchRange(context.Background(), 0, 1<<20)
	assert.Error(t, err, "range above max rows must be rejected")

	rb, err := report.NewRecordBatchBuilder(memory.NewGoAllocator()).Build(rows)
	require.NoError(t, err)
	defer rb.Release()
	assert.NoError(t, fc.DoPut(context.Background(), "roundtrip", rb))
}

func TestRun(t *testing.T) {
	cmp := compare.NewComparator(compare.WithBatchSize(100))

	t.Run("Text", func(t *testing.T) {
		var out bytes.Buffer
		s, err := run(context.Background(), config.Default(), cmp, &out, nil)
		require.NoError(t, err)
		assert.Equal(t, 500, s.Count)
		assert.Equal(t, 0, s.Divergent)
		assert.True(t, strings.HasPrefix(out.String(), "0  0.0000  0.0000\r\n1  1.0000  1.0000\r\n"))
		assert.Equal(t, 500, strings.Count(out.String(), "\r\n"))
	})

	t.Run("Arrow", func(t *testing.T) {
		cfg := config.Default()
		cfg.Format = config.FormatArrow
		cfg.Start, cfg.End = -250, 250

		var out bytes.Buffer
		_, err := run(context.Background(), cfg, cmp, &out, nil)
		require.NoError(t, err)

		rows, err := report.ReadRows(&out, memory.NewGoAllocator())
		require.NoError(t, err)
		assert.Len(t, rows, 500)
	})

	t.Run("Summary with upload", func(t *testing.T) {
		cfg := config.Default()
		cfg.Format = config.FormatSummary
		cfg.Start, cfg.End = 1<<24, 1<<24+400
		cfg.Dataset = "test-dataset"

		mfc := &mockFlightClient{}
		mfc.On("DoPut", mock.Anything, "test-dataset", mock.Anything).Return(nil)

		var out bytes.Buffer
		s, err := run(context.Background(), cfg, cmp, &out, mfc)
		require.NoError(t, err)
		mfc.AssertNumberOfCalls(t, "DoPut", 4)

		decoded, err := report.DecodeSummary(&out)
		require.NoError(t, err)
		assert.Equal(t, s, decoded)
		assert.Equal(t, 100, decoded.Divergent)
	})

	t.Run("Upload failure", func(t *testing.T) {
		mfc := &mockFlightClient{}
		mfc.On("DoPut", mock.Anything, mock.Anything, mock.Anything).Return(client.ErrCircuitOpen)

		_, err := run(context.Background(), config.Default(), cmp, &bytes.Buffer{}, mfc)
		assert.ErrorIs(t, err, client.ErrCircuitOpen)
	})
}
