package main

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/23skdu/longbow-truncf/internal/client"
	"github.com/23skdu/longbow-truncf/internal/compare"
	"github.com/23skdu/longbow-truncf/internal/report"
)

// TruncfFlightServer serves comparison ranges over Arrow Flight.
type TruncfFlightServer struct {
	flight.BaseFlightServer
	cmp     *compare.Comparator
	alloc   memory.Allocator
	maxRows int64
}

func NewTruncfFlightServer(cmp *compare.Comparator, maxRows int64) *TruncfFlightServer {
	return &TruncfFlightServer{
		cmp:     cmp,
		alloc:   memory.NewGoAllocator(),
		maxRows: maxRows,
	}
}

// DoGet streams the range named by a client.RangeTicket, one record batch
// per comparison chunk.
func (s *TruncfFlightServer) DoGet(tkt *flight.Ticket, stream flight.FlightService_DoGetServer) error {
	rt, err := client.DecodeTicket(tkt.GetTicket())
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	if rt.End-rt.Start > s.maxRows {
		return status.Errorf(codes.OutOfRange, "range of %d rows exceeds %d", rt.End-rt.Start, s.maxRows)
	}

	log.Info().Int64("start", rt.Start).Int64("end", rt.End).Msg("DoGet comparison range")

	writer := flight.NewRecordWriter(stream, ipc.WithSchema(report.Schema), ipc.WithAllocator(s.alloc))
	defer writer.Close()

	builder := report.NewRecordBatchBuilder(s.alloc)
	for res := range s.cmp.Compare(stream.Context(), rt.Start, rt.End) {
		if res.Err != nil {
			return status.FromContextError(res.Err).Err()
		}
		if err := writeBatch(writer.Writer, builder, res.Rows); err != nil {
			return fmt.Errorf("failed to stream batch at offset %d: %w", res.Offset, err)
		}
	}
	return stream.Context().Err()
}

// DoPut accepts comparison batches, e.g. produced on another platform, and
// logs how many of their rows diverge.
func (s *TruncfFlightServer) DoPut(stream flight.FlightService_DoPutServer) error {
	reader, err := flight.NewRecordReader(stream, ipc.WithAllocator(s.alloc))
	if err != nil {
		return err
	}
	defer reader.Release()

	var dataset []string
	for reader.Next() {
		if desc := reader.LatestFlightDescriptor(); desc != nil {
			dataset = desc.GetPath()
		}
		rows, err := report.Rows(reader.Record())
		if err != nil {
			return status.Error(codes.InvalidArgument, err.Error())
		}
		summary := report.Summarize(0, 0, rows)
		log.Info().
			Strs("dataset", dataset).
			Int("rows", summary.Count).
			Int("divergent", summary.Divergent).
			Msg("DoPut received batch")
	}
	return reader.Err()
}

func StartFlightServer(addr string, srv *TruncfFlightServer) {
	// Create the generic Flight Server which manages the GRPC lifecycle
	server := flight.NewFlightServer()

	server.RegisterFlightService(srv)

	// Init handles the listener creation internally
	if err := server.Init(addr); err != nil {
		log.Fatal().Err(err).Msg("Failed to init Flight server")
	}

	log.Info().Str("addr", addr).Msg("Starting truncf Flight Server")
	if err := server.Serve(); err != nil {
		log.Fatal().Err(err).Msg("Flight server failed")
	}
}
