package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/fxamacker/cbor/v2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/23skdu/longbow-truncf/internal/compare"
	"github.com/23skdu/longbow-truncf/internal/report"
)

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker open")

// RangeTicket is the DoGet ticket payload naming a comparison range.
type RangeTicket struct {
	Start int64 `cbor:"start"`
	End   int64 `cbor:"end"`
}

// EncodeTicket serializes a RangeTicket for a flight.Ticket.
func EncodeTicket(t RangeTicket) ([]byte, error) {
	return cbor.Marshal(t)
}

// DecodeTicket parses and validates a ticket produced by EncodeTicket.
func DecodeTicket(b []byte) (RangeTicket, error) {
	var t RangeTicket
	if err := cbor.Unmarshal(b, &t); err != nil {
		return RangeTicket{}, fmt.Errorf("bad ticket: %w", err)
	}
	if err := compare.ValidateRange(t.Start, t.End); err != nil {
		return RangeTicket{}, err
	}
	return t, nil
}

// FlightClient handles communication with a Flight server.
type FlightClient struct {
	client  flight.Client
	conn    *grpc.ClientConn
	breaker *CircuitBreaker
	alloc   memory.Allocator
}

// NewFlightClient creates a new Flight client connected to the given address.
// Calls fail fast with ErrCircuitOpen after 5 consecutive failures, for 30s.
func NewFlightClient(addr string) (*FlightClient, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}

	client := flight.NewClientFromConn(conn, nil)
	return &FlightClient{
		client:  client,
		conn:    conn,
		breaker: NewCircuitBreaker(5, 30*time.Second),
		alloc:   memory.NewGoAllocator(),
	}, nil
}

// Breaker exposes the client's circuit breaker.
func (c *FlightClient) Breaker() *CircuitBreaker {
	return c.breaker
}

func (c *FlightClient) guard(fn func() error) error {
	if !c.breaker.Allow() {
		return ErrCircuitOpen
	}
	if err := fn(); err != nil {
		c.breaker.Failure()
		return err
	}
	c.breaker.Success()
	return nil
}

// DoPut sends a RecordBatch to the given dataset on the server.
func (c *FlightClient) DoPut(ctx context.Context, datasetName string, record arrow.RecordBatch) error {
	return c.guard(func() error {
		desc := &flight.FlightDescriptor{
			Type: flight.DescriptorPATH,
			Path: []string{datasetName},
		}

		stream, err := c.client.DoPut(ctx)
		if err != nil {
			return err
		}

		writer := flight.NewRecordWriter(stream, ipc.WithSchema(record.Schema()))
		writer.SetFlightDescriptor(desc)

		if err := writer.Write(record); err != nil {
			_ = writer.Close()
			return err
		}
		if err := writer.Close(); err != nil {
			return err
		}
		if err := stream.CloseSend(); err != nil {
			return err
		}
		// Drain the server's acknowledgement.
		for {
			if _, err := stream.Recv(); err != nil {
				if errors.Is(err, io.EOF) {
					return nil
				}
				return err
			}
		}
	})
}

// FetchRange asks the server to compare [start, end) and returns the rows.
func (c *FlightClient) FetchRange(ctx context.Context, start, end int64) ([]compare.Row, error) {
	ticket, err := EncodeTicket(RangeTicket{Start: start, End: end})
	if err != nil {
		return nil, err
	}

	var rows []compare.Row
	err = c.guard(func() error {
		stream, err := c.client.DoGet(ctx, &flight.Ticket{Ticket: ticket})
		if err != nil {
			return err
		}

		reader, err := flight.NewRecordReader(stream, ipc.WithAllocator(c.alloc))
		if err != nil {
			return err
		}
		defer reader.Release()

		for reader.Next() {
			batch, err := report.Rows(reader.Record())
			if err != nil {
				return err
			}
			rows = append(rows, batch...)
		}
		if err := reader.Err(); err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Close closes the client connection.
func (c *FlightClient) Close() error {
	return c.conn.Close()
}
