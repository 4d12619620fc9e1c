package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/pprof"
	"syscall"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"

	"github.com/23skdu/longbow-truncf/internal/client"
	"github.com/23skdu/longbow-truncf/internal/compare"
	"github.com/23skdu/longbow-truncf/internal/config"
	"github.com/23skdu/longbow-truncf/internal/render"
	"github.com/23skdu/longbow-truncf/internal/report"
)

// cliFlags holds the command line, bound to a FlagSet by defineFlags.
type cliFlags struct {
	fs *flag.FlagSet

	configPath *string
	start      *int64
	end        *int64
	format     *string
	out        *string
	width      *int
	precision  *int
	lf         *bool
	workers    *int
	server     *string
	dataset    *string
	listen     *string
	flight     *string
	otel       *bool
	cpuProfile *string
}

func defineFlags(fs *flag.FlagSet) *cliFlags {
	return &cliFlags{
		fs:         fs,
		configPath: fs.String("config", "", "Path to YAML config file"),
		start:      fs.Int64("start", 0, "First integer to convert"),
		end:        fs.Int64("end", 500, "Convert integers below this bound"),
		format:     fs.String("format", config.FormatText, "Output format (text, arrow, summary)"),
		out:        fs.String("out", "", "Write output to this file instead of stdout"),
		width:      fs.Int("width", 7, "Minimum width of each float column"),
		precision:  fs.Int("precision", 4, "Fractional digits of each float column"),
		lf:         fs.Bool("lf", false, "Terminate lines with LF (-lf=false forces CRLF)"),
		workers:    fs.Int("workers", 0, "Concurrent comparison batches (0 = NumCPU, max 16)"),
		server:     fs.String("server", "", "Flight server to upload comparison batches to (e.g. localhost:9090)"),
		dataset:    fs.String("dataset", "truncf", "Target dataset name on the Flight server"),
		listen:     fs.String("listen", "", "Address to listen on for HTTP Server (e.g. :8080)"),
		flight:     fs.String("flight", "", "Address to listen on for Flight Server (e.g. :9090)"),
		otel:       fs.Bool("otel", false, "Enable OpenTelemetry tracing (stdout)"),
		cpuProfile: fs.String("cpuprofile", "", "Write cpu profile to file"),
	}
}

// FlightClientInterface is the upload side of client.FlightClient.
type FlightClientInterface interface {
	DoPut(ctx context.Context, datasetName string, record arrow.RecordBatch) error
	Close() error
}

func main() {
	// Initialize logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()

	flags := defineFlags(flag.CommandLine)
	flag.Parse()

	cfg, err := loadConfig(flags)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	if cfg.OTel {
		shutdown, err := initTracer()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize tracer")
		}
		defer shutdown(context.Background())
	}

	if *flags.cpuProfile != "" {
		f, err := os.Create(*flags.cpuProfile)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create CPU profile file")
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal().Err(err).Msg("Could not start CPU profile")
		}
		defer pprof.StopCPUProfile()
	}

	cmp := compare.NewComparator(cfg.ComparatorOptions()...)

	// Server Mode
	if cfg.Listen != "" {
		go startServer(cfg, cmp)
		if cfg.Flight == "" {
			select {}
		}
	}

	if cfg.Flight != "" {
		StartFlightServer(cfg.Flight, NewTruncfFlightServer(cmp, cfg.MaxRows))
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var fc FlightClientInterface
	if cfg.Server != "" {
		c, err := client.NewFlightClient(cfg.Server)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create flight client")
		}
		defer func() {
			if err := c.Close(); err != nil {
				log.Warn().Err(err).Msg("Failed to close flight client")
			}
		}()
		log.Info().Str("server", cfg.Server).Str("dataset", cfg.Dataset).Msg("Uploading comparison batches")
		fc = c
	}

	var out io.Writer = os.Stdout
	if cfg.Output != "" {
		f, err := os.Create(cfg.Output)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create output file")
		}
		defer f.Close()
		out = f
	}

	start := time.Now()
	summary, err := run(ctx, cfg, cmp, out, fc)
	if err != nil {
		log.Fatal().Err(err).Msg("Comparison failed")
	}

	ev := log.Info().
		Int64("start", summary.Start).
		Int64("end", summary.End).
		Int("count", summary.Count).
		Int("divergent", summary.Divergent).
		Uint32("max_ulp", summary.MaxULP).
		Dur("elapsed", time.Since(start))
	if summary.FirstDivergent != nil {
		ev = ev.Int32("first_divergent", *summary.FirstDivergent)
	}
	ev.Msg("Comparison complete")
}

// loadConfig starts from the YAML file (or defaults) and applies only the
// flags set explicitly on the command line.
func loadConfig(flags *cliFlags) (config.Config, error) {
	cfg := config.Default()
	if *flags.configPath != "" {
		var err error
		if cfg, err = config.Load(*flags.configPath); err != nil {
			return cfg, err
		}
	}

	flags.fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "start":
			cfg.Start = *flags.start
		case "end":
			cfg.End = *flags.end
		case "format":
			cfg.Format = *flags.format
		case "out":
			cfg.Output = *flags.out
		case "width":
			cfg.Width = *flags.width
		case "precision":
			cfg.Precision = *flags.precision
		case "lf":
			cfg.LineEnding = render.DefaultLineEnding
			if *flags.lf {
				cfg.LineEnding = "\n"
			}
		case "workers":
			cfg.Workers = *flags.workers
		case "server":
			cfg.Server = *flags.server
		case "dataset":
			cfg.Dataset = *flags.dataset
		case "listen":
			cfg.Listen = *flags.listen
		case "flight":
			cfg.Flight = *flags.flight
		case "otel":
			cfg.OTel = *flags.otel
		}
	})
	return cfg, cfg.Validate()
}

// run streams the configured range to w in cfg.Format, uploading every
// batch to fc when it is non-nil. It returns the summary of the whole range.
func run(ctx context.Context, cfg config.Config, cmp *compare.Comparator, w io.Writer, fc FlightClientInterface) (report.Summary, error) {
	acc := report.NewAccumulator(cfg.Start, cfg.End)
	builder := report.NewRecordBatchBuilder(memory.NewGoAllocator())

	bw := bufio.NewWriter(w)
	lines := render.NewLineWriter(bw,
		render.WithWidth(cfg.Width),
		render.WithPrecision(cfg.Precision),
		render.WithLineEnding(cfg.LineEnding),
	)

	var arrowWriter *ipc.Writer
	if cfg.Format == config.FormatArrow {
		arrowWriter = ipc.NewWriter(bw, ipc.WithSchema(report.Schema))
	}

	for res := range cmp.Compare(ctx, cfg.Start, cfg.End) {
		if res.Err != nil {
			return acc.Summary(), res.Err
		}
		acc.Add(res.Rows...)

		switch cfg.Format {
		case config.FormatText:
			if err := lines.WriteRows(res.Rows); err != nil {
				return acc.Summary(), err
			}
		case config.FormatArrow:
			if err := writeBatch(arrowWriter, builder, res.Rows); err != nil {
				return acc.Summary(), err
			}
		}

		if fc != nil {
			if err := upload(ctx, fc, cfg.Dataset, builder, res.Rows); err != nil {
				return acc.Summary(), fmt.Errorf("flight upload at offset %d: %w", res.Offset, err)
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return acc.Summary(), err
	}

	summary := acc.Summary()
	switch cfg.Format {
	case config.FormatArrow:
		if err := arrowWriter.Close(); err != nil {
			return summary, err
		}
	case config.FormatSummary:
		if err := report.EncodeSummary(bw, summary); err != nil {
			return summary, err
		}
	}
	return summary, bw.Flush()
}

func writeBatch(w *ipc.Writer, builder *report.RecordBatchBuilder, rows []compare.Row) error {
	rec, err := builder.Build(rows)
	if err != nil || rec == nil {
		return err
	}
	defer rec.Release()
	return w.Write(rec)
}

func upload(ctx context.Context, fc FlightClientInterface, datasetName string, builder *report.RecordBatchBuilder, rows []compare.Row) error {
	rec, err := builder.Build(rows)
	if err != nil || rec == nil {
		return err
	}
	defer rec.Release()

	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()
	return fc.DoPut(ctx, datasetName, rec)
}

func initTracer() (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint(), stdouttrace.WithWriter(os.Stderr))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String("truncf"),
		)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp.Shutdown, nil
}
