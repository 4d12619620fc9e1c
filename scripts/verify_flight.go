//go:build ignore

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/23skdu/longbow-truncf/internal/client"
	"github.com/23skdu/longbow-truncf/internal/compare"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Fetches the boundary around 2^24 from a running truncf Flight server and
// checks every row against a local conversion.
func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	addr := "localhost:9090"
	if len(os.Args) > 1 {
		addr = os.Args[1]
	}

	log.Info().Str("addr", addr).Msg("Connecting to truncf Flight Server")

	c, err := client.NewFlightClient(addr)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create client")
	}
	defer c.Close()

	const start, end = 1<<24 - 64, 1<<24 + 64

	var rows []compare.Row
	for i := 0; i < 10; i++ {
		rows, err = c.FetchRange(context.Background(), start, end)
		if err == nil {
			break
		}
		log.Warn().Err(err).Msg("Fetch failed, retrying...")
		time.Sleep(1 * time.Second)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to fetch after retries")
	}

	if len(rows) != end-start {
		log.Fatal().Int("expected", end-start).Int("got", len(rows)).Msg("Count mismatch")
	}

	divergent := 0
	for i, r := range rows {
		want := compare.Evaluate(int32(start + i))
		if r != want {
			log.Fatal().Int32("input", want.Input).Stringer("got", r.Truncated).Stringer("want", want.Truncated).Msg("Row mismatch")
		}
		if r.Diverges() {
			divergent++
		}
	}
	log.Info().Int("rows", len(rows)).Int("divergent", divergent).Msg("Rows valid")

	fmt.Println("VERIFICATION PASSED")
}
