package utils

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"simplebot/internal/domain"
)

// WriteBarsToCSV writes bars as time,instrument,granularity,close,volume rows.
func WriteBarsToCSV(bars []domain.Bar, instrument, granularity, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"time", "instrument", "granularity", "close", "volume"}); err != nil {
		return err
	}
	for _, b := range bars {
		if err := writer.Write([]string{
			b.Time.UTC().Format(time.RFC3339),
			instrument,
			granularity,
			strconv.FormatFloat(b.Close, 'f', -1, 64),
			strconv.FormatInt(b.Volume, 10),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// ReadTicksFromCSV loads a tick recording with a time,type,bid,ask header.
// Rows with an empty bid and ask are heartbeats. A missing instrument
// column leaves Tick.Instrument to the caller.
func ReadTicksFromCSV(filename string) ([]domain.Tick, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return ReadTicks(file)
}

// ReadTicks parses the CSV tick format from r.
func ReadTicks(r io.Reader) ([]domain.Tick, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[h] = i
	}
	for _, required := range []string{"time", "bid", "ask"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("missing column %q", required)
		}
	}
	field := func(rec []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return rec[i]
	}

	var ticks []domain.Tick
	for line := 2; ; line++ {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		ts, err := time.Parse(time.RFC3339Nano, field(rec, "time"))
		if err != nil {
			return nil, fmt.Errorf("line %d: time: %w", line, err)
		}
		tick := domain.Tick{Kind: domain.TickPrice, Instrument: field(rec, "instrument"), Time: ts.UTC()}
		bid, ask := field(rec, "bid"), field(rec, "ask")
		if field(rec, "type") == string(domain.TickHeartbeat) || (bid == "" && ask == "") {
			tick.Kind = domain.TickHeartbeat
			ticks = append(ticks, tick)
			continue
		}
		if tick.Bid, err = decimal.NewFromString(bid); err != nil {
			return nil, fmt.Errorf("line %d: bid: %w", line, err)
		}
		if tick.Ask, err = decimal.NewFromString(ask); err != nil {
			return nil, fmt.Errorf("line %d: ask: %w", line, err)
		}
		ticks = append(ticks, tick)
	}
	return ticks, nil
}
