package fetcher

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rustyeddy/papertrader/market"
)

// CSVRow is one parsed row of a quote file. Event and Args are set only
// when the row carries a scripted event.
type CSVRow struct {
	Quote market.Quote
	Event string
	Args  []string
}

// CSVFeed reads rows of the form
//
//	time,symbol,price[,event,arg1,arg2,...]
//
// A header row starting with "time" is skipped. Time is RFC3339 or unix
// seconds. Rows outside [from, to) are skipped when those bounds are set.
type CSVFeed struct {
	r    *csv.Reader
	c    io.Closer
	from time.Time
	to   time.Time
	line int
}

func NewCSVFeed(r io.Reader, from, to time.Time) *CSVFeed {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.Comment = '#'
	return &CSVFeed{r: cr, from: from, to: to}
}

// OpenCSVFeed opens path for reading. Close the feed when done.
func OpenCSVFeed(path string, from, to time.Time) (*CSVFeed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	feed := NewCSVFeed(f, from, to)
	feed.c = f
	return feed, nil
}

func (f *CSVFeed) Close() error {
	if f.c != nil {
		return f.c.Close()
	}
	return nil
}

// Next returns the next row; ok is false at end of input.
func (f *CSVFeed) Next() (row CSVRow, ok bool, err error) {
	for {
		rec, err := f.r.Read()
		if err == io.EOF {
			return CSVRow{}, false, nil
		}
		if err != nil {
			return CSVRow{}, false, err
		}
		f.line++
		if len(rec) == 0 || (len(rec) == 1 && strings.TrimSpace(rec[0]) == "") {
			continue
		}
		if f.line == 1 && strings.EqualFold(strings.TrimSpace(rec[0]), "time") {
			continue
		}

		row, err := parseCSVRow(rec)
		if err != nil {
			return CSVRow{}, false, fmt.Errorf("row %d: %w", f.line, err)
		}
		if !inRange(row.Quote.Time, f.from, f.to) {
			continue
		}
		return row, true, nil
	}
}

func parseCSVRow(rec []string) (CSVRow, error) {
	if len(rec) < 3 {
		return CSVRow{}, fmt.Errorf("need time,symbol,price: %v", rec)
	}
	t, err := ParseTime(rec[0])
	if err != nil {
		return CSVRow{}, err
	}
	sym := market.NormalizeSymbol(rec[1])
	if err := market.ValidateSymbol(sym); err != nil {
		return CSVRow{}, err
	}
	price, err := decimal.NewFromString(strings.TrimSpace(rec[2]))
	if err != nil {
		return CSVRow{}, fmt.Errorf("bad price %q: %w", rec[2], err)
	}
	if !price.IsPositive() {
		return CSVRow{}, fmt.Errorf("price must be positive, got %s", price)
	}

	row := CSVRow{Quote: market.Quote{Symbol: sym, Price: price, Time: t, Source: "csv"}}
	if len(rec) >= 4 {
		row.Event = strings.ToUpper(strings.TrimSpace(rec[3]))
	}
	for _, a := range rec[min(len(rec), 4):] {
		row.Args = append(row.Args, strings.TrimSpace(a))
	}
	return row, nil
}

// ParseTime accepts RFC3339 (with or without fractional seconds) or unix
// seconds.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(n, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("bad time %q", s)
}

func inRange(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && !t.Before(to) {
		return false
	}
	return true
}

// CSVReplay is a Fetcher that plays a quote file. With Pace set, rows are
// delayed by their time gaps divided by Speed. With Restamp set, quotes
// carry the time they are emitted so a wall-clock engine treats them as
// fresh.
type CSVReplay struct {
	Path    string
	Pace    bool
	Speed   float64
	Restamp bool
	From    time.Time
	To      time.Time

	Logger *zap.Logger
}

// Subscribe streams rows for symbols, or for every symbol when symbols is
// empty. Event columns are ignored.
func (c CSVReplay) Subscribe(ctx context.Context, symbols []string) (<-chan market.Quote, error) {
	var want map[string]bool
	if len(symbols) > 0 {
		syms, err := normalizeSymbols(symbols)
		if err != nil {
			return nil, err
		}
		want = make(map[string]bool, len(syms))
		for _, s := range syms {
			want[s] = true
		}
	}
	feed, err := OpenCSVFeed(c.Path, c.From, c.To)
	if err != nil {
		return nil, err
	}

	log := c.Logger
	if log == nil {
		log = zap.NewNop()
	}
	speed := c.Speed
	if speed <= 0 {
		speed = 1
	}

	out := make(chan market.Quote)
	go func() {
		defer close(out)
		defer feed.Close()

		var prev, stamp time.Time
		for {
			row, ok, err := feed.Next()
			if err != nil {
				log.Error("quote file stopped", zap.String("path", c.Path), zap.Error(err))
				return
			}
			if !ok {
				return
			}
			if want != nil && !want[row.Quote.Symbol] {
				continue
			}
			if c.Pace && !prev.IsZero() {
				if gap := row.Quote.Time.Sub(prev); gap > 0 {
					if sleep(ctx, time.Duration(float64(gap)/speed)) != nil {
						return
					}
				}
			}
			prev = row.Quote.Time
			if c.Restamp {
				now := time.Now().UTC()
				if !now.After(stamp) {
					now = stamp.Add(time.Nanosecond)
				}
				stamp = now
				row.Quote.Time = now
			}

			select {
			case out <- row.Quote:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
