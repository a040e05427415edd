package repository

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"strconv"
	"strings"

	"market-forecast/internal/dto"
	"market-forecast/internal/model"
	"market-forecast/pkg/logger"
	"market-forecast/pkg/utils"

	goValidator "github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

const (
	colDate     = "date"
	colSymbol   = "symbol"
	colOpen     = "open"
	colHigh     = "high"
	colLow      = "low"
	colClose    = "close"
	colAdjClose = "adj_close"
	colVolume   = "volume"
)

// barLayout is one supported CSV header shape. Each field holds the column
// index of that value, -1 when the shape does not carry it.
type barLayout struct {
	name     string
	symbol   int
	date     int
	open     int
	high     int
	low      int
	close    int
	adjClose int
	volume   int
	width    int
}

func newLayout(name string, columns ...string) barLayout {
	l := barLayout{name: name, symbol: -1, adjClose: -1, width: len(columns)}
	for i, c := range columns {
		switch c {
		case colDate:
			l.date = i
		case colSymbol:
			l.symbol = i
		case colOpen:
			l.open = i
		case colHigh:
			l.high = i
		case colLow:
			l.low = i
		case colClose:
			l.close = i
		case colAdjClose:
			l.adjClose = i
		case colVolume:
			l.volume = i
		}
	}
	return l
}

var (
	basicColumns    = []string{colDate, colOpen, colHigh, colLow, colClose, colVolume}
	adjustedColumns = []string{colDate, colOpen, colHigh, colLow, colClose, colAdjClose, colVolume}
)

// barLayouts maps the joined normalized header to its layout.
var barLayouts = func() map[string]barLayout {
	shapes := map[string][]string{
		"basic":                  basicColumns,
		"adjusted":               adjustedColumns,
		"symbol_first":           append([]string{colSymbol}, basicColumns...),
		"symbol_first_adjusted":  append([]string{colSymbol}, adjustedColumns...),
		"symbol_second":          {colDate, colSymbol, colOpen, colHigh, colLow, colClose, colVolume},
		"symbol_second_adjusted": {colDate, colSymbol, colOpen, colHigh, colLow, colClose, colAdjClose, colVolume},
		"symbol_last":            append(append([]string{}, basicColumns...), colSymbol),
		"symbol_last_adjusted":   append(append([]string{}, adjustedColumns...), colSymbol),
	}
	out := make(map[string]barLayout, len(shapes))
	for name, cols := range shapes {
		out[strings.Join(cols, ",")] = newLayout(name, cols...)
	}
	return out
}()

var headerAliases = map[string]string{
	"adj_close":      colAdjClose,
	"adjclose":       colAdjClose,
	"adjusted_close": colAdjClose,
	"adj._close":     colAdjClose,
	"ticker":         colSymbol,
	"name":           colSymbol,
	"timestamp":      colDate,
	"datetime":       colDate,
	"vol":            colVolume,
}

// BarSource reads OHLCV bars from CSV files.
type BarSource interface {
	// Load reads every valid bar in the file at path.
	Load(ctx context.Context, path, defaultSymbol string) ([]model.Bar, error)
	// StreamBatches yields valid bars from r in slices of at most batchSize.
	// The sequence reads lazily and can be consumed once. A header that matches
	// no known layout yields a single dto.ErrFormat error.
	StreamBatches(ctx context.Context, r io.Reader, batchSize int, defaultSymbol string) iter.Seq2[[]model.Bar, error]
	StreamFile(ctx context.Context, path string, batchSize int, defaultSymbol string) iter.Seq2[[]model.Bar, error]
}

type csvBarSource struct {
	log       *logger.Logger
	validator *goValidator.Validate
	batchSize int
}

func NewCSVBarSource(log *logger.Logger, validator *goValidator.Validate, batchSize int) BarSource {
	if batchSize < 1 {
		batchSize = 1000
	}
	return &csvBarSource{
		log:       log,
		validator: validator,
		batchSize: batchSize,
	}
}

func (s *csvBarSource) Load(ctx context.Context, path, defaultSymbol string) ([]model.Bar, error) {
	var bars []model.Bar
	for batch, err := range s.StreamFile(ctx, path, s.batchSize, defaultSymbol) {
		if err != nil {
			return nil, err
		}
		bars = append(bars, batch...)
	}
	return bars, nil
}

func (s *csvBarSource) StreamFile(ctx context.Context, path string, batchSize int, defaultSymbol string) iter.Seq2[[]model.Bar, error] {
	return func(yield func([]model.Bar, error) bool) {
		f, err := os.Open(path)
		if err != nil {
			yield(nil, fmt.Errorf("failed to open %s: %w", path, err))
			return
		}
		defer f.Close()

		for batch, err := range s.StreamBatches(ctx, f, batchSize, defaultSymbol) {
			if !yield(batch, err) {
				return
			}
		}
	}
}

func (s *csvBarSource) StreamBatches(ctx context.Context, r io.Reader, batchSize int, defaultSymbol string) iter.Seq2[[]model.Bar, error] {
	return func(yield func([]model.Bar, error) bool) {
		reader := csv.NewReader(r)
		reader.FieldsPerRecord = -1
		reader.LazyQuotes = true
		reader.TrimLeadingSpace = true

		header, err := reader.Read()
		if errors.Is(err, io.EOF) {
			yield(nil, fmt.Errorf("%w: empty input", dto.ErrFormat))
			return
		}
		if err != nil {
			yield(nil, fmt.Errorf("failed to read header: %w", err))
			return
		}

		layout, err := detectLayout(header)
		if err != nil {
			yield(nil, err)
			return
		}
		defaultSymbol = utils.NormalizeSymbol(defaultSymbol)
		if layout.symbol < 0 && defaultSymbol == "" {
			yield(nil, fmt.Errorf("%w: layout %s has no symbol column and no default symbol was given", dto.ErrFormat, layout.name))
			return
		}

		var (
			readErr        error
			accepted, drop int
		)
		bars := func(yieldBar func(model.Bar) bool) {
			for {
				if err := ctx.Err(); err != nil {
					readErr = err
					return
				}
				record, err := reader.Read()
				if errors.Is(err, io.EOF) {
					return
				}
				if err != nil {
					var parseErr *csv.ParseError
					if errors.As(err, &parseErr) {
						drop++
						continue
					}
					readErr = fmt.Errorf("failed to read csv record: %w", err)
					return
				}

				bar, err := s.parseRecord(layout, record, defaultSymbol)
				if err != nil {
					drop++
					line, _ := reader.FieldPos(0)
					s.log.DebugContext(ctx, "Dropping invalid bar record",
						logger.IntField("line", line),
						logger.ErrorField(err),
					)
					continue
				}
				accepted++
				if !yieldBar(bar) {
					return
				}
			}
		}

		for batch := range utils.Batch(bars, batchSize) {
			if !yield(batch, nil) {
				return
			}
		}
		if readErr != nil {
			yield(nil, readErr)
			return
		}

		s.log.InfoContext(ctx, "Finished reading bars",
			logger.StringField("layout", layout.name),
			logger.IntField("accepted", accepted),
			logger.IntField("dropped", drop),
		)
	}
}

func detectLayout(header []string) (barLayout, error) {
	normalized := make([]string, len(header))
	for i, h := range header {
		normalized[i] = normalizeHeader(h)
	}
	key := strings.Join(normalized, ",")
	layout, ok := barLayouts[key]
	if !ok {
		return barLayout{}, fmt.Errorf("%w: unsupported csv header %q", dto.ErrFormat, strings.Join(header, ","))
	}
	return layout, nil
}

func normalizeHeader(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.NewReplacer(" ", "_", "-", "_").Replace(h)
	if alias, ok := headerAliases[h]; ok {
		return alias
	}
	return h
}

func (s *csvBarSource) parseRecord(layout barLayout, record []string, defaultSymbol string) (model.Bar, error) {
	if len(record) < layout.width {
		return model.Bar{}, fmt.Errorf("expected %d fields, got %d", layout.width, len(record))
	}

	symbol := defaultSymbol
	if layout.symbol >= 0 {
		symbol = utils.NormalizeSymbol(record[layout.symbol])
	}
	date, err := utils.ParseDate(record[layout.date])
	if err != nil {
		return model.Bar{}, err
	}

	var prices [4]decimal.Decimal
	for i, idx := range []int{layout.open, layout.high, layout.low, layout.close} {
		prices[i], err = parseDecimal(record[idx])
		if err != nil {
			return model.Bar{}, err
		}
	}
	adjClose := prices[3]
	if layout.adjClose >= 0 {
		if adjClose, err = parseDecimal(record[layout.adjClose]); err != nil {
			return model.Bar{}, err
		}
	}
	volume, err := parseVolume(record[layout.volume])
	if err != nil {
		return model.Bar{}, err
	}

	bar := model.Bar{
		Symbol:        symbol,
		Date:          date,
		Open:          prices[0],
		High:          prices[1],
		Low:           prices[2],
		Close:         prices[3],
		AdjustedClose: adjClose,
		Volume:        volume,
	}
	if err := s.validator.Struct(bar); err != nil {
		return model.Bar{}, err
	}
	return bar, nil
}

func parseDecimal(value string) (decimal.Decimal, error) {
	value = strings.ReplaceAll(strings.TrimSpace(value), ",", "")
	return decimal.NewFromString(value)
}

// parseVolume accepts integers and decimal strings such as "1200.0".
func parseVolume(value string) (int64, error) {
	value = strings.ReplaceAll(strings.TrimSpace(value), ",", "")
	if value == "" {
		return 0, nil
	}
	if v, err := strconv.ParseInt(value, 10, 64); err == nil {
		return v, nil
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return 0, fmt.Errorf("invalid volume %q", value)
	}
	return d.IntPart(), nil
}
