package repository

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"market-forecast/internal/dto"
	"market-forecast/internal/model"
	"market-forecast/pkg/logger"
	"market-forecast/pkg/validation"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSource() BarSource {
	return NewCSVBarSource(logger.NewNop(), validation.New(), 2)
}

func collect(t *testing.T, src BarSource, input string, batchSize int, defaultSymbol string) ([][]model.Bar, error) {
	t.Helper()
	var batches [][]model.Bar
	for batch, err := range src.StreamBatches(context.Background(), strings.NewReader(input), batchSize, defaultSymbol) {
		if err != nil {
			return batches, err
		}
		batches = append(batches, batch)
	}
	return batches, nil
}

func flatten(batches [][]model.Bar) []model.Bar {
	var out []model.Bar
	for _, b := range batches {
		out = append(out, b...)
	}
	return out
}

func TestStreamBatches_Layouts(t *testing.T) {
	tests := []struct {
		name          string
		input         string
		defaultSymbol string
		wantSymbol    string
		wantAdjClose  string
	}{
		{
			name:          "basic with default symbol",
			input:         "Date,Open,High,Low,Close,Volume\n2024-01-02,10,11,9,10.5,100\n",
			defaultSymbol: "aaa",
			wantSymbol:    "AAA",
			wantAdjClose:  "10.5",
		},
		{
			name:          "adjusted close",
			input:         "Date,Open,High,Low,Close,Adj Close,Volume\n2024-01-02,10,11,9,10.5,10.4,100\n",
			defaultSymbol: "AAA",
			wantSymbol:    "AAA",
			wantAdjClose:  "10.4",
		},
		{
			name:         "symbol first",
			input:        "symbol,date,open,high,low,close,volume\nbbb,2024-01-02,10,11,9,10.5,100\n",
			wantSymbol:   "BBB",
			wantAdjClose: "10.5",
		},
		{
			name:         "symbol second adjusted",
			input:        "date,ticker,open,high,low,close,adj_close,volume\n2024-01-02,CCC,10,11,9,10.5,10.2,100\n",
			wantSymbol:   "CCC",
			wantAdjClose: "10.2",
		},
		{
			name:         "symbol last",
			input:        "date,open,high,low,close,volume,Name\n2024-01-02,10,11,9,10.5,100,DDD\n",
			wantSymbol:   "DDD",
			wantAdjClose: "10.5",
		},
		{
			name:          "symbol column wins over default",
			input:         "date,open,high,low,close,adjclose,volume,symbol\n2024-01-02,10,11,9,10.5,10.1,100,EEE\n",
			defaultSymbol: "ZZZ",
			wantSymbol:    "EEE",
			wantAdjClose:  "10.1",
		},
		{
			name:          "byte order mark",
			input:         "\ufeffdate,open,high,low,close,volume\n2024-01-02,10,11,9,10.5,100\n",
			defaultSymbol: "FFF",
			wantSymbol:    "FFF",
			wantAdjClose:  "10.5",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batches, err := collect(t, newTestSource(), tt.input, 10, tt.defaultSymbol)
			require.NoError(t, err)
			bars := flatten(batches)
			require.Len(t, bars, 1)
			assert.Equal(t, tt.wantSymbol, bars[0].Symbol)
			assert.Equal(t, day(2024, 1, 2), bars[0].Date)
			assert.Equal(t, "10.5", bars[0].Close.String())
			assert.Equal(t, tt.wantAdjClose, bars[0].AdjustedClose.String())
			assert.Equal(t, int64(100), bars[0].Volume)
		})
	}
}

func TestStreamBatches_UnknownLayout(t *testing.T) {
	_, err := collect(t, newTestSource(), "when,price\n2024-01-02,10\n", 10, "AAA")
	assert.ErrorIs(t, err, dto.ErrFormat)

	_, err = collect(t, newTestSource(), "", 10, "AAA")
	assert.ErrorIs(t, err, dto.ErrFormat)
}

func TestStreamBatches_NoSymbolColumnNeedsDefault(t *testing.T) {
	_, err := collect(t, newTestSource(), "date,open,high,low,close,volume\n2024-01-02,10,11,9,10.5,100\n", 10, "")
	assert.ErrorIs(t, err, dto.ErrFormat)
}

func TestStreamBatches_DropsInvalidRecords(t *testing.T) {
	input := strings.Join([]string{
		"symbol,date,open,high,low,close,volume",
		"AAA,2024-01-02,10,11,9,10.5,100",
		"AAA,not-a-date,10,11,9,10.5,100",
		",2024-01-03,10,11,9,10.5,100",
		"AAA,2024-01-04,10,11,9,0,100",
		"AAA,2024-01-05,10,11,9,-1,100",
		"AAA,2024-01-06,10,11,9,abc,100",
		"AAA,2024-01-07,10,11",
		"AAA,2024-01-08,10,11,9,10.5,-5",
		"AAA,2024-01-09,10,11,9,10.7,\"1,200\"",
	}, "\n")

	batches, err := collect(t, newTestSource(), input, 10, "")
	require.NoError(t, err)
	bars := flatten(batches)
	require.Len(t, bars, 2)
	assert.Equal(t, day(2024, 1, 2), bars[0].Date)
	assert.Equal(t, day(2024, 1, 9), bars[1].Date)
	assert.Equal(t, int64(1200), bars[1].Volume)
}

func TestStreamBatches_BatchSizes(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("symbol,date,open,high,low,close,volume\n")
	for d := 1; d <= 7; d++ {
		sb.WriteString("AAA,2024-03-0")
		sb.WriteByte(byte('0' + d))
		sb.WriteString(",10,11,9,10,100\n")
	}

	batches, err := collect(t, newTestSource(), sb.String(), 3, "")
	require.NoError(t, err)
	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 3)
	assert.Len(t, batches[1], 3)
	assert.Len(t, batches[2], 1)
	assert.Equal(t, day(2024, 3, 1), batches[0][0].Date)
	assert.Equal(t, day(2024, 3, 7), batches[2][0].Date)
}

func TestStreamBatches_StopEarly(t *testing.T) {
	input := "symbol,date,open,high,low,close,volume\nAAA,2024-01-02,1,1,1,1,1\nAAA,2024-01-03,1,1,1,1,1\nAAA,2024-01-04,1,1,1,1,1\n"
	src := newTestSource()
	seen := 0
	for batch, err := range src.StreamBatches(context.Background(), strings.NewReader(input), 1, "") {
		require.NoError(t, err)
		seen += len(batch)
		break
	}
	assert.Equal(t, 1, seen)
}

type failingReader struct {
	data string
	read bool
}

func (r *failingReader) Read(p []byte) (int, error) {
	if r.read {
		return 0, errors.New("disk on fire")
	}
	r.read = true
	return copy(p, r.data), nil
}

func TestStreamBatches_ReadErrorIsYielded(t *testing.T) {
	src := newTestSource()
	reader := &failingReader{data: "symbol,date,open,high,low,close,volume\nAAA,2024-01-02,1,1,1,1,1\n"}

	var bars []model.Bar
	var gotErr error
	for batch, err := range src.StreamBatches(context.Background(), reader, 10, "") {
		if err != nil {
			gotErr = err
			break
		}
		bars = append(bars, batch...)
	}
	assert.Len(t, bars, 1)
	require.Error(t, gotErr)
	assert.Contains(t, gotErr.Error(), "disk on fire")
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bars.csv")
	content := "date,open,high,low,close,volume\n2024-01-02,10,11,9,10,100\n2024-01-03,10,12,9,11,200\n2024-01-04,11,12,10,12,300\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	bars, err := newTestSource().Load(context.Background(), path, "XYZ")
	require.NoError(t, err)
	require.Len(t, bars, 3)
	assert.Equal(t, "XYZ", bars[2].Symbol)

	_, err = newTestSource().Load(context.Background(), filepath.Join(t.TempDir(), "missing.csv"), "XYZ")
	assert.Error(t, err)
}
