package repository

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"market-forecast/config"
	"market-forecast/internal/dto"
	"market-forecast/internal/model"
	"market-forecast/pkg/cache"
	"market-forecast/pkg/logger"
	"market-forecast/pkg/validation"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeProvider struct {
	mu   sync.Mutex
	hits map[string]int
}

func (p *fakeProvider) count(key string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hits[key]
}

func (p *fakeProvider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	symbol := q.Get("symbol")
	key := q.Get("function") + ":" + symbol

	p.mu.Lock()
	p.hits[key]++
	n := p.hits[key]
	p.mu.Unlock()

	write := func(v interface{}) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}

	if q.Get("function") == "GLOBAL_QUOTE" {
		write(map[string]interface{}{
			"Global Quote": map[string]string{
				"01. symbol":             symbol,
				"02. open":               "10.0",
				"03. high":               "11.0",
				"04. low":                "9.5",
				"05. price":              "10.8",
				"06. volume":             "12345",
				"07. latest trading day": "2024-01-09",
			},
		})
		return
	}

	switch symbol {
	case "GOOD", "FLAKY":
		if symbol == "FLAKY" && n == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		write(map[string]interface{}{
			"Meta Data": map[string]string{"2. Symbol": symbol},
			"Time Series (Daily)": map[string]map[string]string{
				"2024-01-05": {"1. open": "12", "2. high": "13", "3. low": "11.5", "4. close": "12.5", "5. volume": "400"},
				"2024-01-02": {"1. open": "10", "2. high": "11", "3. low": "9.5", "4. close": "10.5", "5. volume": "100"},
				"2024-01-04": {"1. open": "11", "2. high": "12.5", "3. low": "10.5", "4. close": "12", "5. volume": "300"},
				"2024-01-03": {"1. open": "10.5", "2. high": "11.5", "3. low": "10", "4. close": "11", "5. volume": "200"},
				"2023-12-29": {"1. open": "9", "2. high": "10", "3. low": "8.5", "4. close": "9.5", "5. volume": "50"},
				"bad-date":   {"1. open": "9", "2. high": "10", "3. low": "8.5", "4. close": "9.5", "5. volume": "50"},
				"2024-01-08": {"1. open": "9"},
			},
		})
	case "BAD":
		write(map[string]string{"Error Message": "Invalid API call for BAD"})
	case "NOTE":
		write(map[string]string{"Note": "Our standard API call frequency is 5 calls per minute"})
	case "INFO":
		write(map[string]interface{}{
			"Information":         "Welcome to the API",
			"Time Series (Daily)": map[string]map[string]string{},
		})
	case "DOWN":
		w.WriteHeader(http.StatusInternalServerError)
	default:
		write(map[string]string{})
	}
}

type fetcherFixture struct {
	fetcher  MarketFetcher
	db       *gorm.DB
	provider *fakeProvider
	cfg      *config.Config
	clock    *time.Time
}

func newFetcherFixture(t *testing.T, mutate func(cfg *config.Provider)) *fetcherFixture {
	t.Helper()
	provider := &fakeProvider{hits: map[string]int{}}
	srv := httptest.NewServer(provider)
	t.Cleanup(srv.Close)

	cfg := config.Default()
	cfg.Model.ArtifactPath = t.TempDir() + "/model.json"
	cfg.Provider = config.Provider{
		Name:                "test",
		BaseURL:             srv.URL,
		Timeout:             2 * time.Second,
		MaxRequestPerMinute: 100,
		MaxRequestPerHour:   1000,
		BatchSize:           2,
		MaxRetries:          2,
		RetryBackoff:        time.Millisecond,
		QuoteCacheTTL:       time.Minute,
	}
	if mutate != nil {
		mutate(&cfg.Provider)
	}

	fx := &fetcherFixture{db: newTestDB(t), provider: provider, cfg: cfg}
	now := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	fx.clock = &now
	fx.fetcher = fx.newFetcher(t)
	return fx
}

// newFetcher builds a fresh repository over the fixture's database, as a restarted process would.
func (f *fetcherFixture) newFetcher(t *testing.T) MarketFetcher {
	t.Helper()
	repo, err := NewRepository(f.cfg, f.db, cache.NewCache(time.Minute, time.Minute), logger.NewNop(), validation.New(), nil,
		WithClock(func() time.Time { return *f.clock }))
	require.NoError(t, err)
	return repo.MarketFetcher
}

func (f *fetcherFixture) logs(t *testing.T) []model.APIRequestLog {
	t.Helper()
	var rows []model.APIRequestLog
	require.NoError(t, f.db.Order("id ASC").Find(&rows).Error)
	return rows
}

func TestFetchHistorical_ParsesFiltersAndSorts(t *testing.T) {
	fx := newFetcherFixture(t, nil)

	bars, err := fx.fetcher.FetchHistorical(context.Background(), "good", day(2024, 1, 1), day(2024, 1, 5))
	require.NoError(t, err)
	require.Len(t, bars, 4)
	for i, want := range []time.Time{day(2024, 1, 2), day(2024, 1, 3), day(2024, 1, 4), day(2024, 1, 5)} {
		assert.Equal(t, want, bars[i].Date)
		assert.Equal(t, "GOOD", bars[i].Symbol)
	}
	assert.Equal(t, "10.5", bars[0].Close.String())
	assert.Equal(t, int64(400), bars[3].Volume)

	rows := fx.logs(t)
	require.Len(t, rows, 1)
	assert.Equal(t, http.StatusOK, rows[0].ResponseCode)
	assert.Nil(t, rows[0].ErrorMessage)
	assert.Equal(t, "historical", rows[0].RequestType)
	assert.Equal(t, 1, rows[0].RequestCount)
}

func TestFetchHistorical_ProviderErrors(t *testing.T) {
	tests := []struct {
		symbol  string
		message string
	}{
		{symbol: "BAD", message: "Invalid API call"},
		{symbol: "NOTE", message: "call frequency"},
	}
	for _, tt := range tests {
		t.Run(tt.symbol, func(t *testing.T) {
			fx := newFetcherFixture(t, nil)
			_, err := fx.fetcher.FetchHistorical(context.Background(), tt.symbol, time.Time{}, time.Time{})

			var perr *dto.ProviderError
			require.ErrorAs(t, err, &perr)
			assert.ErrorIs(t, err, dto.ErrProvider)
			assert.Contains(t, perr.Message, tt.message)
			assert.Equal(t, 1, fx.provider.count("TIME_SERIES_DAILY:"+tt.symbol), "payload errors are not retried")

			rows := fx.logs(t)
			require.Len(t, rows, 1)
			require.NotNil(t, rows[0].ErrorMessage)
			assert.Contains(t, *rows[0].ErrorMessage, tt.message)
		})
	}
}

func TestFetchHistorical_InformationWithoutLimitIsNotAnError(t *testing.T) {
	fx := newFetcherFixture(t, nil)
	bars, err := fx.fetcher.FetchHistorical(context.Background(), "INFO", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, bars)
}

func TestFetchHistorical_MissingSeriesIsProviderError(t *testing.T) {
	fx := newFetcherFixture(t, nil)
	_, err := fx.fetcher.FetchHistorical(context.Background(), "EMPTY", time.Time{}, time.Time{})
	assert.ErrorIs(t, err, dto.ErrProvider)
}

func TestFetchHistorical_RateLimitWindow(t *testing.T) {
	fx := newFetcherFixture(t, func(cfg *config.Provider) {
		cfg.MaxRequestPerMinute = 2
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := fx.fetcher.FetchHistorical(ctx, "GOOD", time.Time{}, time.Time{})
		require.NoError(t, err)
	}

	_, err := fx.fetcher.FetchHistorical(ctx, "GOOD", time.Time{}, time.Time{})
	assert.ErrorIs(t, err, dto.ErrRateLimitExceeded)
	assert.Equal(t, 2, fx.provider.count("TIME_SERIES_DAILY:GOOD"))
	rows := fx.logs(t)
	require.Len(t, rows, 3)
	assert.Equal(t, model.ResponseCodeRefused, rows[2].ResponseCode)
	require.NotNil(t, rows[2].ErrorMessage)
	assert.Contains(t, *rows[2].ErrorMessage, "rate limit exceeded")

	_, err = fx.fetcher.FetchHistorical(ctx, "GOOD", time.Time{}, time.Time{})
	assert.ErrorIs(t, err, dto.ErrRateLimitExceeded, "refused rows do not free or use budget")

	*fx.clock = fx.clock.Add(61 * time.Second)
	_, err = fx.fetcher.FetchHistorical(ctx, "GOOD", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 3, fx.provider.count("TIME_SERIES_DAILY:GOOD"))
}

func TestFetchHistorical_BudgetSurvivesRestart(t *testing.T) {
	fx := newFetcherFixture(t, func(cfg *config.Provider) {
		cfg.MaxRequestPerMinute = 2
	})
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := fx.fetcher.FetchHistorical(ctx, "GOOD", time.Time{}, time.Time{})
		require.NoError(t, err)
	}

	restarted := fx.newFetcher(t)
	_, err := restarted.FetchHistorical(ctx, "GOOD", time.Time{}, time.Time{})
	assert.ErrorIs(t, err, dto.ErrRateLimitExceeded)
	assert.Equal(t, 2, fx.provider.count("TIME_SERIES_DAILY:GOOD"))
}

func TestFetchHistorical_SerializesConcurrentCallers(t *testing.T) {
	var (
		inflight    atomic.Int32
		maxInflight atomic.Int32
		served      atomic.Int32
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inflight.Add(1)
		defer inflight.Add(-1)
		for {
			m := maxInflight.Load()
			if n <= m || maxInflight.CompareAndSwap(m, n) {
				break
			}
		}
		served.Add(1)
		time.Sleep(20 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"Time Series (Daily)": {"2024-01-05": {"1. open": "12", "2. high": "13", "3. low": "11.5", "4. close": "12.5", "5. volume": "400"}}}`))
	}))
	t.Cleanup(srv.Close)

	fx := newFetcherFixture(t, func(cfg *config.Provider) {
		cfg.BaseURL = srv.URL
		cfg.MaxRequestPerMinute = 8
	})

	const callers = 10
	var (
		wg      sync.WaitGroup
		ok      atomic.Int32
		limited atomic.Int32
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := fx.fetcher.FetchHistorical(context.Background(), "GOOD", time.Time{}, time.Time{})
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, dto.ErrRateLimitExceeded):
				limited.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInflight.Load(), "at most one request may reach the provider at a time")
	assert.Equal(t, int32(8), ok.Load())
	assert.Equal(t, int32(2), limited.Load())
	assert.Equal(t, int32(8), served.Load())
}

func TestFetchHistorical_HourlyBudget(t *testing.T) {
	fx := newFetcherFixture(t, func(cfg *config.Provider) {
		cfg.MaxRequestPerHour = 1
	})
	ctx := context.Background()
	_, err := fx.fetcher.FetchHistorical(ctx, "GOOD", time.Time{}, time.Time{})
	require.NoError(t, err)

	*fx.clock = fx.clock.Add(10 * time.Minute)
	_, err = fx.fetcher.FetchHistorical(ctx, "GOOD", time.Time{}, time.Time{})
	assert.ErrorIs(t, err, dto.ErrRateLimitExceeded)
}

func TestFetchHistorical_RetriesServerErrors(t *testing.T) {
	fx := newFetcherFixture(t, nil)
	ctx := context.Background()

	bars, err := fx.fetcher.FetchHistorical(ctx, "FLAKY", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.NotEmpty(t, bars)
	rows := fx.logs(t)
	require.Len(t, rows, 2)
	assert.Equal(t, http.StatusServiceUnavailable, rows[0].ResponseCode)
	assert.NotNil(t, rows[0].ErrorMessage)
	assert.Equal(t, http.StatusOK, rows[1].ResponseCode)

	_, err = fx.fetcher.FetchHistorical(ctx, "DOWN", time.Time{}, time.Time{})
	var perr *dto.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, http.StatusInternalServerError, perr.StatusCode)
	assert.Equal(t, 3, fx.provider.count("TIME_SERIES_DAILY:DOWN"))
}

func TestFetchQuote_Cached(t *testing.T) {
	fx := newFetcherFixture(t, nil)
	ctx := context.Background()

	bar, err := fx.fetcher.FetchQuote(ctx, "good")
	require.NoError(t, err)
	assert.Equal(t, "10.8", bar.Close.String())
	assert.Equal(t, day(2024, 1, 9), bar.Date)
	assert.Equal(t, int64(12345), bar.Volume)

	again, err := fx.fetcher.FetchQuote(ctx, "GOOD")
	require.NoError(t, err)
	assert.Equal(t, bar.Close.String(), again.Close.String())
	assert.Equal(t, 1, fx.provider.count("GLOBAL_QUOTE:GOOD"))
	assert.Len(t, fx.logs(t), 1)
}

func TestFetchBatch_IsolatesFailures(t *testing.T) {
	fx := newFetcherFixture(t, nil)

	result, failures := fx.fetcher.FetchBatch(context.Background(), []string{"GOOD", "BAD", "NOTE"}, day(2024, 1, 1), day(2024, 1, 31))
	require.Len(t, result, 3)
	assert.Len(t, result["GOOD"], 4)
	assert.NotNil(t, result["BAD"])
	assert.Empty(t, result["BAD"])
	assert.Empty(t, result["NOTE"])

	require.Len(t, failures, 2)
	assert.Equal(t, "BAD", failures[0].Symbol)
	assert.Equal(t, "NOTE", failures[1].Symbol)
	assert.True(t, errors.Is(failures[0], dto.ErrProvider))
}

func TestFetchBatch_Cancelled(t *testing.T) {
	fx := newFetcherFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, failures := fx.fetcher.FetchBatch(ctx, []string{"GOOD", "BAD"}, time.Time{}, time.Time{})
	assert.Len(t, result, 2)
	assert.Len(t, failures, 2)
	assert.ErrorIs(t, failures[0].Err, context.Canceled)
	assert.Equal(t, 0, fx.provider.count("TIME_SERIES_DAILY:GOOD"))
}
