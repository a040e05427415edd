package repository

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"market-forecast/config"
	"market-forecast/internal/dto"
	"market-forecast/internal/model"
	"market-forecast/pkg/cache"
	"market-forecast/pkg/common"
	"market-forecast/pkg/httpclient"
	"market-forecast/pkg/logger"
	"market-forecast/pkg/metrics"
	"market-forecast/pkg/ratelimit"
	"market-forecast/pkg/utils"

	goValidator "github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

const (
	providerQueryPath = "/query"
	apiKeyParam       = "apikey"
	// compactWindow is how far back the provider's compact output reaches.
	compactWindow = 100 * 24 * time.Hour
)

// RequestLogStore is the part of the store the fetcher needs for rate-limit accounting.
type RequestLogStore interface {
	SaveAPIRequestLog(ctx context.Context, log *model.APIRequestLog) error
	CountAPIRequests(ctx context.Context, provider string, since time.Time) (int64, error)
}

// MarketFetcher pulls bars from the external provider under the configured request budget.
type MarketFetcher interface {
	FetchHistorical(ctx context.Context, symbol string, start, end time.Time) ([]model.Bar, error)
	FetchQuote(ctx context.Context, symbol string) (*model.Bar, error)
	// FetchBatch never fails as a whole: a symbol that could not be fetched maps
	// to an empty list and its error is reported separately.
	FetchBatch(ctx context.Context, symbols []string, start, end time.Time) (map[string][]model.Bar, []dto.SymbolError)
}

type FetcherOption func(*marketFetcher)

// WithClock replaces the clock used for request timestamps and budget windows.
func WithClock(now func() time.Time) FetcherOption {
	return func(f *marketFetcher) {
		f.now = now
	}
}

func WithHTTPClient(client httpclient.HTTPClient) FetcherOption {
	return func(f *marketFetcher) {
		f.httpClient = client
	}
}

type marketFetcher struct {
	cfg        config.Provider
	log        *logger.Logger
	httpClient httpclient.HTTPClient
	store      RequestLogStore
	validator  *goValidator.Validate
	cache      cache.Cache
	metrics    *metrics.Recorder
	budget     *ratelimit.SlidingWindowLimiter
	spacing    *ratelimit.LimiterStore
	now        func() time.Time

	// mu is the single gate every outbound request passes through.
	mu sync.Mutex
}

func NewMarketFetcher(
	cfg config.Provider,
	log *logger.Logger,
	store RequestLogStore,
	validator *goValidator.Validate,
	quoteCache cache.Cache,
	recorder *metrics.Recorder,
	opts ...FetcherOption,
) MarketFetcher {
	f := &marketFetcher{
		cfg:        cfg,
		log:        log.With(logger.StringField("provider", cfg.Name)),
		httpClient: httpclient.New(cfg.BaseURL, cfg.Timeout,
			httpclient.WithHeader("User-Agent", "market-forecast"),
			httpclient.WithRedactedParam(apiKeyParam),
		),
		store:      store,
		validator:  validator,
		cache:      quoteCache,
		metrics:    recorder,
		spacing:    ratelimit.NewSpacingStore(cfg.RequestDelay),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}

	count := func(ctx context.Context, since time.Time) (int64, error) {
		return f.store.CountAPIRequests(ctx, f.cfg.Name, since.UTC())
	}
	f.budget = ratelimit.NewSlidingWindowLimiter(count,
		ratelimit.Window{Name: "minute", Limit: cfg.MaxRequestPerMinute, Period: time.Minute},
		ratelimit.Window{Name: "hour", Limit: cfg.MaxRequestPerHour, Period: time.Hour},
	).WithClock(func() time.Time { return f.now() })
	return f
}

func (f *marketFetcher) FetchHistorical(ctx context.Context, symbol string, start, end time.Time) ([]model.Bar, error) {
	defer f.metrics.ObserveSince("fetch_historical", time.Now())
	symbol = utils.NormalizeSymbol(symbol)

	outputSize := "compact"
	if start.IsZero() || f.now().Sub(start) > compactWindow {
		outputSize = "full"
	}
	params := map[string]string{
		"function":   "TIME_SERIES_DAILY",
		"symbol":     symbol,
		"outputsize": outputSize,
	}

	var resp dto.DailySeriesResponse
	if err := f.request(ctx, common.REQUEST_TYPE_HISTORICAL, symbol, params, &resp); err != nil {
		return nil, err
	}
	if resp.TimeSeries == nil {
		return nil, &dto.ProviderError{Provider: f.cfg.Name, Symbol: symbol, StatusCode: http.StatusOK, Message: "response has no daily time series"}
	}

	from, to := utils.TruncateToDate(start), utils.TruncateToDate(end)
	bars := make([]model.Bar, 0, len(resp.TimeSeries))
	for rawDate, fields := range resp.TimeSeries {
		date, err := utils.ParseDate(rawDate)
		if err != nil {
			f.log.WarnContext(ctx, "Skipping series entry with malformed date",
				logger.StringField("symbol", symbol),
				logger.StringField("date", rawDate),
			)
			continue
		}
		if (!start.IsZero() && date.Before(from)) || (!end.IsZero() && date.After(to)) {
			continue
		}
		bar, err := f.barFromFields(symbol, date, dto.NormalizeSeriesKeys(fields), "close")
		if err != nil {
			f.log.WarnContext(ctx, "Skipping incomplete series entry",
				logger.StringField("symbol", symbol),
				logger.StringField("date", rawDate),
				logger.ErrorField(err),
			)
			continue
		}
		bars = append(bars, bar)
	}
	slices.SortFunc(bars, func(a, b model.Bar) int { return a.Date.Compare(b.Date) })

	f.metrics.RecordBars(f.cfg.Name, len(bars))
	return bars, nil
}

func (f *marketFetcher) FetchQuote(ctx context.Context, symbol string) (*model.Bar, error) {
	symbol = utils.NormalizeSymbol(symbol)
	key := fmt.Sprintf(common.KEY_LATEST_QUOTE, f.cfg.Name, symbol)
	bar, err := cache.Remember(ctx, f.cache, key, f.cfg.QuoteCacheTTL, func(ctx context.Context) (model.Bar, error) {
		return f.fetchQuote(ctx, symbol)
	})
	if err != nil {
		return nil, err
	}
	return &bar, nil
}

func (f *marketFetcher) fetchQuote(ctx context.Context, symbol string) (model.Bar, error) {
	params := map[string]string{
		"function": "GLOBAL_QUOTE",
		"symbol":   symbol,
	}
	var resp dto.GlobalQuoteResponse
	if err := f.request(ctx, common.REQUEST_TYPE_QUOTE, symbol, params, &resp); err != nil {
		return model.Bar{}, err
	}
	if len(resp.GlobalQuote) == 0 {
		return model.Bar{}, &dto.ProviderError{Provider: f.cfg.Name, Symbol: symbol, StatusCode: http.StatusOK, Message: "empty quote"}
	}

	fields := dto.NormalizeSeriesKeys(resp.GlobalQuote)
	date, err := utils.ParseDate(fields["latest trading day"])
	if err != nil {
		return model.Bar{}, &dto.ProviderError{Provider: f.cfg.Name, Symbol: symbol, StatusCode: http.StatusOK, Message: "quote has no trading day"}
	}
	bar, err := f.barFromFields(symbol, date, fields, "price")
	if err != nil {
		return model.Bar{}, &dto.ProviderError{Provider: f.cfg.Name, Symbol: symbol, StatusCode: http.StatusOK, Message: err.Error()}
	}

	return bar, nil
}

func (f *marketFetcher) FetchBatch(ctx context.Context, symbols []string, start, end time.Time) (map[string][]model.Bar, []dto.SymbolError) {
	result := make(map[string][]model.Bar, len(symbols))
	var failures []dto.SymbolError

	abandon := func(rest []string, err error) {
		for _, s := range rest {
			s = utils.NormalizeSymbol(s)
			if _, done := result[s]; done {
				continue
			}
			result[s] = []model.Bar{}
			failures = append(failures, dto.SymbolError{Symbol: s, Err: err})
		}
	}

	groups := utils.Chunk(symbols, f.cfg.BatchSize)
	for gi, group := range groups {
		if gi > 0 {
			f.log.InfoContext(ctx, "Waiting before next symbol group",
				logger.IntField("group", gi+1),
				logger.IntField("groups", len(groups)),
				logger.DurationField("delay", f.cfg.BatchDelay),
			)
			if err := utils.Sleep(ctx, f.cfg.BatchDelay); err != nil {
				abandon(symbols, err)
				return result, failures
			}
		}

		for _, symbol := range group {
			if !utils.ShouldContinue(ctx, f.log) {
				abandon(symbols, ctx.Err())
				return result, failures
			}
			symbol = utils.NormalizeSymbol(symbol)
			bars, err := f.FetchHistorical(ctx, symbol, start, end)
			if err != nil {
				f.log.WarnContext(ctx, "Failed to fetch symbol in batch",
					logger.StringField("symbol", symbol),
					logger.ErrorField(err),
				)
				result[symbol] = []model.Bar{}
				failures = append(failures, dto.SymbolError{Symbol: symbol, Err: err})
				continue
			}
			result[symbol] = bars
		}
	}
	return result, failures
}

// request sends one logical request through the gate, retrying transport
// failures and 5xx responses. Budget and payload errors are never retried.
func (f *marketFetcher) request(ctx context.Context, requestType, symbol string, params map[string]string, out interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt <= f.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := f.cfg.RetryBackoff * time.Duration(1<<(attempt-1))
			f.log.WarnContext(ctx, "Retrying provider request",
				logger.StringField("symbol", symbol),
				logger.IntField("attempt", attempt+1),
				logger.DurationField("backoff", backoff),
				logger.ErrorField(lastErr),
			)
			if err := utils.Sleep(ctx, backoff); err != nil {
				return err
			}
		}

		retry, err := f.attempt(ctx, requestType, symbol, params, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry {
			return err
		}
	}
	return lastErr
}

func (f *marketFetcher) attempt(ctx context.Context, requestType, symbol string, params map[string]string, out interface{}) (bool, error) {
	if err := f.budget.Allow(ctx); err != nil {
		if errors.Is(err, ratelimit.ErrLimitExceeded) {
			f.metrics.RecordRateLimited(f.cfg.Name)
			f.log.WarnContext(ctx, "Provider request budget exhausted",
				logger.StringField("symbol", symbol),
				logger.ErrorField(err),
			)
			err = fmt.Errorf("%w: %w", dto.ErrRateLimitExceeded, err)
			f.recordRefused(ctx, requestType, symbol, err)
			return false, err
		}
		return false, err
	}
	if err := f.spacing.GetLimiter(f.cfg.Name).Wait(ctx); err != nil {
		return false, err
	}

	entry := &model.APIRequestLog{
		Provider:     f.cfg.Name,
		RequestType:  requestType,
		Symbol:       symbol,
		RequestTime:  f.now().UTC(),
		ResponseCode: model.ResponseCodePending,
		RequestCount: 1,
	}
	if err := f.store.SaveAPIRequestLog(ctx, entry); err != nil {
		return false, fmt.Errorf("failed to record provider request: %w", err)
	}

	query := make(map[string]string, len(params)+1)
	for k, v := range params {
		query[k] = v
	}
	query[apiKeyParam] = f.cfg.APIKey

	resp, err := f.httpClient.Get(ctx, providerQueryPath, query)
	if err != nil {
		code := model.ResponseCodePending
		if resp != nil {
			code = resp.StatusCode
		}
		err = fmt.Errorf("failed to call provider %s: %w", f.cfg.Name, err)
		f.finish(ctx, entry, code, err)
		return ctx.Err() == nil, err
	}

	if resp.StatusCode != http.StatusOK {
		f.log.ErrorContext(ctx, "Provider returned non-OK status",
			logger.StringField("symbol", symbol),
			logger.IntField("status_code", resp.StatusCode),
			logger.StringField("body", string(resp.Body)),
		)
		perr := &dto.ProviderError{Provider: f.cfg.Name, Symbol: symbol, StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		f.finish(ctx, entry, resp.StatusCode, perr)
		return perr.Retryable(), perr
	}

	var envelope dto.ProviderEnvelope
	if err := dto.DecodeProviderBody(resp.Body, &envelope); err != nil {
		perr := &dto.ProviderError{Provider: f.cfg.Name, Symbol: symbol, StatusCode: resp.StatusCode, Message: "invalid response body: " + err.Error()}
		f.finish(ctx, entry, resp.StatusCode, perr)
		return false, perr
	}
	if failure := envelope.ProviderFailure(); failure != "" {
		perr := &dto.ProviderError{Provider: f.cfg.Name, Symbol: symbol, StatusCode: resp.StatusCode, Message: failure}
		f.finish(ctx, entry, resp.StatusCode, perr)
		return false, perr
	}
	if err := dto.DecodeProviderBody(resp.Body, out); err != nil {
		perr := &dto.ProviderError{Provider: f.cfg.Name, Symbol: symbol, StatusCode: resp.StatusCode, Message: "unexpected response shape: " + err.Error()}
		f.finish(ctx, entry, resp.StatusCode, perr)
		return false, perr
	}

	f.finish(ctx, entry, resp.StatusCode, nil)
	return false, nil
}

// recordRefused writes an audit row for an attempt the budget turned away.
func (f *marketFetcher) recordRefused(ctx context.Context, requestType, symbol string, reason error) {
	entry := &model.APIRequestLog{
		Provider:     f.cfg.Name,
		RequestType:  requestType,
		Symbol:       symbol,
		RequestTime:  f.now().UTC(),
		ResponseCode: model.ResponseCodeRefused,
		ErrorMessage: utils.ToPointer(reason.Error()),
		RequestCount: 1,
	}
	if err := f.store.SaveAPIRequestLog(context.WithoutCancel(ctx), entry); err != nil {
		f.log.ErrorContext(ctx, "Failed to record refused request",
			logger.StringField("symbol", symbol),
			logger.ErrorField(err),
		)
	}
}

// finish records the outcome on the audit row. A failed update is logged and
// never replaces the request's own error.
func (f *marketFetcher) finish(ctx context.Context, entry *model.APIRequestLog, code int, reqErr error) {
	entry.ResponseCode = code
	if reqErr != nil {
		entry.ErrorMessage = utils.ToPointer(reqErr.Error())
	}
	f.metrics.RecordProviderRequest(f.cfg.Name, entry.RequestType, strconv.Itoa(code))

	if err := f.store.SaveAPIRequestLog(context.WithoutCancel(ctx), entry); err != nil {
		f.log.ErrorContext(ctx, "Failed to update api request log",
			logger.StringField("symbol", entry.Symbol),
			logger.IntField("response_code", code),
			logger.ErrorField(err),
		)
	}
}

func (f *marketFetcher) barFromFields(symbol string, date time.Time, fields map[string]string, closeKey string) (model.Bar, error) {
	values := make(map[string]decimal.Decimal, 5)
	for _, key := range []string{"open", "high", "low", closeKey} {
		raw, ok := fields[key]
		if !ok {
			return model.Bar{}, fmt.Errorf("missing %s", key)
		}
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return model.Bar{}, fmt.Errorf("invalid %s %q", key, raw)
		}
		values[key] = d
	}
	adjClose := values[closeKey]
	if raw, ok := fields["adjusted close"]; ok {
		if d, err := decimal.NewFromString(raw); err == nil {
			adjClose = d
		}
	}
	volume, err := parseVolume(fields["volume"])
	if err != nil {
		return model.Bar{}, err
	}

	bar := model.Bar{
		Symbol:        symbol,
		Date:          date,
		Open:          values["open"],
		High:          values["high"],
		Low:           values["low"],
		Close:         values[closeKey],
		AdjustedClose: adjClose,
		Volume:        volume,
	}
	if err := f.validator.Struct(bar); err != nil {
		return model.Bar{}, err
	}
	return bar, nil
}
