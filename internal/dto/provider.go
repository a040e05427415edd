package dto

import (
	"encoding/json"
	"strings"
)

// Alpha Vantage style response envelope. Error Message, Note and Information
// are the provider's ways of reporting failures inside a 200 response.
type ProviderEnvelope struct {
	ErrorMessage string `json:"Error Message"`
	Note         string `json:"Note"`
	Information  string `json:"Information"`
}

type DailySeriesResponse struct {
	ProviderEnvelope
	MetaData   map[string]string            `json:"Meta Data"`
	TimeSeries map[string]map[string]string `json:"Time Series (Daily)"`
}

type GlobalQuoteResponse struct {
	ProviderEnvelope
	GlobalQuote map[string]string `json:"Global Quote"`
}

// ProviderFailure returns the failure text embedded in a response, or "" when
// the response is usable. Notes and information messages only count when they
// talk about request limits.
func (e ProviderEnvelope) ProviderFailure() string {
	if e.ErrorMessage != "" {
		return e.ErrorMessage
	}
	for _, note := range []string{e.Note, e.Information} {
		if IsRateLimitNote(note) {
			return note
		}
	}
	return ""
}

func IsRateLimitNote(note string) bool {
	lower := strings.ToLower(note)
	return strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "call frequency") ||
		strings.Contains(lower, "requests per")
}

// NormalizeSeriesKeys strips the "1. " style numbering the provider puts in front of
// field names, so "4. close" becomes "close" and "05. price" becomes "price".
func NormalizeSeriesKeys(fields map[string]string) map[string]string {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		key := k
		if idx := strings.Index(k, ". "); idx >= 0 {
			key = k[idx+2:]
		}
		out[strings.ToLower(strings.TrimSpace(key))] = strings.TrimSpace(v)
	}
	return out
}

// DecodeProviderBody decodes a raw response body into out.
func DecodeProviderBody(body []byte, out interface{}) error {
	return json.Unmarshal(body, out)
}
