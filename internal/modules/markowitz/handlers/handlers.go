// Package handlers provides the HTTP adapter for the mean-variance engine.
package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/frontier/internal/modules/markowitz"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// PriceSource supplies the daily closes the engine analyses.
type PriceSource interface {
	GetPriceSeries(ctx context.Context, symbols []string, startYear, endYear int) ([]markowitz.PriceSeries, error)
	ListSymbols(ctx context.Context) ([]string, error)
}

// Defaults fill request parameters the caller leaves out.
type Defaults struct {
	RiskFreeRate float64
	Points       int
	MaxAssets    int // zero means unlimited
	MaxPoints    int // zero means unlimited
}

// Handler handles mean-variance analysis HTTP requests
type Handler struct {
	analyzer *markowitz.Analyzer
	prices   PriceSource
	defaults Defaults
	log      zerolog.Logger
}

// NewHandler creates a new analysis handler
func NewHandler(analyzer *markowitz.Analyzer, prices PriceSource, defaults Defaults, log zerolog.Logger) *Handler {
	return &Handler{
		analyzer: analyzer,
		prices:   prices,
		defaults: defaults,
		log:      log.With().Str("handler", "markowitz").Logger(),
	}
}

const (
	contentTypeJSON    = "application/json"
	contentTypeMsgpack = "application/msgpack"

	recomputeMessage = "recompute with fewer assets or a different range"
)

// analyzeBody is the POST payload. Prices, when present, map each ticker to
// its closes and bypass the history store.
type analyzeBody struct {
	Assets             []string                `json:"assets"`
	StartYear          int                     `json:"startYear"`
	EndYear            int                     `json:"endYear"`
	RiskFreeRate       *float64                `json:"riskFreeRate"`
	AllowShortSelling  bool                    `json:"allowShortSelling"`
	Points             int                     `json:"points"`
	IncludeInefficient bool                    `json:"includeInefficient"`
	Prices             map[string][]pricePoint `json:"prices"`
}

type pricePoint struct {
	Date  string  `json:"date"`
	Close float64 `json:"close"`
}

// HandleAnalyze handles GET /api/markowitz/analyze
func (h *Handler) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	req, err := h.parseQuery(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.analyze(w, r, req, nil)
}

// HandleAnalyzeInline handles POST /api/markowitz/analyze
func (h *Handler) HandleAnalyzeInline(w http.ResponseWriter, r *http.Request) {
	var body analyzeBody
	if err := decodeBody(r, &body); err != nil {
		h.writeError(w, r, fmt.Errorf("%w: malformed request body: %v", markowitz.ErrInvalidParameters, err))
		return
	}

	req := markowitz.AnalysisRequest{
		Tickers:            normalizeTickers(body.Assets),
		StartYear:          body.StartYear,
		EndYear:            body.EndYear,
		RiskFreeRate:       h.defaults.RiskFreeRate,
		AllowShortSelling:  body.AllowShortSelling,
		Points:             body.Points,
		IncludeInefficient: body.IncludeInefficient,
	}
	if body.RiskFreeRate != nil {
		req.RiskFreeRate = *body.RiskFreeRate
	}
	if req.Points == 0 {
		req.Points = h.defaults.Points
	}

	var series []markowitz.PriceSeries
	if body.Prices != nil {
		var err error
		if series, err = inlineSeries(body.Prices); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	h.analyze(w, r, req, series)
}

// HandleListSymbols handles GET /api/markowitz/symbols
func (h *Handler) HandleListSymbols(w http.ResponseWriter, r *http.Request) {
	symbols, err := h.prices.ListSymbols(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list symbols")
		h.writeError(w, r, err)
		return
	}

	h.write(w, r, http.StatusOK, map[string]interface{}{
		"data": symbols,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
			"count":     len(symbols),
		},
	})
}

// analyze loads prices when series is nil and runs the engine.
func (h *Handler) analyze(w http.ResponseWriter, r *http.Request, req markowitz.AnalysisRequest, series []markowitz.PriceSeries) {
	if h.defaults.MaxAssets > 0 && len(req.Tickers) > h.defaults.MaxAssets {
		h.writeError(w, r, fmt.Errorf("%w: %d assets requested, at most %d allowed",
			markowitz.ErrInvalidParameters, len(req.Tickers), h.defaults.MaxAssets))
		return
	}
	if h.defaults.MaxPoints > 0 && req.Points > h.defaults.MaxPoints {
		h.writeError(w, r, fmt.Errorf("%w: %d frontier points requested, at most %d allowed",
			markowitz.ErrInvalidParameters, req.Points, h.defaults.MaxPoints))
		return
	}

	if series == nil && len(req.Tickers) >= 2 && req.StartYear < req.EndYear {
		var err error
		series, err = h.prices.GetPriceSeries(r.Context(), req.Tickers, req.StartYear, req.EndYear)
		if err != nil {
			h.log.Error().Err(err).Strs("tickers", req.Tickers).Msg("Failed to load price history")
			h.writeError(w, r, err)
			return
		}
	}

	result, err := h.analyzer.Analyze(r.Context(), req, series)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.write(w, r, http.StatusOK, map[string]interface{}{
		"data": result,
		"metadata": map[string]interface{}{
			"timestamp":   time.Now().Format(time.RFC3339),
			"analysis_id": result.ID,
		},
	})
}

func (h *Handler) parseQuery(r *http.Request) (markowitz.AnalysisRequest, error) {
	q := r.URL.Query()
	req := markowitz.AnalysisRequest{
		Tickers:      normalizeTickers(q["assets"]),
		RiskFreeRate: h.defaults.RiskFreeRate,
		Points:       h.defaults.Points,
	}

	var err error
	if req.StartYear, err = requiredInt(q.Get("startYear"), "startYear"); err != nil {
		return req, err
	}
	if req.EndYear, err = requiredInt(q.Get("endYear"), "endYear"); err != nil {
		return req, err
	}
	if v := q.Get("riskFreeRate"); v != "" {
		if req.RiskFreeRate, err = strconv.ParseFloat(v, 64); err != nil {
			return req, fmt.Errorf("%w: riskFreeRate %q is not a number", markowitz.ErrInvalidParameters, v)
		}
	}
	if v := q.Get("points"); v != "" {
		if req.Points, err = strconv.Atoi(v); err != nil {
			return req, fmt.Errorf("%w: points %q is not an integer", markowitz.ErrInvalidParameters, v)
		}
	}
	if req.AllowShortSelling, err = optionalBool(q.Get("allowShortSelling"), "allowShortSelling"); err != nil {
		return req, err
	}
	if req.IncludeInefficient, err = optionalBool(q.Get("includeInefficient"), "includeInefficient"); err != nil {
		return req, err
	}
	return req, nil
}

// normalizeTickers accepts repeated and comma separated values, trims
// whitespace and upper-cases symbols. Blank entries are kept so validation
// can reject them.
func normalizeTickers(values []string) []string {
	tickers := []string{}
	for _, v := range values {
		for _, t := range strings.Split(v, ",") {
			tickers = append(tickers, strings.ToUpper(strings.TrimSpace(t)))
		}
	}
	return tickers
}

func requiredInt(v, name string) (int, error) {
	if v == "" {
		return 0, fmt.Errorf("%w: %s is required", markowitz.ErrInvalidParameters, name)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q is not an integer", markowitz.ErrInvalidParameters, name, v)
	}
	return n, nil
}

func optionalBool(v, name string) (bool, error) {
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%w: %s %q is not a boolean", markowitz.ErrInvalidParameters, name, v)
	}
	return b, nil
}

func inlineSeries(prices map[string][]pricePoint) ([]markowitz.PriceSeries, error) {
	series := make([]markowitz.PriceSeries, 0, len(prices))
	for ticker, points := range prices {
		s := markowitz.PriceSeries{
			Ticker: strings.ToUpper(strings.TrimSpace(ticker)),
			Points: make([]markowitz.PricePoint, len(points)),
		}
		for i, p := range points {
			date, err := parseDate(p.Date)
			if err != nil {
				return nil, fmt.Errorf("%w: %s price %d: %v", markowitz.ErrInvalidParameters, ticker, i, err)
			}
			s.Points[i] = markowitz.PricePoint{Date: date, Close: p.Close}
		}
		series = append(series, s)
	}
	return series, nil
}

func parseDate(v string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", v); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, v)
}

func decodeBody(r *http.Request, dst interface{}) error {
	if strings.HasPrefix(r.Header.Get("Content-Type"), contentTypeMsgpack) {
		dec := msgpack.NewDecoder(r.Body)
		dec.SetCustomStructTag("json")
		return dec.Decode(dst)
	}
	return json.NewDecoder(r.Body).Decode(dst)
}

// statusFor maps engine error kinds onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, markowitz.ErrSolverTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, markowitz.ErrInvalidParameters):
		return http.StatusBadRequest
	case errors.Is(err, markowitz.ErrDataUnavailable):
		return http.StatusNotFound
	case errors.Is(err, markowitz.ErrInsufficientHistory),
		errors.Is(err, markowitz.ErrSingularCovariance),
		errors.Is(err, markowitz.ErrInfeasibleConstraint),
		errors.Is(err, markowitz.ErrDegenerateTangency),
		errors.Is(err, markowitz.ErrDegenerateRisk):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	kind := markowitz.Kind(err)

	body := map[string]interface{}{
		"kind":    kind,
		"message": recomputeMessage,
	}
	// Internal failures keep their details in the logs.
	if status != http.StatusInternalServerError {
		body["detail"] = err.Error()
	}

	h.log.Debug().Err(err).Int("status", status).Str("kind", kind).Msg("Request failed")
	h.write(w, r, status, map[string]interface{}{"error": body})
}

// write encodes data as msgpack when the client asks for it, JSON otherwise.
// The body is encoded before the status goes out so an encoding failure
// still reaches the client as a 500.
func (h *Handler) write(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	contentType := contentTypeJSON
	var buf bytes.Buffer
	var err error
	if strings.Contains(r.Header.Get("Accept"), contentTypeMsgpack) {
		contentType = contentTypeMsgpack
		enc := msgpack.NewEncoder(&buf)
		enc.SetCustomStructTag("json")
		err = enc.Encode(data)
	} else {
		err = json.NewEncoder(&buf).Encode(data)
	}

	if err != nil {
		h.log.Error().Err(err).Str("content_type", contentType).Msg("Failed to encode response")
		w.Header().Set("Content-Type", contentTypeJSON)
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprintf(w, `{"error":{"kind":"internal","message":%q}}`+"\n", recomputeMessage)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		h.log.Warn().Err(err).Msg("Failed to write response")
	}
}
