// @title           VELOX Trading Engine API
// @version         1.0
// @description     Operational API for the intraday trading engine: halt state, warmup progress, positions, admission decisions and candle history.

// @host      localhost:8080
// @BasePath  /api/v1

package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/tushaar82/VELOX-v2-kafka-redis-influx-sub001/internal/application/service/emergency"
	"github.com/tushaar82/VELOX-v2-kafka-redis-influx-sub001/internal/application/service/warmup"
	domaininstruments "github.com/tushaar82/VELOX-v2-kafka-redis-influx-sub001/internal/domain/entity/instruments"
	market "github.com/tushaar82/VELOX-v2-kafka-redis-influx-sub001/internal/domain/entity/market"
	trading "github.com/tushaar82/VELOX-v2-kafka-redis-influx-sub001/internal/domain/entity/trading"
	infrainstruments "github.com/tushaar82/VELOX-v2-kafka-redis-influx-sub001/internal/infrastructure/instruments"
)

const apiBasePath = "/api/v1"

var (
	errMissingSymbol    = errors.New("symbol query param required")
	errMissingTimeframe = errors.New("timeframe query param required")
	errMissingRange     = errors.New("from/to query params required")
	errNoFormingCandle  = errors.New("no forming candle for symbol and timeframe")
)

// RiskMonitor is the halt-state view the API reads and the day-rollover
// switch it flips.
type RiskMonitor interface {
	Snapshot() emergency.Snapshot
	ResetForNewDay()
}

// WarmupTracker reports per-strategy warmup progress.
type WarmupTracker interface {
	Progress() []warmup.Progress
	Degraded() bool
}

// PositionSource lists the open positions.
type PositionSource interface {
	OpenPositions(ctx context.Context) ([]trading.Position, error)
}

// DecisionSource replays recent admission decisions, newest first.
type DecisionSource interface {
	RecentDecisions() []trading.Decision
}

// CandleSource is the live in-memory view of the aggregator.
type CandleSource interface {
	Forming(symbol string, timeframe time.Duration) (market.Candle, bool)
	History(symbol string, timeframe time.Duration, limit int) []market.Candle
}

// CandleArchive is the persistent candle store read side.
type CandleArchive interface {
	CandlesBetween(ctx context.Context, symbol string, timeframe time.Duration, from, to time.Time) ([]market.Candle, error)
}

// Catalog serves instrument reference data.
type Catalog interface {
	GetBySymbol(ctx context.Context, symbol string) (*domaininstruments.Instrument, error)
	List(ctx context.Context) ([]domaininstruments.Instrument, error)
}

// Deps collects everything the API reads. Live views (status, positions,
// decisions, forming candles) are never cached; archive and catalog reads
// go through Redis when a cache client is configured.
type Deps struct {
	Monitor       RiskMonitor
	Warmup        WarmupTracker
	Positions     PositionSource
	Decisions     DecisionSource
	Candles       CandleSource
	Archive       CandleArchive
	Catalog       Catalog
	ExecutionMode string
	Cache         *redis.Client
	CacheTTL      time.Duration
}

type Handler struct {
	router *gin.Engine
	deps   Deps
}

func NewHandler(deps Deps) *Handler {
	router := gin.New()
	router.Use(gin.Recovery())

	h := &Handler{
		router: router,
		deps:   deps,
	}
	h.registerRoutes()
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	h.router.GET("/healthz", h.health)

	api := h.router.Group(apiBasePath)
	{
		api.GET("/status", h.getStatus)
		api.GET("/positions", h.getPositions)
		api.GET("/decisions", h.getDecisions)
		api.POST("/risk/rollover", h.rolloverRiskDay)

		api.GET("/candles/last", h.getCandlesLast)
		api.GET("/candles/forming", h.getCandleForming)
	}

	cached := h.router.Group(apiBasePath)
	if h.deps.Cache != nil {
		cached.Use(h.cacheMiddleware())
	}
	{
		cached.GET("/candles/history", h.getCandlesHistory)
		cached.GET("/instruments", h.listInstruments)
		cached.GET("/instruments/:symbol", h.getInstrument)
	}
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type statusResponse struct {
	Risk           emergency.Snapshot `json:"risk"`
	Warmup         []warmup.Progress  `json:"warmup"`
	WarmupDegraded bool               `json:"warmup_degraded"`
	ExecutionMode  string             `json:"execution_mode"`
	OpenPositions  int                `json:"open_positions"`
}

// getStatus reports the engine's operational state
// @Summary      Engine status
// @Description  Halt state, daily P&L, warmup progress and open position count
// @Tags         engine
// @Produce      json
// @Success      200  {object}  statusResponse
// @Failure      500  {object}  map[string]string
// @Router       /status [get]
func (h *Handler) getStatus(c *gin.Context) {
	positions, err := h.deps.Positions.OpenPositions(c.Request.Context())
	if err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, statusResponse{
		Risk:           h.deps.Monitor.Snapshot(),
		Warmup:         h.deps.Warmup.Progress(),
		WarmupDegraded: h.deps.Warmup.Degraded(),
		ExecutionMode:  h.deps.ExecutionMode,
		OpenPositions:  len(positions),
	})
}

// getPositions lists open positions
// @Summary      Open positions
// @Tags         engine
// @Produce      json
// @Success      200  {array}   trading.Position
// @Failure      500  {object}  map[string]string
// @Router       /positions [get]
func (h *Handler) getPositions(c *gin.Context) {
	positions, err := h.deps.Positions.OpenPositions(c.Request.Context())
	if err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	if positions == nil {
		positions = []trading.Position{}
	}
	c.JSON(http.StatusOK, positions)
}

// getDecisions replays recent admission decisions
// @Summary      Recent admission decisions
// @Description  Newest first; limit query param truncates the window
// @Tags         engine
// @Produce      json
// @Param        limit  query     int  false  "Maximum decisions to return"
// @Success      200    {array}   trading.Decision
// @Failure      400    {object}  map[string]string
// @Router       /decisions [get]
func (h *Handler) getDecisions(c *gin.Context) {
	decisions := h.deps.Decisions.RecentDecisions()
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeError(c, http.StatusBadRequest, fmt.Errorf("limit must be a positive integer"))
			return
		}
		if limit < len(decisions) {
			decisions = decisions[:limit]
		}
	}
	if decisions == nil {
		decisions = []trading.Decision{}
	}
	c.JSON(http.StatusOK, decisions)
}

// rolloverRiskDay resets daily risk state for a new trading day
// @Summary      Day rollover
// @Description  Clears the daily loss counters and re-arms a halted engine
// @Tags         engine
// @Produce      json
// @Success      200  {object}  emergency.Snapshot
// @Router       /risk/rollover [post]
func (h *Handler) rolloverRiskDay(c *gin.Context) {
	h.deps.Monitor.ResetForNewDay()
	c.JSON(http.StatusOK, h.deps.Monitor.Snapshot())
}

// getCandlesLast serves recent sealed candles from the in-memory ring
// @Summary      Last candles
// @Tags         candles
// @Produce      json
// @Param        symbol     query     string  true  "Instrument symbol"
// @Param        timeframe  query     string  true  "Timeframe, e.g. 1m"
// @Param        limit      query     int     true  "Number of candles"
// @Success      200        {array}   market.Candle
// @Failure      400        {object}  map[string]string
// @Router       /candles/last [get]
func (h *Handler) getCandlesLast(c *gin.Context) {
	symbol, timeframe, err := parseSymbolAndTimeframe(c)
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	limit, err := parseIntQuery(c, "limit")
	if err != nil || limit <= 0 {
		writeError(c, http.StatusBadRequest, fmt.Errorf("limit must be a positive integer"))
		return
	}
	candles := h.deps.Candles.History(symbol, timeframe, limit)
	if candles == nil {
		candles = []market.Candle{}
	}
	c.JSON(http.StatusOK, candles)
}

// getCandleForming serves a snapshot of the currently forming candle
// @Summary      Forming candle
// @Tags         candles
// @Produce      json
// @Param        symbol     query     string  true  "Instrument symbol"
// @Param        timeframe  query     string  true  "Timeframe, e.g. 1m"
// @Success      200        {object}  market.Candle
// @Failure      400        {object}  map[string]string
// @Failure      404        {object}  map[string]string
// @Router       /candles/forming [get]
func (h *Handler) getCandleForming(c *gin.Context) {
	symbol, timeframe, err := parseSymbolAndTimeframe(c)
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	candle, ok := h.deps.Candles.Forming(symbol, timeframe)
	if !ok {
		writeError(c, http.StatusNotFound, errNoFormingCandle)
		return
	}
	c.JSON(http.StatusOK, candle)
}

// getCandlesHistory serves persisted candles in a time range
// @Summary      Candle history
// @Tags         candles
// @Produce      json
// @Param        symbol     query     string  true  "Instrument symbol"
// @Param        timeframe  query     string  true  "Timeframe, e.g. 1m"
// @Param        from       query     string  true  "Start time (RFC3339)"
// @Param        to         query     string  true  "End time (RFC3339)"
// @Success      200        {array}   market.Candle
// @Failure      400        {object}  map[string]string
// @Failure      500        {object}  map[string]string
// @Router       /candles/history [get]
func (h *Handler) getCandlesHistory(c *gin.Context) {
	symbol, timeframe, err := parseSymbolAndTimeframe(c)
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	from, to, err := parseTimeRange(c)
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	candles, err := h.deps.Archive.CandlesBetween(c.Request.Context(), symbol, timeframe, from, to)
	if err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	if candles == nil {
		candles = []market.Candle{}
	}
	c.JSON(http.StatusOK, candles)
}

// listInstruments lists the instrument catalog
// @Summary      List instruments
// @Tags         instruments
// @Produce      json
// @Success      200  {array}   domaininstruments.Instrument
// @Failure      500  {object}  map[string]string
// @Router       /instruments [get]
func (h *Handler) listInstruments(c *gin.Context) {
	items, err := h.deps.Catalog.List(c.Request.Context())
	if err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	if items == nil {
		items = []domaininstruments.Instrument{}
	}
	c.JSON(http.StatusOK, items)
}

// getInstrument retrieves one instrument by symbol
// @Summary      Get instrument
// @Tags         instruments
// @Produce      json
// @Param        symbol  path      string  true  "Instrument symbol"
// @Success      200     {object}  domaininstruments.Instrument
// @Failure      404     {object}  map[string]string
// @Failure      500     {object}  map[string]string
// @Router       /instruments/{symbol} [get]
func (h *Handler) getInstrument(c *gin.Context) {
	item, err := h.deps.Catalog.GetBySymbol(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		if errors.Is(err, infrainstruments.ErrInstrumentNotFound) {
			writeError(c, http.StatusNotFound, err)
			return
		}
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// Helpers

func writeError(c *gin.Context, status int, err error) {
	if err == nil {
		status = http.StatusInternalServerError
		err = errors.New("unknown error")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func parseSymbolAndTimeframe(c *gin.Context) (string, time.Duration, error) {
	symbol := c.Query("symbol")
	if symbol == "" {
		return "", 0, errMissingSymbol
	}
	raw := c.Query("timeframe")
	if raw == "" {
		return "", 0, errMissingTimeframe
	}
	timeframe, err := time.ParseDuration(raw)
	if err != nil || timeframe <= 0 {
		return "", 0, fmt.Errorf("invalid timeframe %q", raw)
	}
	return symbol, timeframe, nil
}

func parseIntQuery(c *gin.Context, key string) (int, error) {
	value := c.Query(key)
	if value == "" {
		return 0, fmt.Errorf("%s query param required", key)
	}
	return strconv.Atoi(value)
}

func parseTimeRange(c *gin.Context) (time.Time, time.Time, error) {
	fromStr := c.Query("from")
	toStr := c.Query("to")
	if fromStr == "" || toStr == "" {
		return time.Time{}, time.Time{}, errMissingRange
	}
	from, err := time.Parse(time.RFC3339, fromStr)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := time.Parse(time.RFC3339, toStr)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return from, to, nil
}

// cacheMiddleware caches GET responses in Redis.
func (h *Handler) cacheMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.deps.Cache == nil || c.Request.Method != http.MethodGet {
			c.Next()
			return
		}

		key := h.cacheKey(c)
		ctx := c.Request.Context()

		if cached, err := h.deps.Cache.Get(ctx, key).Result(); err == nil {
			c.Data(http.StatusOK, "application/json", []byte(cached))
			c.Abort()
			return
		}

		recorder := &responseRecorder{
			ResponseWriter: c.Writer,
			status:         http.StatusOK,
			body:           &bytes.Buffer{},
		}
		c.Writer = recorder

		c.Next()

		if recorder.status >= 200 && recorder.status < 300 && recorder.body.Len() > 0 {
			_ = h.deps.Cache.Set(ctx, key, recorder.body.Bytes(), h.deps.CacheTTL).Err()
		}
	}
}

type responseRecorder struct {
	gin.ResponseWriter
	body   *bytes.Buffer
	status int
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(data []byte) (int, error) {
	if len(data) > 0 {
		r.body.Write(data)
	}
	return r.ResponseWriter.Write(data)
}

func (h *Handler) cacheKey(c *gin.Context) string {
	return fmt.Sprintf("cache:%s:%s?%s", c.Request.Method, c.FullPath(), c.Request.URL.RawQuery)
}
