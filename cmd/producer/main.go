package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	investgo "github.com/russianinvestments/invest-api-go-sdk/investgo"
	pb "github.com/russianinvestments/invest-api-go-sdk/proto"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/tushaar82/VELOX-v2-kafka-redis-influx-sub001/internal/config"
	market "github.com/tushaar82/VELOX-v2-kafka-redis-influx-sub001/internal/domain/entity/market"
	"github.com/tushaar82/VELOX-v2-kafka-redis-influx-sub001/internal/infrastructure/feed"
)

const appName = "velox-producer"

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.LoadProducer(appName)
	if err != nil {
		logger.Fatalf("config error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rabbitConn, err := amqp.Dial(cfg.Broker.URL)
	if err != nil {
		logger.Fatalf("connect rabbitmq: %v", err)
	}
	defer rabbitConn.Close()

	pub, err := newPublisher(rabbitConn, cfg.Broker.TicksExchange, logger)
	if err != nil {
		logger.Fatalf("init publisher: %v", err)
	}
	defer pub.Close()

	var runErr error
	switch cfg.Mode {
	case "live":
		runErr = runLive(ctx, cfg, pub, logger)
	case "replay":
		runErr = runReplay(ctx, cfg.Replay, pub, logger)
	default:
		logger.Fatalf("unknown producer mode %q", cfg.Mode)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Fatalf("producer stopped with error: %v", runErr)
	}

	logger.Info("producer stopped")
}

// runLive subscribes to the exchange trade stream and republishes every
// print as a tick keyed by the catalog symbol.
func runLive(ctx context.Context, cfg *config.ProducerConfig, pub *publisher, logger *logrus.Logger) error {
	symbolsByFigi, err := readInstruments(cfg.InstrumentsFile)
	if err != nil {
		return err
	}
	if len(symbolsByFigi) == 0 {
		return errors.New("instruments file maps no figis")
	}
	figis := make([]string, 0, len(symbolsByFigi))
	for figi := range symbolsByFigi {
		figis = append(figis, figi)
	}
	sort.Strings(figis)

	investCfg := investgo.Config{
		EndPoint:           cfg.Invest.Endpoint,
		Token:              cfg.Invest.Token,
		AppName:            cfg.Invest.AppName,
		InsecureSkipVerify: cfg.Invest.SkipTLSVerify,
	}
	client, err := investgo.NewClient(ctx, investCfg, logger)
	if err != nil {
		return fmt.Errorf("create invest api client: %w", err)
	}
	defer func() {
		if stopErr := client.Stop(); stopErr != nil {
			logger.Errorf("stop invest api client: %v", stopErr)
		}
	}()

	mdClient := client.NewMarketDataStreamClient()
	stream, err := mdClient.MarketDataStream()
	if err != nil {
		return fmt.Errorf("create market data stream: %w", err)
	}
	defer stream.Stop()

	tradeChan, err := stream.SubscribeTrade(figis, pb.TradeSourceType_TRADE_SOURCE_EXCHANGE, false)
	if err != nil {
		return fmt.Errorf("subscribe trades: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return stream.Listen()
	})
	g.Go(func() error {
		return pumpTrades(gctx, tradeChan, symbolsByFigi, pub, logger)
	})

	logger.WithFields(logrus.Fields{
		"instruments": len(figis),
		"exchange":    pub.exchange,
	}).Info("live producer started")

	return g.Wait()
}

// runReplay publishes a recorded tick file in timestamp order. Tick
// timestamps are published untouched so the aggregation grid downstream is
// identical run after run; Speed only scales the pacing between publishes.
func runReplay(ctx context.Context, cfg config.ReplayConfig, pub *publisher, logger *logrus.Logger) error {
	ticks, err := readTicks(cfg.File)
	if err != nil {
		return err
	}
	if len(ticks) == 0 {
		return errors.New("replay file holds no ticks")
	}

	logger.WithFields(logrus.Fields{
		"ticks": len(ticks),
		"speed": cfg.Speed,
		"file":  cfg.File,
	}).Info("replay producer started")

	var prev time.Time
	for i, tick := range ticks {
		if i > 0 && cfg.Speed > 0 {
			if gap := tick.Timestamp.Sub(prev); gap > 0 {
				wait := time.Duration(float64(gap) / cfg.Speed)
				timer := time.NewTimer(wait)
				select {
				case <-ctx.Done():
					timer.Stop()
					return ctx.Err()
				case <-timer.C:
				}
			}
		}
		prev = tick.Timestamp

		if err := pub.PublishTick(ctx, tick); err != nil {
			return fmt.Errorf("publish tick: %w", err)
		}
	}

	logger.WithField("ticks", len(ticks)).Info("replay finished")
	return nil
}

func pumpTrades(ctx context.Context, stream <-chan *pb.Trade, symbolsByFigi map[string]string, pub *publisher, logger *logrus.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case trade, ok := <-stream:
			if !ok {
				return nil
			}
			tick, err := convertTrade(trade, symbolsByFigi)
			if err != nil {
				logger.WithError(err).Warn("skip trade")
				continue
			}
			if err := pub.PublishTick(ctx, tick); err != nil {
				return fmt.Errorf("publish tick: %w", err)
			}
		}
	}
}

func convertTrade(msg *pb.Trade, symbolsByFigi map[string]string) (market.Tick, error) {
	if msg == nil {
		return market.Tick{}, errors.New("trade payload is nil")
	}
	figi := strings.TrimSpace(msg.GetFigi())
	symbol, ok := symbolsByFigi[figi]
	if !ok {
		return market.Tick{}, fmt.Errorf("no symbol mapped for figi %q", figi)
	}

	tradedAt := time.Time{}
	if ts := msg.GetTime(); ts != nil {
		tradedAt = ts.AsTime().UTC()
	}

	return market.Tick{
		Symbol:    symbol,
		Price:     quotationToFloat(msg.GetPrice()),
		Volume:    msg.GetQuantity(),
		Timestamp: tradedAt,
	}, nil
}

func quotationToFloat(q *pb.Quotation) float64 {
	if q == nil {
		return 0
	}
	return q.ToFloat()
}

// readInstruments loads the figi -> symbol map the live stream needs: the
// exchange API keys subscriptions by FIGI while the engine keys everything
// by ticker symbol.
func readInstruments(path string) (map[string]string, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read instruments file: %w", err)
	}
	var payload struct {
		Instruments []struct {
			Figi   string `json:"figi"`
			Symbol string `json:"symbol"`
		} `json:"instruments"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("parse instruments file: %w", err)
	}
	symbolsByFigi := make(map[string]string, len(payload.Instruments))
	for _, entry := range payload.Instruments {
		figi := strings.TrimSpace(entry.Figi)
		symbol := strings.TrimSpace(entry.Symbol)
		if figi == "" || symbol == "" {
			continue
		}
		symbolsByFigi[figi] = symbol
	}
	return symbolsByFigi, nil
}

func readTicks(path string) ([]market.Tick, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read replay file: %w", err)
	}
	var ticks []market.Tick
	if err := json.Unmarshal(data, &ticks); err != nil {
		return nil, fmt.Errorf("parse replay file: %w", err)
	}
	return ticks, nil
}

type publisher struct {
	channel  *amqp.Channel
	exchange string
	logger   *logrus.Logger
	mu       sync.Mutex
}

func newPublisher(conn *amqp.Connection, exchange string, logger *logrus.Logger) (*publisher, error) {
	if exchange == "" {
		return nil, errors.New("exchange name cannot be empty")
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("create channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "fanout", true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &publisher{
		channel:  ch,
		exchange: exchange,
		logger:   logger,
	}, nil
}

func (p *publisher) Close() {
	if p == nil {
		return
	}
	if err := p.channel.Close(); err != nil {
		p.logger.Errorf("close rabbitmq channel: %v", err)
	}
}

func (p *publisher) PublishTick(ctx context.Context, tick market.Tick) error {
	body, err := json.Marshal(feed.TickMessage{Tick: &tick})
	if err != nil {
		return fmt.Errorf("marshal tick: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	return p.channel.PublishWithContext(ctx, p.exchange, "", false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
}
