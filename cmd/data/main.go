package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	investgo "github.com/russianinvestments/invest-api-go-sdk/investgo"
	pb "github.com/russianinvestments/invest-api-go-sdk/proto"
	"github.com/sirupsen/logrus"

	"github.com/tushaar82/VELOX-v2-kafka-redis-influx-sub001/internal/config"
	domain "github.com/tushaar82/VELOX-v2-kafka-redis-influx-sub001/internal/domain/entity/instruments"
	infrainstruments "github.com/tushaar82/VELOX-v2-kafka-redis-influx-sub001/internal/infrastructure/instruments"
)

const appName = "velox-data-loader"

// The loader syncs the tradable share catalog from the exchange API into
// the instruments table the engine and the ops API read.
func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.LoadCatalogSync(appName)
	if err != nil {
		logger.Fatalf("config error: %v", err)
	}

	repo, err := infrainstruments.NewRepository(ctx, cfg.DatabaseDSN)
	if err != nil {
		logger.Fatalf("connect postgres: %v", err)
	}
	defer repo.Close()

	investCfg := investgo.Config{
		EndPoint:           cfg.Invest.Endpoint,
		Token:              cfg.Invest.Token,
		AppName:            cfg.Invest.AppName,
		InsecureSkipVerify: cfg.Invest.SkipTLSVerify,
	}
	client, err := investgo.NewClient(ctx, investCfg, logger)
	if err != nil {
		logger.Fatalf("create invest api client: %v", err)
	}
	defer func() {
		if stopErr := client.Stop(); stopErr != nil {
			logger.Errorf("stop invest api client: %v", stopErr)
		}
	}()

	instrumentClient := client.NewInstrumentsServiceClient()

	shares, err := fetchShares(instrumentClient)
	if err != nil {
		logger.Fatalf("fetch shares: %v", err)
	}

	items := prepareInstruments(shares, cfg.Symbols, logger)
	if len(items) == 0 {
		logger.Fatal("no instruments matched the sync filter")
	}

	if err := repo.UpsertInstruments(ctx, items); err != nil {
		logger.Fatalf("save instruments: %v", err)
	}
	logger.WithField("instruments", len(items)).Info("instrument catalog synced")
}

func fetchShares(client *investgo.InstrumentsServiceClient) ([]*pb.Share, error) {
	resp, err := client.Shares(pb.InstrumentStatus_INSTRUMENT_STATUS_BASE)
	if err != nil {
		return nil, fmt.Errorf("get shares: %w", err)
	}
	return resp.GetInstruments(), nil
}

// prepareInstruments maps exchange shares onto catalog rows. An optional
// symbol filter narrows the sync to the tickers the engine actually trades.
func prepareInstruments(shares []*pb.Share, symbols []string, logger *logrus.Logger) []domain.Instrument {
	var filter map[string]struct{}
	if len(symbols) > 0 {
		filter = make(map[string]struct{}, len(symbols))
		for _, symbol := range symbols {
			filter[strings.ToUpper(strings.TrimSpace(symbol))] = struct{}{}
		}
	}

	items := make([]domain.Instrument, 0, len(shares))
	seen := make(map[string]struct{}, len(shares))
	for _, share := range shares {
		if share == nil {
			continue
		}
		ticker := strings.ToUpper(strings.TrimSpace(share.GetTicker()))
		if ticker == "" {
			logger.WithField("uid", share.GetUid()).Warn("skip share without ticker")
			continue
		}
		if filter != nil {
			if _, ok := filter[ticker]; !ok {
				continue
			}
		}
		if _, ok := seen[ticker]; ok {
			logger.WithField("symbol", ticker).Warn("skip duplicate ticker")
			continue
		}
		seen[ticker] = struct{}{}

		items = append(items, domain.Instrument{
			UID:      parseShareUID(share.GetUid(), ticker),
			Symbol:   ticker,
			FIGI:     strings.TrimSpace(share.GetFigi()),
			Exchange: strings.TrimSpace(share.GetExchange()),
			Currency: strings.ToUpper(strings.TrimSpace(share.GetCurrency())),
			Lot:      share.GetLot(),
		})
	}
	return items
}

func parseShareUID(rawID, ticker string) uuid.UUID {
	if id, err := uuid.Parse(strings.TrimSpace(rawID)); err == nil {
		return id
	}
	return stableUUID(uuid.NameSpaceOID, "instrument:"+strings.ToLower(ticker))
}

func stableUUID(namespace uuid.UUID, value string) uuid.UUID {
	if value == "" {
		return uuid.New()
	}
	return uuid.NewSHA1(namespace, []byte(value))
}
