package main

import (
	"fmt"

	"wallet_session/internal/app/port"
	"wallet_session/internal/app/provider"
	"wallet_session/internal/app/service"
	"wallet_session/internal/domain/entity"
	"wallet_session/internal/infrastructure/configloader"
	"wallet_session/internal/infrastructure/contract"
	evmclient "wallet_session/internal/infrastructure/network/client"
	networkdefinition "wallet_session/internal/infrastructure/network/definition"
	"wallet_session/internal/infrastructure/transport"
	"wallet_session/internal/infrastructure/transport/relay"
	"wallet_session/internal/pkg/logger"
	"wallet_session/internal/pkg/metrics"

	"go.uber.org/zap"
)

// application holds everything a command may need. Nothing here dials a network or a wallet.
type application struct {
	cfg      *configloader.Config
	zap      *zap.Logger
	logger   port.Logger
	networks *networkdefinition.NetworkDescriptorProvider
	readers  port.ChainReaderProvider
	registry *contract.Registry
	records  *service.RecordServiceImpl
	board    *relay.Board
	detector *transport.Detector
	session  *service.WalletSessionImpl
}

func buildApplication(cfgPath string, onPairing func(relay.Pairing)) (*application, error) {
	cfg, err := configloader.Load(configloader.ResolvePath(cfgPath))
	if err != nil {
		return nil, err
	}

	zapLogger, err := logger.Init(logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, File: cfg.Logging.File})
	if err != nil {
		return nil, err
	}
	appLogger := logger.NewSlogAdapter()
	if cfg.Metrics.Enabled {
		metrics.MustRegisterMetrics()
	}

	var extra []entity.NetworkDescriptor
	if cfg.Network.DefinitionsFile != "" {
		extra, err = networkdefinition.LoadDescriptorsFile(cfg.Network.DefinitionsFile)
		if err != nil {
			return nil, err
		}
	}
	networks, err := networkdefinition.NewNetworkDescriptorProvider(appLogger, cfg.Network.Target, extra)
	if err != nil {
		return nil, fmt.Errorf("failed to set up networks: %w", err)
	}

	readers := evmclient.NewEVMClientProvider(appLogger,
		configloader.Millis(cfg.RPCClient.ConnectTimeoutMillis),
		configloader.Millis(cfg.RPCClient.CallTimeoutMillis))

	deployments, err := provider.NewDeploymentProvider(cfg.Contracts.Dir, networks, appLogger).GetDeployments()
	if err != nil {
		return nil, fmt.Errorf("failed to load contract deployments: %w", err)
	}
	registry, err := contract.NewRegistry(deployments, networks, readers, appLogger)
	if err != nil {
		return nil, fmt.Errorf("invalid contract address book: %w", err)
	}
	records := service.NewRecordService(registry, service.RecordServiceConfig{
		Batch:             cfg.BatchReads(),
		MaxBatchSize:      cfg.Listing.MaxBatchSize,
		Concurrency:       cfg.Listing.Concurrency,
		RequestsPerSecond: cfg.Listing.RequestsPerSecond,
		CacheTTL:          cfg.ListingCacheTTL(),
	}, appLogger)

	board := relay.NewBoard(onPairing)
	t := cfg.Transports
	detector := transport.NewDetector(transport.DetectorConfig{
		Injected:  transport.Endpoint{URL: t.Injected.URL, NoChainSwitch: t.Injected.NoChainSwitch},
		Dedicated: transport.Endpoint{URL: t.Dedicated.URL, NoChainSwitch: t.Dedicated.NoChainSwitch},
		Relay: relay.Config{
			URL:             t.Relay.URL,
			RequestTimeout:  configloader.Millis(t.Relay.RequestTimeoutMillis),
			PollInterval:    configloader.Millis(t.Relay.PollIntervalMillis),
			ApprovalTimeout: configloader.Millis(int64(t.Relay.ApprovalTimeoutSeconds) * 1000),
			Dapp: relay.DappMetadata{
				Name:    t.Relay.DappName,
				URL:     t.Relay.DappURL,
				ChainID: networks.Target().ChainIDHex,
			},
		},
		ProbeTimeout: configloader.Millis(t.ProbeTimeoutMillis),
		PollInterval: configloader.Millis(t.PollIntervalMillis),
	}, board, zapLogger)

	session := service.NewWalletSession(detector, networks.Target(), service.SessionConfig{
		ConnectTimeout: cfg.ConnectTimeout(),
	}, logger.With(appLogger, "component", "WalletSession"))

	zapLogger.Info("Application initialized",
		zap.String("target", networks.Target().Identifier),
		zap.Int("contracts", len(deployments)),
		zap.Stringer("detector", detector))

	return &application{
		cfg:      cfg,
		zap:      zapLogger,
		logger:   appLogger,
		networks: networks,
		readers:  readers,
		registry: registry,
		records:  records,
		board:    board,
		detector: detector,
		session:  session,
	}, nil
}

// Close disconnects the wallet and releases RPC clients.
func (a *application) Close() {
	_ = a.session.Close()
	a.readers.Close()
	logger.Sync()
}
