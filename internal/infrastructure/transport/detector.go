// Package transport resolves transport kinds into live wallet connections.
package transport

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"wallet_session/internal/app/port"
	"wallet_session/internal/domain/entity"
	"wallet_session/internal/infrastructure/transport/memwallet"
	"wallet_session/internal/infrastructure/transport/relay"
	"wallet_session/internal/pkg/logger"

	"go.uber.org/zap"
)

// MemoryScheme selects the in-process wallet, e.g. memory://dev?chain=1&switch=false.
const MemoryScheme = "memory"

// Endpoint is where a local wallet of one kind listens.
type Endpoint struct {
	URL           string
	NoChainSwitch bool
}

// DetectorConfig lists the endpoints the detector may try.
type DetectorConfig struct {
	Injected     Endpoint
	Dedicated    Endpoint
	Relay        relay.Config
	ProbeTimeout time.Duration
	PollInterval time.Duration
}

// Detector implements port.TransportDetector.
type Detector struct {
	cfg    DetectorConfig
	sink   relay.PairingSink
	zap    *zap.Logger
	logger port.Logger

	mu     sync.Mutex
	memory map[string]*memwallet.Wallet
}

// NewDetector creates a detector. sink receives relay pairings and may be nil.
func NewDetector(cfg DetectorConfig, sink relay.PairingSink, zapLogger *zap.Logger) *Detector {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	return &Detector{
		cfg:    cfg,
		sink:   sink,
		zap:    zapLogger.Named("TransportDetector"),
		logger: logger.FromZap(zapLogger.Named("TransportDetector")),
		memory: make(map[string]*memwallet.Wallet),
	}
}

// Detect resolves kind into a live transport or fails with NoProviderDetected.
func (d *Detector) Detect(ctx context.Context, kind entity.TransportKind) (port.WalletTransport, error) {
	switch kind {
	case entity.TransportInjected:
		return d.local(ctx, kind, d.cfg.Injected)
	case entity.TransportDedicated:
		return d.local(ctx, kind, d.cfg.Dedicated)
	case entity.TransportRemote:
		if d.cfg.Relay.URL == "" {
			return nil, entity.Errorf(entity.KindNoProviderDetected, "no wallet relay configured")
		}
		t, err := relay.Pair(ctx, d.cfg.Relay, d.sink, d.zap)
		if err != nil {
			return nil, err
		}
		return t, nil
	default:
		return nil, entity.Errorf(entity.KindNoProviderDetected, "unknown transport kind %q", kind)
	}
}

func (d *Detector) local(ctx context.Context, kind entity.TransportKind, ep Endpoint) (port.WalletTransport, error) {
	if ep.URL == "" {
		return nil, entity.Errorf(entity.KindNoProviderDetected, "no %s wallet configured", kind)
	}
	if strings.HasPrefix(ep.URL, MemoryScheme+"://") {
		return d.memoryWallet(kind, ep.URL)
	}

	probeCtx, cancel := context.WithTimeout(ctx, d.cfg.ProbeTimeout)
	defer cancel()
	t, err := DialRPCTransport(probeCtx, kind, ep.URL, RPCOptions{NoChainSwitch: ep.NoChainSwitch, PollInterval: d.cfg.PollInterval}, d.logger)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (d *Detector) memoryWallet(kind entity.TransportKind, raw string) (port.WalletTransport, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, entity.NewSessionError(entity.KindNoProviderDetected, "invalid memory wallet url", err)
	}
	key := string(kind) + "/" + u.Host

	d.mu.Lock()
	defer d.mu.Unlock()
	if w, ok := d.memory[key]; ok {
		return w, nil
	}

	opts := memwallet.Options{Kind: kind}
	q := u.Query()
	if v := q.Get("chain"); v != "" {
		id, err := entity.ParseChainID(v)
		if err != nil {
			return nil, entity.NewSessionError(entity.KindNoProviderDetected, "invalid memory wallet chain", err)
		}
		opts.ChainID = id
	}
	if v := q.Get("switch"); v != "" {
		allowed, err := strconv.ParseBool(v)
		if err != nil {
			return nil, entity.NewSessionError(entity.KindNoProviderDetected, "invalid memory wallet switch flag", err)
		}
		opts.NoSwitch = !allowed
	}
	w, err := memwallet.New(opts)
	if err != nil {
		return nil, entity.NewSessionError(entity.KindNoProviderDetected, "memory wallet unavailable", err)
	}
	d.memory[key] = w
	d.logger.Info("Created in-memory wallet", "kind", kind, "name", u.Host, "account", w.Accounts()[0].Hex(), "chain_id", w.ChainID())
	return w, nil
}

// MemoryWallet returns the in-memory wallet created for kind, if any.
func (d *Detector) MemoryWallet(kind entity.TransportKind) (*memwallet.Wallet, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, w := range d.memory {
		if strings.HasPrefix(key, string(kind)+"/") {
			return w, true
		}
	}
	return nil, false
}

func (d *Detector) String() string {
	return fmt.Sprintf("Detector(injected=%q dedicated=%q relay=%q)", d.cfg.Injected.URL, d.cfg.Dedicated.URL, d.cfg.Relay.URL)
}

var _ port.TransportDetector = (*Detector)(nil)
