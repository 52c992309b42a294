package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"wallet_session/internal/app/port"
	"wallet_session/internal/domain/entity"
	"wallet_session/internal/pkg/metrics"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

const (
	providerEventBuffer = 16
	connectKey          = "connect"
)

// SessionConfig tunes the wallet session.
type SessionConfig struct {
	// ConnectTimeout bounds a whole connect attempt on top of the caller's context. Zero means no extra bound.
	ConnectTimeout time.Duration
}

// WalletSessionImpl implements port.WalletSession.
//
// State is guarded by mu and changed only by Connect, Disconnect and the event pump of the
// current link. Session events are published after mu is released.
type WalletSessionImpl struct {
	detector port.TransportDetector
	target   entity.NetworkDescriptor
	logger   port.Logger
	cfg      SessionConfig

	connectGroup singleflight.Group
	feed         event.FeedOf[entity.SessionEvent]

	mu      sync.Mutex
	conn    entity.WalletConnection
	signer  *WalletSigner
	link    *sessionLink
	attempt uint64 // bumped by every connect and disconnect; a connect commits only if it is still current
}

// sessionLink is one connected transport plus the goroutine pumping its events.
type sessionLink struct {
	transport port.WalletTransport
	sub       event.Subscription
	events    chan entity.ProviderEvent
	quit      chan struct{}
	done      chan struct{}
	stopOnce  sync.Once
}

func newSessionLink(t port.WalletTransport) *sessionLink {
	return &sessionLink{
		transport: t,
		events:    make(chan entity.ProviderEvent, providerEventBuffer),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// stop ends the pump. wait must be false when called from the pump itself.
func (l *sessionLink) stop(wait bool) {
	l.stopOnce.Do(func() { close(l.quit) })
	if wait {
		<-l.done
	}
}

// NewWalletSession creates a disconnected session that keeps wallets on target.
func NewWalletSession(detector port.TransportDetector, target entity.NetworkDescriptor, cfg SessionConfig, logger port.Logger) *WalletSessionImpl {
	return &WalletSessionImpl{
		detector: detector,
		target:   target,
		logger:   logger,
		cfg:      cfg,
		conn:     entity.WalletConnection{Status: entity.StatusDisconnected},
	}
}

// Connect connects through the given transport kind, moving the wallet to the target network first.
// Overlapping calls share the attempt in flight, whatever kind they asked for.
func (s *WalletSessionImpl) Connect(ctx context.Context, kind entity.TransportKind) (entity.WalletConnection, error) {
	v, err, shared := s.connectGroup.Do(connectKey, func() (any, error) {
		return s.connect(ctx, kind)
	})
	if shared {
		s.logger.Debug("Connect joined an attempt in flight", "requested_kind", kind)
	}
	conn, _ := v.(entity.WalletConnection)
	return conn, err
}

func (s *WalletSessionImpl) connect(ctx context.Context, kind entity.TransportKind) (entity.WalletConnection, error) {
	start := time.Now()
	if s.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ConnectTimeout)
		defer cancel()
	}

	s.mu.Lock()
	if s.conn.Status == entity.StatusConnected && s.conn.Transport == kind {
		snap := s.conn
		if snap.NetworkMismatch {
			l, attempt := s.link, s.attempt
			s.mu.Unlock()
			return s.realign(ctx, l, attempt, *snap.ChainID)
		}
		s.mu.Unlock()
		s.logger.Debug("Already connected", "kind", kind, "account", snap.Account.Hex())
		return snap, nil
	}
	from := s.conn.Status
	old := s.detachLocked()
	s.attempt++
	attempt := s.attempt
	s.conn = entity.WalletConnection{Status: entity.StatusConnecting, Transport: kind}
	startEvent := s.eventLocked(entity.EventStateChanged, nil)
	s.mu.Unlock()

	if old != nil {
		s.logger.Info("Replacing wallet link", "old_kind", old.transport.Kind(), "new_kind", kind)
		s.closeLink(old, true)
	}
	observeTransition(from, entity.StatusConnecting)
	s.publish(startEvent)
	s.logger.Info("Connecting wallet", "kind", kind, "target_chain", s.target.ChainIDHex)

	t, chainID, account, err := s.establish(ctx, kind)
	if err != nil {
		return s.fail(attempt, kind, t, err, start)
	}

	l := newSessionLink(t)
	sub, err := t.SubscribeEvents(ctx, l.events)
	if err != nil {
		return s.fail(attempt, kind, t, s.classify(ctx, err, entity.KindTransportError, "could not subscribe to wallet events"), start)
	}
	l.sub = sub

	s.mu.Lock()
	if s.attempt != attempt {
		s.mu.Unlock()
		sub.Unsubscribe()
		_ = t.Close()
		metrics.ConnectAttempts.WithLabelValues(string(kind), string(entity.KindUserRejected)).Inc()
		s.logger.Info("Connect superseded by disconnect", "kind", kind)
		return s.Snapshot(), entity.Errorf(entity.KindUserRejected, "connect was cancelled by disconnect")
	}
	s.signer = NewWalletSigner(t, account, chainID)
	s.link = l
	s.conn = entity.WalletConnection{
		Status:      entity.StatusConnected,
		Transport:   kind,
		Account:     &account,
		ChainID:     &chainID,
		Signer:      s.signer,
		ConnectedAt: time.Now().UTC(),
	}
	snap := s.conn
	connectedEvent := s.eventLocked(entity.EventStateChanged, nil)
	s.mu.Unlock()

	go s.pump(l)

	observeTransition(entity.StatusConnecting, entity.StatusConnected)
	metrics.ConnectAttempts.WithLabelValues(string(kind), "ok").Inc()
	metrics.ConnectDuration.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
	s.logger.Info("Wallet connected", "kind", kind, "account", account.Hex(), "chain_id", chainID, "elapsed", time.Since(start))
	s.publish(connectedEvent)
	return snap, nil
}

// establish runs detection, chain negotiation and the account request. The returned transport
// is non-nil whenever detection succeeded, so the caller can close it on failure.
func (s *WalletSessionImpl) establish(ctx context.Context, kind entity.TransportKind) (port.WalletTransport, uint64, common.Address, error) {
	t, err := s.detector.Detect(ctx, kind)
	if err != nil {
		return nil, 0, common.Address{}, s.classify(ctx, err, entity.KindNoProviderDetected, fmt.Sprintf("no %s wallet detected", kind))
	}

	var current entity.WalletChainID
	if err := t.Request(ctx, &current, "eth_chainId"); err != nil {
		return t, 0, common.Address{}, s.classify(ctx, err, entity.KindTransportError, "could not read the wallet chain")
	}
	chainID := uint64(current)
	if chainID == s.target.ChainID {
		metrics.ChainSteps.WithLabelValues("skip", "ok").Inc()
		s.logger.Debug("Wallet already on target network", "chain_id", chainID)
	} else {
		if err := s.negotiateChain(ctx, t, chainID); err != nil {
			return t, 0, common.Address{}, err
		}
		chainID = s.target.ChainID
	}

	var accounts []common.Address
	if err := t.Request(ctx, &accounts, "eth_requestAccounts"); err != nil {
		return t, 0, common.Address{}, s.classify(ctx, err, entity.KindTransportError, "account request failed")
	}
	if len(accounts) == 0 {
		return t, 0, common.Address{}, entity.Errorf(entity.KindNoAccountsReturned, "%s wallet returned no accounts", kind)
	}
	return t, chainID, accounts[0], nil
}

// realign moves a connected wallet that wandered off the target network back onto it.
// The link and account are kept; a failure leaves the session connected with the mismatch flag set.
func (s *WalletSessionImpl) realign(ctx context.Context, l *sessionLink, attempt uint64, current uint64) (entity.WalletConnection, error) {
	kind := l.transport.Kind()
	s.logger.Info("Connected wallet is off the target network, switching back", "kind", kind, "chain_id", current, "target_chain", s.target.ChainIDHex)
	if err := s.negotiateChain(ctx, l.transport, current); err != nil {
		se := entity.AsSessionError(err, entity.KindChainSetupFailed)
		metrics.ConnectAttempts.WithLabelValues(string(kind), string(se.Kind)).Inc()
		s.logger.Warn("Could not move wallet back to the target network", "kind", kind, "error_kind", se.Kind, "error", se)
		return s.Snapshot(), se
	}

	s.mu.Lock()
	if s.attempt != attempt || s.link != l {
		snap := s.conn
		s.mu.Unlock()
		return snap, entity.Errorf(entity.KindUserRejected, "connect was cancelled by disconnect")
	}
	var events []entity.SessionEvent
	// The pump may already have applied the wallet's chainChanged.
	if s.conn.NetworkMismatch {
		chainID := s.target.ChainID
		s.signer = NewWalletSigner(l.transport, *s.conn.Account, chainID)
		s.conn.ChainID = &chainID
		s.conn.Signer = s.signer
		s.conn.NetworkMismatch = false
		events = append(events, s.eventLocked(entity.EventChainChanged, nil))
	}
	snap := s.conn
	s.mu.Unlock()

	metrics.ConnectAttempts.WithLabelValues(string(kind), "ok").Inc()
	s.logger.Info("Wallet back on target network", "kind", kind, "chain_id", *snap.ChainID)
	s.publish(events...)
	return snap, nil
}

// negotiateChain switches the wallet to the target, registering the network when the wallet does not know it.
func (s *WalletSessionImpl) negotiateChain(ctx context.Context, t port.WalletTransport, current uint64) error {
	if !t.SupportsChainSwitch() {
		metrics.ChainSteps.WithLabelValues("switch", "unsupported").Inc()
		return entity.Errorf(entity.KindChainSetupFailed, "wallet is on chain %d and cannot be switched to %s (%d)",
			current, s.target.DisplayName, s.target.ChainID)
	}

	s.logger.Debug("Switching wallet network", "from", current, "to", s.target.ChainIDHex)
	err := t.Request(ctx, nil, "wallet_switchEthereumChain", s.target.SwitchParams())
	if err == nil {
		metrics.ChainSteps.WithLabelValues("switch", "ok").Inc()
		return nil
	}
	if ctx.Err() != nil || entity.IsUserRejection(err) {
		metrics.ChainSteps.WithLabelValues("switch", "rejected").Inc()
		return s.classify(ctx, err, entity.KindChainSetupFailed, "network switch failed")
	}
	if !entity.IsUnrecognizedChain(err) {
		metrics.ChainSteps.WithLabelValues("switch", "failed").Inc()
		return entity.NewSessionError(entity.KindChainSetupFailed, "network switch failed", err)
	}
	metrics.ChainSteps.WithLabelValues("switch", "unrecognized").Inc()

	s.logger.Info("Wallet does not know the target network, registering it", "chain_id", s.target.ChainIDHex, "name", s.target.DisplayName)
	if err := t.Request(ctx, nil, "wallet_addEthereumChain", s.target.AddParams()); err != nil {
		metrics.ChainSteps.WithLabelValues("add", "failed").Inc()
		if ctx.Err() != nil || entity.IsUserRejection(err) {
			return s.classify(ctx, err, entity.KindChainSetupFailed, "network registration failed")
		}
		return entity.NewSessionError(entity.KindChainSetupFailed, "network registration failed", err)
	}
	metrics.ChainSteps.WithLabelValues("add", "ok").Inc()

	if err := t.Request(ctx, nil, "wallet_switchEthereumChain", s.target.SwitchParams()); err != nil {
		metrics.ChainSteps.WithLabelValues("retry_switch", "failed").Inc()
		if ctx.Err() != nil || entity.IsUserRejection(err) {
			return s.classify(ctx, err, entity.KindChainSetupFailed, "network switch failed")
		}
		return entity.NewSessionError(entity.KindChainSetupFailed, "network switch failed after registration", err)
	}
	metrics.ChainSteps.WithLabelValues("retry_switch", "ok").Inc()
	return nil
}

// classify turns a wallet failure into a SessionError. An expired or cancelled context counts as a
// rejection, since the prompt was left unanswered.
func (s *WalletSessionImpl) classify(ctx context.Context, err error, fallback entity.ErrorKind, message string) *entity.SessionError {
	if ctx.Err() != nil {
		return entity.NewSessionError(entity.KindUserRejected, "wallet did not answer in time", err)
	}
	var se *entity.SessionError
	if errors.As(err, &se) {
		return se
	}
	if entity.IsUserRejection(err) {
		return entity.NewSessionError(entity.KindUserRejected, "user rejected the request", err)
	}
	return entity.NewSessionError(fallback, message, err)
}

func (s *WalletSessionImpl) fail(attempt uint64, kind entity.TransportKind, t port.WalletTransport, err error, start time.Time) (entity.WalletConnection, error) {
	se := entity.AsSessionError(err, entity.KindTransportError)
	if t != nil {
		if cerr := t.Close(); cerr != nil {
			s.logger.Debug("Closing transport after failed connect", "error", cerr)
		}
	}

	s.mu.Lock()
	var failed *entity.SessionEvent
	if s.attempt == attempt {
		s.conn = entity.WalletConnection{Status: entity.StatusDisconnected, LastError: se}
		s.signer = nil
		ev := s.eventLocked(entity.EventStateChanged, se)
		failed = &ev
	}
	snap := s.conn
	s.mu.Unlock()

	metrics.ConnectAttempts.WithLabelValues(string(kind), string(se.Kind)).Inc()
	metrics.ConnectDuration.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
	s.logger.Warn("Wallet connect failed", "kind", kind, "error_kind", se.Kind, "error", se)
	if failed != nil {
		observeTransition(entity.StatusConnecting, entity.StatusDisconnected)
		s.publish(*failed)
	}
	return snap, se
}

// Disconnect forgets the local connection. Wallet permissions are not revoked; the wallet
// offers no call for that. Calling it while disconnected does nothing.
func (s *WalletSessionImpl) Disconnect() {
	s.mu.Lock()
	from := s.conn.Status
	if from == entity.StatusDisconnected && s.link == nil {
		s.mu.Unlock()
		return
	}
	old := s.detachLocked()
	s.attempt++
	s.conn = entity.WalletConnection{Status: entity.StatusDisconnected}
	ev := s.eventLocked(entity.EventStateChanged, nil)
	if from == entity.StatusConnecting {
		// The superseded attempt may still be waiting on the wallet; later calls must not join it.
		s.connectGroup.Forget(connectKey)
	}
	s.mu.Unlock()

	if old != nil {
		s.closeLink(old, true)
	}
	observeTransition(from, entity.StatusDisconnected)
	s.logger.Info("Wallet disconnected", "previous_status", from)
	s.publish(ev)
}

// Snapshot returns a copy of the current connection.
func (s *WalletSessionImpl) Snapshot() entity.WalletConnection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// Signer returns the signer of the connected account, or nil.
func (s *WalletSessionImpl) Signer() port.Signer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.signer == nil {
		return nil
	}
	return s.signer
}

func (s *WalletSessionImpl) TargetNetwork() entity.NetworkDescriptor {
	return s.target
}

// Subscribe delivers session events to ch. The session blocks until every subscriber has
// received an event, so ch must be drained and Disconnect must not be called from the receiving loop.
func (s *WalletSessionImpl) Subscribe(ch chan<- entity.SessionEvent) event.Subscription {
	return s.feed.Subscribe(ch)
}

// Close disconnects. It exists for shutdown hooks.
func (s *WalletSessionImpl) Close() error {
	s.Disconnect()
	return nil
}

func (s *WalletSessionImpl) pump(l *sessionLink) {
	defer close(l.done)
	defer l.sub.Unsubscribe()
	for {
		select {
		case <-l.quit:
			return
		case ev := <-l.events:
			s.handleProviderEvent(l, ev)
		case err, ok := <-l.sub.Err():
			if ok && err != nil {
				s.handleTransportFailure(l, err)
			}
			return
		}
	}
}

func (s *WalletSessionImpl) handleProviderEvent(l *sessionLink, ev entity.ProviderEvent) {
	metrics.ProviderEvents.WithLabelValues(string(ev.Type)).Inc()

	s.mu.Lock()
	if s.link != l || s.conn.Status != entity.StatusConnected {
		s.mu.Unlock()
		s.logger.Debug("Ignoring event from a stale wallet link", "type", ev.Type)
		return
	}

	var (
		events       []entity.SessionEvent
		teardown     *sessionLink
		transitioned bool
	)
	switch ev.Type {
	case entity.ProviderAccountsChanged:
		if len(ev.Accounts) == 0 {
			teardown = s.detachLocked()
			s.attempt++
			s.conn = entity.WalletConnection{Status: entity.StatusDisconnected}
			events = append(events, s.eventLocked(entity.EventStateChanged, nil))
			transitioned = true
			break
		}
		account := ev.Accounts[0]
		if s.conn.Account != nil && *s.conn.Account == account {
			break
		}
		s.signer = NewWalletSigner(l.transport, account, *s.conn.ChainID)
		s.conn.Account = &account
		s.conn.Signer = s.signer
		events = append(events, s.eventLocked(entity.EventAccountChanged, nil))

	case entity.ProviderChainChanged:
		chainID := ev.ChainID
		if s.conn.ChainID != nil && *s.conn.ChainID == chainID {
			break
		}
		s.signer = NewWalletSigner(l.transport, *s.conn.Account, chainID)
		s.conn.ChainID = &chainID
		s.conn.Signer = s.signer
		s.conn.NetworkMismatch = chainID != s.target.ChainID
		events = append(events, s.eventLocked(entity.EventChainChanged, nil))
		if s.conn.NetworkMismatch {
			warning := entity.Errorf(entity.KindChainSetupFailed, "wallet moved to chain %d, expected %s (%d)",
				chainID, s.target.DisplayName, s.target.ChainID)
			events = append(events, s.eventLocked(entity.EventNetworkMismatch, warning))
		}

	default:
		s.logger.Debug("Ignoring unknown wallet event", "type", ev.Type)
	}
	s.mu.Unlock()

	if teardown != nil {
		s.logger.Info("Wallet revoked all accounts, disconnecting")
		s.closeLink(teardown, false)
	}
	if transitioned {
		observeTransition(entity.StatusConnected, entity.StatusDisconnected)
	}
	s.publish(events...)
}

func (s *WalletSessionImpl) handleTransportFailure(l *sessionLink, cause error) {
	s.mu.Lock()
	if s.link != l {
		s.mu.Unlock()
		return
	}
	kind := s.conn.Transport
	se := entity.NewSessionError(entity.KindTransportError, "wallet connection lost", cause)
	s.detachLocked()
	s.attempt++
	s.conn = entity.WalletConnection{Status: entity.StatusError, Transport: kind, LastError: se}
	ev := s.eventLocked(entity.EventTransportError, se)
	s.mu.Unlock()

	s.logger.Error("Wallet transport failed", "kind", kind, "error", cause)
	s.closeLink(l, false)
	observeTransition(entity.StatusConnected, entity.StatusError)
	s.publish(ev)
}

// detachLocked drops the current link and signer and returns the link for closing.
func (s *WalletSessionImpl) detachLocked() *sessionLink {
	l := s.link
	s.link = nil
	s.signer = nil
	return l
}

func (s *WalletSessionImpl) closeLink(l *sessionLink, wait bool) {
	l.stop(wait)
	if err := l.transport.Close(); err != nil {
		s.logger.Debug("Closing wallet transport", "error", err)
	}
}

func (s *WalletSessionImpl) eventLocked(t entity.SessionEventType, err *entity.SessionError) entity.SessionEvent {
	return entity.SessionEvent{
		ID:         uuid.NewString(),
		Type:       t,
		Connection: s.conn,
		Err:        err,
		At:         time.Now().UTC(),
	}
}

func (s *WalletSessionImpl) publish(events ...entity.SessionEvent) {
	for _, ev := range events {
		s.feed.Send(ev)
	}
}

func observeTransition(from, to entity.SessionStatus) {
	if from != to {
		metrics.StateTransitions.WithLabelValues(string(from), string(to)).Inc()
	}
}

var _ port.WalletSession = (*WalletSessionImpl)(nil)
