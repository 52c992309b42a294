package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wallet_session/internal/app/port"
	"wallet_session/internal/domain/entity"

	"github.com/ethereum/go-ethereum/event"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrUnknownTopic is returned when the relay no longer knows the session.
var ErrUnknownTopic = errors.New("relay session not found")

// Config describes the relay and how the transport polls it.
type Config struct {
	URL             string
	RequestTimeout  time.Duration
	PollInterval    time.Duration
	ApprovalTimeout time.Duration
	Dapp            DappMetadata
}

func (c *Config) setDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.ApprovalTimeout <= 0 {
		c.ApprovalTimeout = 2 * time.Minute
	}
	if c.Dapp.Name == "" {
		c.Dapp.Name = "wallet-session"
	}
}

// PairingSink receives the pairing URI that must be shown to the user.
type PairingSink interface {
	ShowPairing(p Pairing)
	ClearPairing(topic string)
}

// QRCodePNG renders the pairing URI as a PNG QR code.
func (p Pairing) QRCodePNG(size int) ([]byte, error) {
	qr, err := qrcode.New(p.URI, qrcode.Medium)
	if err != nil {
		return nil, err
	}
	return qr.PNG(size)
}

// QRCodeTerminal renders the pairing URI for a terminal.
func (p Pairing) QRCodeTerminal() (string, error) {
	qr, err := qrcode.New(p.URI, qrcode.Low)
	if err != nil {
		return "", err
	}
	return qr.ToSmallString(false), nil
}

// Transport is a wallet reached through an approved relay session.
type Transport struct {
	client  *Client
	topic   string
	limiter *rate.Limiter
	logger  *zap.Logger
}

// Pair opens a relay session, hands the URI to sink and waits for the wallet to approve.
// An unreachable relay is reported as NoProviderDetected, a declined or expired pairing as UserRejected.
func Pair(ctx context.Context, cfg Config, sink PairingSink, logger *zap.Logger) (*Transport, error) {
	cfg.setDefaults()
	client := NewClient(cfg.URL, cfg.RequestTimeout, logger)

	pairing, err := client.CreateSession(ctx, cfg.Dapp)
	if err != nil {
		return nil, entity.NewSessionError(entity.KindNoProviderDetected, "wallet relay is unreachable", err)
	}
	if sink != nil {
		sink.ShowPairing(pairing)
		defer sink.ClearPairing(pairing.Topic)
	}
	logger.Info("Waiting for wallet to scan pairing code", zap.String("topic", pairing.Topic))

	t := &Transport{
		client:  client,
		topic:   pairing.Topic,
		limiter: rate.NewLimiter(rate.Every(cfg.PollInterval), 1),
		logger:  logger.Named("RelayTransport").With(zap.String("topic", pairing.Topic)),
	}

	waitCtx, cancel := context.WithTimeout(ctx, cfg.ApprovalTimeout)
	defer cancel()
	for {
		if err := t.limiter.Wait(waitCtx); err != nil {
			t.abandon()
			return nil, entity.NewSessionError(entity.KindUserRejected, "pairing was not approved in time", err)
		}
		status, err := client.Status(waitCtx, pairing.Topic)
		if err != nil {
			t.abandon()
			return nil, entity.NewSessionError(entity.KindTransportError, "relay pairing failed", err)
		}
		switch status {
		case StatusApproved:
			t.logger.Info("Wallet approved pairing")
			return t, nil
		case StatusRejected:
			t.abandon()
			return nil, entity.Errorf(entity.KindUserRejected, "wallet rejected the pairing")
		}
	}
}

func (t *Transport) abandon() {
	ctx, cancel := context.WithTimeout(context.Background(), t.client.timeout)
	defer cancel()
	if err := t.client.DeleteSession(ctx, t.topic); err != nil {
		t.logger.Debug("Could not delete relay session", zap.Error(err))
	}
}

// Topic is the relay session id.
func (t *Transport) Topic() string { return t.topic }

func (t *Transport) Kind() entity.TransportKind { return entity.TransportRemote }

// SupportsChainSwitch is true; the remote wallet decides whether it honours the request.
func (t *Transport) SupportsChainSwitch() bool { return true }

func (t *Transport) Request(ctx context.Context, result any, method string, params ...any) error {
	return t.client.Call(ctx, t.topic, result, method, params...)
}

// SubscribeEvents polls the relay event log. The subscription fails once the relay forgets the topic.
func (t *Transport) SubscribeEvents(_ context.Context, sink chan<- entity.ProviderEvent) (event.Subscription, error) {
	return event.NewSubscription(func(quit <-chan struct{}) error {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			select {
			case <-quit:
				cancel()
			case <-ctx.Done():
			}
		}()

		var after uint64
		for {
			if err := t.limiter.Wait(ctx); err != nil {
				return nil
			}
			events, err := t.client.Events(ctx, t.topic, after)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("relay events: %w", err)
			}
			for _, raw := range events {
				if raw.Seq > after {
					after = raw.Seq
				}
				ev, err := raw.ProviderEvent()
				if err != nil {
					t.logger.Warn("Skipping malformed relay event", zap.Uint64("seq", raw.Seq), zap.Error(err))
					continue
				}
				select {
				case sink <- ev:
				case <-quit:
					return nil
				}
			}
		}
	}), nil
}

// Close deletes the relay session. Wallet permissions are untouched.
func (t *Transport) Close() error {
	t.abandon()
	return nil
}

var _ port.WalletTransport = (*Transport)(nil)
