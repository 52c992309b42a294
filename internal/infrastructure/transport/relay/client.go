// Package relay implements the remote (QR pairing) wallet transport on top of a session relay.
package relay

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"wallet_session/internal/domain/entity"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Session statuses reported by the relay.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

// DappMetadata is shown by the wallet when it scans the pairing code.
type DappMetadata struct {
	Name    string `json:"name"`
	URL     string `json:"url,omitempty"`
	ChainID string `json:"chainId,omitempty"`
}

// Pairing is a relay session waiting for a wallet to scan its URI.
type Pairing struct {
	Topic     string    `json:"topic"`
	URI       string    `json:"uri"`
	CreatedAt time.Time `json:"createdAt"`
}

// Event is a wallet notification stored by the relay.
type Event struct {
	Seq      uint64                   `json:"seq"`
	Type     entity.ProviderEventType `json:"type"`
	Accounts []common.Address         `json:"accounts,omitempty"`
	ChainID  string                   `json:"chainId,omitempty"`
}

// ProviderEvent converts the relay event. The chain id may be hex or decimal.
func (e Event) ProviderEvent() (entity.ProviderEvent, error) {
	ev := entity.ProviderEvent{Type: e.Type, Accounts: e.Accounts}
	if e.Type == entity.ProviderChainChanged {
		id, err := entity.ParseChainID(e.ChainID)
		if err != nil {
			return ev, err
		}
		ev.ChainID = id
	}
	return ev, nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	ID     string                   `json:"id"`
	Result jsoniter.RawMessage      `json:"result"`
	Error  *entity.ProviderRPCError `json:"error"`
}

// Client talks to the relay HTTP API.
type Client struct {
	client  *fasthttp.Client
	baseURL string
	timeout time.Duration
	logger  *zap.Logger
}

// NewClient creates a relay client. timeout applies when the context carries no deadline.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		client:  &fasthttp.Client{Name: "wallet-session"},
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		logger:  logger.Named("RelayClient"),
	}
}

// CreateSession opens a pairing topic.
func (c *Client) CreateSession(ctx context.Context, meta DappMetadata) (Pairing, error) {
	var p Pairing
	if err := c.do(ctx, fasthttp.MethodPost, "/v1/sessions", meta, &p); err != nil {
		return Pairing{}, err
	}
	if p.Topic == "" || p.URI == "" {
		return Pairing{}, fmt.Errorf("relay returned an incomplete pairing")
	}
	p.CreatedAt = time.Now()
	return p, nil
}

// Status returns pending, approved or rejected.
func (c *Client) Status(ctx context.Context, topic string) (string, error) {
	var out struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, fasthttp.MethodGet, "/v1/sessions/"+topic, nil, &out); err != nil {
		return "", err
	}
	return out.Status, nil
}

// Call forwards a JSON-RPC request to the paired wallet. Wallet errors come back as *entity.ProviderRPCError.
func (c *Client) Call(ctx context.Context, topic string, result any, method string, params ...any) error {
	if params == nil {
		params = []any{}
	}
	req := rpcRequest{JSONRPC: "2.0", ID: uuid.NewString(), Method: method, Params: params}
	var resp rpcResponse
	if err := c.do(ctx, fasthttp.MethodPost, "/v1/sessions/"+topic+"/rpc", req, &resp); err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error
	}
	if result == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, result); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

// Events returns wallet events with seq greater than after.
func (c *Client) Events(ctx context.Context, topic string, after uint64) ([]Event, error) {
	var out struct {
		Events []Event `json:"events"`
	}
	path := "/v1/sessions/" + topic + "/events?after=" + strconv.FormatUint(after, 10)
	if err := c.do(ctx, fasthttp.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Events, nil
}

// DeleteSession forgets the topic on the relay.
func (c *Client) DeleteSession(ctx context.Context, topic string) error {
	return c.do(ctx, fasthttp.MethodDelete, "/v1/sessions/"+topic, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	requestURL := c.baseURL + path

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	req.SetRequestURI(requestURL)
	req.Header.SetMethod(method)
	req.Header.SetContentTypeBytes([]byte("application/json"))
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request to %s: %w", requestURL, err)
		}
		req.SetBodyRaw(raw)
	}

	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	c.logger.Debug("Relay request", zap.String("method", method), zap.String("url", requestURL))

	deadline, ok := ctx.Deadline()
	if ok {
		if err := c.client.DoDeadline(req, resp, deadline); err != nil {
			return fmt.Errorf("failed to execute request to %s: %w", requestURL, err)
		}
	} else {
		if err := c.client.DoTimeout(req, resp, c.timeout); err != nil {
			return fmt.Errorf("failed to execute request to %s with default timeout: %w", requestURL, err)
		}
	}

	rawBody := resp.Body()
	switch status := resp.StatusCode(); {
	case status == fasthttp.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrUnknownTopic, requestURL)
	case status < 200 || status >= 300:
		c.logger.Error("Relay request failed",
			zap.String("url", requestURL),
			zap.Int("statusCode", status),
			zap.ByteString("responseBody", rawBody))
		return fmt.Errorf("relay request to %s failed with status %d: %s", requestURL, status, string(rawBody))
	}

	if out == nil || len(rawBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(rawBody, out); err != nil {
		return fmt.Errorf("failed to unmarshal relay response from %s: %w", requestURL, err)
	}
	return nil
}
