package restapi

import (
	"io"
	"net/http"
	"strconv"
	"sync"

	"wallet_session/internal/app/port"
	"wallet_session/internal/domain/entity"
	"wallet_session/internal/infrastructure/transport/relay"
	"wallet_session/internal/pkg/utils"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
	jsoniter "github.com/json-iterator/go"
)

const (
	sessionEventBuffer = 32
	defaultQRSize      = 256
	maxQRSize          = 1024
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ConnectRequest is the body of POST /session/connect. An empty transport means injected.
type ConnectRequest struct {
	Transport string `json:"transport"`
}

// SignRequest is the body of POST /session/sign.
type SignRequest struct {
	Message string `json:"message" binding:"required"`
}

// SendRequest is the body of POST /session/transactions. Value is in whole native units, e.g. "0.5".
type SendRequest struct {
	To    string `json:"to" binding:"required"`
	Value string `json:"value"`
	Data  string `json:"data"`
}

// SessionHandler обрабатывает HTTP запросы, связанные с сессией кошелька.
type SessionHandler struct {
	session port.WalletSession
	board   *relay.Board
	logger  port.Logger

	closing   chan struct{}
	closeOnce sync.Once
}

// NewSessionHandler creates a SessionHandler. board may be nil when no relay is configured.
func NewSessionHandler(session port.WalletSession, board *relay.Board, logger port.Logger) *SessionHandler {
	return &SessionHandler{session: session, board: board, logger: logger, closing: make(chan struct{})}
}

// Shutdown ends every open event stream. Register it with http.Server.RegisterOnShutdown,
// since Shutdown does not cancel the contexts of running requests.
func (h *SessionHandler) Shutdown() {
	h.closeOnce.Do(func() { close(h.closing) })
}

// GetSession returns the current snapshot and the target network.
func (h *SessionHandler) GetSession(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connection": h.session.Snapshot(),
		"target":     h.session.TargetNetwork(),
	})
}

// Connect runs a connect attempt and answers with the resulting snapshot.
func (h *SessionHandler) Connect(c *gin.Context) {
	var req ConnectRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			abortBadRequest(c, "invalid request body: "+err.Error())
			return
		}
	}
	kind, err := entity.ParseTransportKind(req.Transport)
	if err != nil {
		abortBadRequest(c, err.Error())
		return
	}

	conn, err := h.session.Connect(c.Request.Context(), kind)
	if err != nil {
		h.logger.Warn("Connect request failed", "transport", kind, "error", err)
		c.AbortWithStatusJSON(statusFor(err), gin.H{"error": toAPIError(err), "connection": conn})
		return
	}
	c.JSON(http.StatusOK, gin.H{"connection": conn})
}

// Disconnect always succeeds.
func (h *SessionHandler) Disconnect(c *gin.Context) {
	h.session.Disconnect()
	c.JSON(http.StatusOK, gin.H{"connection": h.session.Snapshot()})
}

// Sign asks the connected wallet for a personal_sign signature over message.
func (h *SessionHandler) Sign(c *gin.Context) {
	var req SignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortBadRequest(c, "invalid request body: "+err.Error())
		return
	}
	signer := h.session.Signer()
	if signer == nil {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": APIError{Message: "wallet is not connected"}})
		return
	}
	sig, err := signer.SignMessage(c.Request.Context(), []byte(req.Message))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"address":   signer.Address(),
		"signature": hexutil.Encode(sig),
	})
}

// SendTransaction asks the connected wallet to sign and broadcast a transaction.
func (h *SessionHandler) SendTransaction(c *gin.Context) {
	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortBadRequest(c, "invalid request body: "+err.Error())
		return
	}
	if !common.IsHexAddress(req.To) {
		abortBadRequest(c, "invalid recipient address")
		return
	}
	to := common.HexToAddress(req.To)
	tx := entity.TxRequest{To: &to}
	if req.Value != "" {
		value, err := utils.ParseUnits(req.Value, h.session.TargetNetwork().NativeCurrency.Decimals)
		if err != nil {
			abortBadRequest(c, err.Error())
			return
		}
		tx.Value = value
	}
	if req.Data != "" {
		data, err := hexutil.Decode(req.Data)
		if err != nil {
			abortBadRequest(c, "data must be 0x-prefixed hex")
			return
		}
		tx.Data = data
	}

	signer := h.session.Signer()
	if signer == nil {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": APIError{Message: "wallet is not connected"}})
		return
	}
	hash, err := signer.SendTransaction(c.Request.Context(), tx)
	if err != nil {
		abortWithError(c, err)
		return
	}
	h.logger.Info("Transaction sent", "from", signer.Address().Hex(), "to", to.Hex(), "hash", hash.Hex())
	c.JSON(http.StatusOK, gin.H{"hash": hash})
}

// Events streams session events as server-sent events, starting with the current snapshot.
func (h *SessionHandler) Events(c *gin.Context) {
	ch := make(chan entity.SessionEvent, sessionEventBuffer)
	sub := h.session.Subscribe(ch)
	defer sub.Unsubscribe()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	if payload, err := json.MarshalToString(h.session.Snapshot()); err == nil {
		c.SSEvent("snapshot", payload)
		c.Writer.Flush()
	}

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case ev := <-ch:
			payload, err := json.MarshalToString(ev)
			if err != nil {
				h.logger.Error("Failed to encode session event", "event", ev.Type, "error", err)
				return true
			}
			c.SSEvent(string(ev.Type), payload)
			return true
		case <-sub.Err():
			return false
		case <-ctx.Done():
			return false
		case <-h.closing:
			return false
		}
	})
}

// GetPairing returns the relay pairing waiting for a scan.
func (h *SessionHandler) GetPairing(c *gin.Context) {
	p, ok := h.currentPairing()
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": APIError{Message: "no pairing in progress"}})
		return
	}
	c.JSON(http.StatusOK, p)
}

// GetPairingQR renders the pending pairing URI as a PNG. ?size= picks the edge length in pixels.
func (h *SessionHandler) GetPairingQR(c *gin.Context) {
	p, ok := h.currentPairing()
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": APIError{Message: "no pairing in progress"}})
		return
	}
	size := defaultQRSize
	if raw := c.Query("size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxQRSize {
			abortBadRequest(c, "size must be between 1 and "+strconv.Itoa(maxQRSize))
			return
		}
		size = n
	}
	png, err := p.QRCodePNG(size)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": APIError{Message: err.Error()}})
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

func (h *SessionHandler) currentPairing() (relay.Pairing, bool) {
	if h.board == nil {
		return relay.Pairing{}, false
	}
	return h.board.Current()
}
