package restapi

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"wallet_session/internal/app/service"
	"wallet_session/internal/domain/entity"
	"wallet_session/internal/infrastructure/configloader"
	networkdefinition "wallet_session/internal/infrastructure/network/definition"
	"wallet_session/internal/infrastructure/transport"
	"wallet_session/internal/infrastructure/transport/relay"
	"wallet_session/internal/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type fakeRecords struct{}

func (fakeRecords) ListRecords(_ context.Context, contract string) (entity.RecordListing, error) {
	switch contract {
	case "circles":
		return entity.RecordListing{
			Contract: "circles",
			ChainID:  1043,
			Total:    2,
			Records: []entity.ContractRecord{{
				Schema: "savings_circle",
				ID:     1,
				Fields: []entity.RecordField{{Name: "name", Kind: entity.FieldString, Raw: "Market women", Display: "Market women"}},
			}},
			Failures: []entity.RecordFailure{{ID: 2, Kind: entity.KindDecodeError, Message: "getter returned 3 values"}},
			Batched:  true,
		}, nil
	case "offline":
		return entity.RecordListing{}, entity.Errorf(entity.KindTransportError, "rpc unreachable")
	default:
		return entity.RecordListing{}, fmt.Errorf("%w: %s", entity.ErrUnknownContract, contract)
	}
}

func (fakeRecords) GetRecord(_ context.Context, contract string, id uint64) (entity.ContractRecord, error) {
	if contract != "circles" {
		return entity.ContractRecord{}, fmt.Errorf("%w: %s", entity.ErrUnknownContract, contract)
	}
	if id != 1 {
		return entity.ContractRecord{}, entity.Errorf(entity.KindDecodeError, "record %d is malformed", id)
	}
	return entity.ContractRecord{Schema: "savings_circle", ID: 1}, nil
}

func (fakeRecords) Deployments() []entity.ContractDeployment {
	return []entity.ContractDeployment{{Name: "circles", Network: "blockdag-primordial", ChainID: 1043, Address: "0x1000000000000000000000000000000000000001", Schema: "savings_circle"}}
}

type fixture struct {
	router   *gin.Engine
	session  *service.WalletSessionImpl
	board    *relay.Board
	detector *transport.Detector
	sessions *SessionHandler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	networks, err := networkdefinition.NewNetworkDescriptorProvider(logger.NewNop(), "", nil)
	require.NoError(t, err)

	cfg := &configloader.Config{}
	cfg.Transports.Injected.URL = "memory://browser?chain=0x1"

	board := relay.NewBoard(nil)
	detector := transport.NewDetector(transport.DetectorConfig{
		Injected: transport.Endpoint{URL: cfg.Transports.Injected.URL},
	}, board, zap.NewNop())
	session := service.NewWalletSession(detector, networks.Target(), service.SessionConfig{ConnectTimeout: 5 * time.Second}, logger.NewNop())
	t.Cleanup(session.Disconnect)

	sessions := NewSessionHandler(session, board, logger.NewNop())
	router := SetupRouter(
		sessions,
		NewCatalogHandler(networks, fakeRecords{}, configloader.NewProvider(cfg)),
		RouterOptions{MetricsPath: "/metrics"},
		logger.NewNop(),
	)
	return &fixture{router: router, session: session, board: board, detector: detector, sessions: sessions}
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

type sessionResponse struct {
	Connection entity.WalletConnection `json:"connection"`
	Error      APIError                `json:"error"`
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestSessionConnectSignDisconnect(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodGet, "/api/v1/session", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, entity.StatusDisconnected, decode[sessionResponse](t, w).Connection.Status)

	w = f.do(http.MethodPost, "/api/v1/session/connect", `{"transport":"injected"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	conn := decode[sessionResponse](t, w).Connection
	assert.Equal(t, entity.StatusConnected, conn.Status)
	assert.Equal(t, entity.TransportInjected, conn.Transport)
	require.NotNil(t, conn.ChainID)
	assert.Equal(t, uint64(1043), *conn.ChainID)
	require.NotNil(t, conn.Account)

	w = f.do(http.MethodPost, "/api/v1/session/sign", `{"message":"hello"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	signed := decode[struct {
		Address   string `json:"address"`
		Signature string `json:"signature"`
	}](t, w)
	assert.True(t, strings.EqualFold(conn.Account.Hex(), signed.Address))
	assert.Len(t, signed.Signature, 132)

	w = f.do(http.MethodPost, "/api/v1/session/disconnect", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, entity.StatusDisconnected, decode[sessionResponse](t, w).Connection.Status)

	w = f.do(http.MethodPost, "/api/v1/session/disconnect", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestConnectWithoutBodyUsesInjected(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/api/v1/session/connect", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, entity.TransportInjected, decode[sessionResponse](t, w).Connection.Transport)
}

func TestConnectErrors(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/api/v1/session/connect", `{"transport":"dedicated"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	resp := decode[sessionResponse](t, w)
	assert.Equal(t, entity.KindNoProviderDetected, resp.Error.Kind)
	assert.Equal(t, entity.StatusDisconnected, resp.Connection.Status)
	require.NotNil(t, resp.Connection.LastError)

	w = f.do(http.MethodPost, "/api/v1/session/connect", `{"transport":"carrier-pigeon"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodPost, "/api/v1/session/connect", `{"transport":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSendTransaction(t *testing.T) {
	f := newFixture(t)

	body := `{"to":"0x2000000000000000000000000000000000000002","value":"0.5"}`
	assert.Equal(t, http.StatusConflict, f.do(http.MethodPost, "/api/v1/session/transactions", body).Code)

	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/api/v1/session/connect", "").Code)

	w := f.do(http.MethodPost, "/api/v1/session/transactions", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"hash":"0x`)

	wallet, ok := f.detector.MemoryWallet(entity.TransportInjected)
	require.True(t, ok)
	sent := wallet.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "500000000000000000", sent[0].Value().String())
	assert.Equal(t, uint64(1043), sent[0].ChainId().Uint64())

	tests := []string{
		`{"to":"nope","value":"1"}`,
		`{"to":"0x2000000000000000000000000000000000000002","value":"lots"}`,
		`{"to":"0x2000000000000000000000000000000000000002","data":"zz"}`,
		`{}`,
	}
	for _, body := range tests {
		assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/v1/session/transactions", body).Code, body)
	}
}

func TestSignRequiresConnection(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/api/v1/session/sign", `{"message":"hello"}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(http.MethodPost, "/api/v1/session/sign", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPairingEndpoints(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/v1/session/pairing", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/v1/session/pairing.png", "").Code)

	f.board.ShowPairing(relay.Pairing{Topic: "t1", URI: "wc:t1@2?relay-protocol=irn&symKey=00", CreatedAt: time.Now()})

	w := f.do(http.MethodGet, "/api/v1/session/pairing", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "t1", decode[relay.Pairing](t, w).Topic)

	w = f.do(http.MethodGet, "/api/v1/session/pairing.png?size=128", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(w.Body.String(), "\x89PNG"))

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/v1/session/pairing.png?size=abc", "").Code)

	f.board.ClearPairing("t1")
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/v1/session/pairing", "").Code)
}

func TestCatalogEndpoints(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodGet, "/api/v1/networks", "")
	require.Equal(t, http.StatusOK, w.Code)
	networks := decode[struct {
		Target   string                     `json:"target"`
		Networks []entity.NetworkDescriptor `json:"networks"`
	}](t, w)
	assert.Equal(t, "blockdag-primordial", networks.Target)
	assert.NotEmpty(t, networks.Networks)

	w = f.do(http.MethodGet, "/api/v1/transports", "")
	require.Equal(t, http.StatusOK, w.Code)
	transports := decode[struct {
		Transports []TransportInfo `json:"transports"`
	}](t, w)
	assert.Equal(t, []TransportInfo{
		{Kind: entity.TransportInjected, Configured: true},
		{Kind: entity.TransportDedicated, Configured: false},
		{Kind: entity.TransportRemote, Configured: false},
	}, transports.Transports)

	w = f.do(http.MethodGet, "/api/v1/contracts", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"name":"circles"`)
}

func TestRecordEndpoints(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodGet, "/api/v1/contracts/circles/records", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"values":{"name":"Market women"}`)
	assert.Contains(t, w.Body.String(), `"kind":"DecodeError"`)

	tests := []struct {
		path   string
		status int
	}{
		{"/api/v1/contracts/lottery/records", http.StatusNotFound},
		{"/api/v1/contracts/offline/records", http.StatusBadGateway},
		{"/api/v1/contracts/circles/records/1", http.StatusOK},
		{"/api/v1/contracts/circles/records/2", http.StatusUnprocessableEntity},
		{"/api/v1/contracts/circles/records/x", http.StatusBadRequest},
		{"/api/v1/contracts/lottery/records/1", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.status, f.do(http.MethodGet, tt.path, "").Code)
		})
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{entity.ErrNoProviderDetected, http.StatusNotFound},
		{entity.ErrUserRejected, http.StatusForbidden},
		{entity.ErrChainSetupFailed, http.StatusConflict},
		{entity.ErrNoAccountsReturned, http.StatusFailedDependency},
		{entity.ErrDecodeError, http.StatusUnprocessableEntity},
		{entity.ErrTransportError, http.StatusBadGateway},
		{fmt.Errorf("wrapped: %w", entity.ErrUnknownContract), http.StatusNotFound},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.status, statusFor(tt.err), tt.err.Error())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/metrics", "").Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/health", "").Code)
}

func waitLine(t *testing.T, lines <-chan string, want string) {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case line, ok := <-lines:
			require.True(t, ok, "stream closed before %q", want)
			if strings.Contains(line, want) {
				return
			}
		case <-timeout:
			t.Fatalf("no line containing %q", want)
		}
	}
}

func TestSessionEventsStream(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/session/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	lines := make(chan string, 256)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()
	waitLine(t, lines, "event:snapshot")

	connectResp, err := http.Post(srv.URL+"/api/v1/session/connect", "application/json", strings.NewReader(`{"transport":"injected"}`))
	require.NoError(t, err)
	connectResp.Body.Close()
	require.Equal(t, http.StatusOK, connectResp.StatusCode)

	waitLine(t, lines, "event:state_changed")
	waitLine(t, lines, `"status":"connected"`)
	cancel()
}

func TestSessionEventsEndOnServerShutdown(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewUnstartedServer(f.router)
	srv.Config.RegisterOnShutdown(f.sessions.Shutdown)
	srv.Start()
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/session/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	lines := make(chan string, 256)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()
	waitLine(t, lines, "event:snapshot")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	start := time.Now()
	require.NoError(t, srv.Config.Shutdown(ctx))
	assert.Less(t, time.Since(start), time.Second)

	timeout := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-lines:
			if !ok {
				return
			}
		case <-timeout:
			t.Fatal("event stream still open after shutdown")
		}
	}
}
