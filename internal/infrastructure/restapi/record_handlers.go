package restapi

import (
	"net/http"
	"strconv"

	"wallet_session/internal/app/port"
	"wallet_session/internal/domain/entity"

	"github.com/gin-gonic/gin"
)

// TransportInfo tells a client which connect options are available.
type TransportInfo struct {
	Kind       entity.TransportKind `json:"kind"`
	Configured bool                 `json:"configured"`
}

// ContractInfo is an address book entry as served by the API.
type ContractInfo struct {
	Name    string `json:"name"`
	Network string `json:"network,omitempty"`
	ChainID uint64 `json:"chainId,omitempty"`
	Address string `json:"address"`
	Schema  string `json:"schema"`
}

// CatalogHandler serves networks, transports and contract records.
type CatalogHandler struct {
	networks port.NetworkDescriptorProvider
	records  port.RecordService
	cfg      port.ConfigProvider
}

// NewCatalogHandler creates a CatalogHandler.
func NewCatalogHandler(networks port.NetworkDescriptorProvider, records port.RecordService, cfg port.ConfigProvider) *CatalogHandler {
	return &CatalogHandler{networks: networks, records: records, cfg: cfg}
}

func (h *CatalogHandler) GetNetworks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"target":   h.networks.Target().Identifier,
		"networks": h.networks.All(),
	})
}

func (h *CatalogHandler) GetTransports(c *gin.Context) {
	t := h.cfg.GetConfig().Transports
	c.JSON(http.StatusOK, gin.H{"transports": []TransportInfo{
		{Kind: entity.TransportInjected, Configured: t.Injected.URL != ""},
		{Kind: entity.TransportDedicated, Configured: t.Dedicated.URL != ""},
		{Kind: entity.TransportRemote, Configured: t.Relay.URL != ""},
	}})
}

func (h *CatalogHandler) GetContracts(c *gin.Context) {
	deployments := h.records.Deployments()
	out := make([]ContractInfo, 0, len(deployments))
	for _, d := range deployments {
		out = append(out, ContractInfo{Name: d.Name, Network: d.Network, ChainID: d.ChainID, Address: d.Address, Schema: d.Schema})
	}
	c.JSON(http.StatusOK, gin.H{"contracts": out})
}

// ListRecords reads every record of a contract. Records that failed are listed under failures.
func (h *CatalogHandler) ListRecords(c *gin.Context) {
	listing, err := h.records.ListRecords(c.Request.Context(), c.Param("name"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, listing)
}

func (h *CatalogHandler) GetRecord(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		abortBadRequest(c, "record id must be a positive integer")
		return
	}
	record, err := h.records.GetRecord(c.Request.Context(), c.Param("name"), id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}
