package service

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"wallet_session/internal/app/port"
	"wallet_session/internal/domain/entity"
	"wallet_session/internal/pkg/decoder"
	"wallet_session/internal/pkg/metrics"
	"wallet_session/internal/pkg/utils"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	defaultMaxBatchSize      = 50
	defaultReadConcurrency   = 4
	defaultRequestsPerSecond = 20
	defaultListingCacheTTL   = 30 * time.Second
)

// RecordServiceConfig tunes how listings are read.
type RecordServiceConfig struct {
	Batch             bool
	MaxBatchSize      int
	Concurrency       int
	RequestsPerSecond float64
	// CacheTTL of zero uses the default, a negative value disables the cache.
	CacheTTL time.Duration
}

// RecordServiceImpl implements port.RecordService.
type RecordServiceImpl struct {
	registry port.ContractRegistry
	logger   port.Logger
	cfg      RecordServiceConfig
	limiter  *rate.Limiter
	listings *cache.Cache
}

// NewRecordService creates a record service over the registry.
func NewRecordService(registry port.ContractRegistry, cfg RecordServiceConfig, logger port.Logger) *RecordServiceImpl {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = defaultMaxBatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultReadConcurrency
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = defaultRequestsPerSecond
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = defaultListingCacheTTL
	}
	s := &RecordServiceImpl{
		registry: registry,
		logger:   logger,
		cfg:      cfg,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Concurrency),
	}
	if cfg.CacheTTL > 0 {
		s.listings = cache.New(cfg.CacheTTL, 2*cfg.CacheTTL)
	}
	return s
}

// Deployments lists the contracts that can be read.
func (s *RecordServiceImpl) Deployments() []entity.ContractDeployment {
	return s.registry.Deployments()
}

// ListRecords reads ids 1..count of the contract. Ids that fail to read or decode are reported
// in Failures and never abort the listing.
func (s *RecordServiceImpl) ListRecords(ctx context.Context, contract string) (entity.RecordListing, error) {
	c, err := s.registry.Bind(ctx, contract)
	if err != nil {
		return entity.RecordListing{}, err
	}
	chainID := c.Deployment().ChainID
	if chainID == 0 {
		chainID = c.Reader().Descriptor().ChainID
	}
	cacheKey := fmt.Sprintf("%d/%s", chainID, contract)
	if s.listings != nil {
		if cached, ok := s.listings.Get(cacheKey); ok {
			s.logger.Debug("Returning cached record listing", "contract", contract)
			return cached.(entity.RecordListing), nil
		}
	}

	total, err := s.count(ctx, c)
	if err != nil {
		return entity.RecordListing{}, err
	}

	listing := entity.RecordListing{
		Contract: contract,
		ChainID:  chainID,
		Total:    total,
		Records:  make([]entity.ContractRecord, 0, total),
	}
	acc := &listingAccumulator{listing: &listing, contract: contract}

	remaining := utils.Sequence(total)
	if s.cfg.Batch && len(remaining) > 0 {
		remaining = s.readBatched(ctx, c, remaining, acc)
		listing.Batched = len(remaining) == 0
	}
	if len(remaining) > 0 {
		s.readSequential(ctx, c, remaining, acc)
	}
	if err := ctx.Err(); err != nil {
		return entity.RecordListing{}, entity.NewSessionError(entity.KindTransportError, "record listing interrupted", err)
	}

	sort.Slice(listing.Records, func(i, j int) bool { return listing.Records[i].ID < listing.Records[j].ID })
	sort.Slice(listing.Failures, func(i, j int) bool { return listing.Failures[i].ID < listing.Failures[j].ID })

	s.logger.Info("Record listing read",
		"contract", contract,
		"total", total,
		"decoded", len(listing.Records),
		"failed", len(listing.Failures),
		"batched", listing.Batched)

	if s.listings != nil {
		s.listings.SetDefault(cacheKey, listing)
	}
	return listing, nil
}

// GetRecord reads a single record.
func (s *RecordServiceImpl) GetRecord(ctx context.Context, contract string, id uint64) (entity.ContractRecord, error) {
	if id == 0 {
		return entity.ContractRecord{}, entity.Errorf(entity.KindDecodeError, "%s: record ids start at 1", contract)
	}
	c, err := s.registry.Bind(ctx, contract)
	if err != nil {
		return entity.ContractRecord{}, err
	}
	record, err := s.readOne(ctx, c, id)
	if err != nil {
		metrics.RecordsDecoded.WithLabelValues(contract, string(entity.KindOf(err))).Inc()
		return entity.ContractRecord{}, err
	}
	metrics.RecordsDecoded.WithLabelValues(contract, "ok").Inc()
	return record, nil
}

// InvalidateListing drops the cached listing of a contract.
func (s *RecordServiceImpl) InvalidateListing(contract string) {
	if s.listings == nil {
		return
	}
	for key := range s.listings.Items() {
		if strings.HasSuffix(key, "/"+contract) {
			s.listings.Delete(key)
		}
	}
}

func (s *RecordServiceImpl) count(ctx context.Context, c port.BoundContract) (uint64, error) {
	method := c.Schema().CountMethod
	out, err := c.Call(ctx, method)
	if err != nil {
		return 0, entity.NewSessionError(entity.KindTransportError, fmt.Sprintf("%s: read %s", c.Name(), method), err)
	}
	if len(out) != 1 {
		return 0, entity.Errorf(entity.KindDecodeError, "%s: %s returned %d values", c.Name(), method, len(out))
	}
	n, ok := out[0].(*big.Int)
	if !ok || n == nil || n.Sign() < 0 || !n.IsUint64() {
		return 0, entity.Errorf(entity.KindDecodeError, "%s: %s returned %v", c.Name(), method, out[0])
	}
	return n.Uint64(), nil
}

// readBatched reads ids chunk by chunk and returns the ids left unread after a batch failed as a whole.
func (s *RecordServiceImpl) readBatched(ctx context.Context, c port.BoundContract, ids []uint64, acc *listingAccumulator) []uint64 {
	getter := c.Schema().GetterMethod
	read := 0
	for _, chunk := range utils.Chunk(ids, s.cfg.MaxBatchSize) {
		reqs := make([]entity.CallRequest, 0, len(chunk))
		for _, id := range chunk {
			data, err := c.Pack(getter, new(big.Int).SetUint64(id))
			if err != nil {
				acc.fail(id, entity.NewSessionError(entity.KindDecodeError, "pack getter call", err))
				continue
			}
			reqs = append(reqs, entity.CallRequest{ID: id, To: c.Address(), Data: data})
		}

		results, err := c.Reader().BatchCallContract(ctx, reqs)
		if err != nil {
			s.logger.Warn("Batch read failed, falling back to sequential reads",
				"contract", c.Name(), "batch_size", len(reqs), "remaining", len(ids)-read, "error", err)
			left := make([]uint64, 0, len(ids)-read)
			for _, req := range reqs {
				left = append(left, req.ID)
			}
			return append(left, ids[read+len(chunk):]...)
		}
		metrics.ReadBatchSize.WithLabelValues("batch").Observe(float64(len(reqs)))

		for _, res := range results {
			if res.Error != nil {
				acc.fail(res.ID, entity.NewSessionError(entity.KindTransportError, "read record", res.Error))
				continue
			}
			record, err := decoder.DecodeReturnData(c.ABI(), getter, c.Schema(), res.ID, res.Output)
			if err != nil {
				acc.fail(res.ID, err)
				continue
			}
			acc.add(record)
		}
		read += len(chunk)
	}
	return nil
}

func (s *RecordServiceImpl) readSequential(ctx context.Context, c port.BoundContract, ids []uint64, acc *listingAccumulator) {
	metrics.ReadBatchSize.WithLabelValues("sequential").Observe(float64(len(ids)))

	g := new(errgroup.Group)
	g.SetLimit(s.cfg.Concurrency)
	for _, id := range ids {
		g.Go(func() error {
			if err := s.limiter.Wait(ctx); err != nil {
				acc.fail(id, entity.NewSessionError(entity.KindTransportError, "read record", err))
				return nil
			}
			record, err := s.readOne(ctx, c, id)
			if err != nil {
				acc.fail(id, err)
				return nil
			}
			acc.add(record)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *RecordServiceImpl) readOne(ctx context.Context, c port.BoundContract, id uint64) (entity.ContractRecord, error) {
	getter := c.Schema().GetterMethod
	data, err := c.Pack(getter, new(big.Int).SetUint64(id))
	if err != nil {
		return entity.ContractRecord{}, entity.NewSessionError(entity.KindDecodeError, "pack getter call", err)
	}
	out, err := c.Reader().CallContract(ctx, entity.CallRequest{ID: id, To: c.Address(), Data: data})
	if err != nil {
		return entity.ContractRecord{}, entity.NewSessionError(entity.KindTransportError, fmt.Sprintf("%s #%d: read record", c.Name(), id), err)
	}
	return decoder.DecodeReturnData(c.ABI(), getter, c.Schema(), id, out)
}

type listingAccumulator struct {
	mu       sync.Mutex
	listing  *entity.RecordListing
	contract string
}

func (a *listingAccumulator) add(record entity.ContractRecord) {
	metrics.RecordsDecoded.WithLabelValues(a.contract, "ok").Inc()
	a.mu.Lock()
	a.listing.Records = append(a.listing.Records, record)
	a.mu.Unlock()
}

func (a *listingAccumulator) fail(id uint64, err error) {
	se := entity.AsSessionError(err, entity.KindTransportError)
	metrics.RecordsDecoded.WithLabelValues(a.contract, string(se.Kind)).Inc()
	a.mu.Lock()
	a.listing.Failures = append(a.listing.Failures, entity.RecordFailure{ID: id, Kind: se.Kind, Message: se.Error()})
	a.mu.Unlock()
}

var _ port.RecordService = (*RecordServiceImpl)(nil)
