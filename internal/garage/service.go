package garage

import (
	"context"
	"log/slog"
	"time"

	"github.com/blastwheelz/backend/internal/chain"
	"github.com/blastwheelz/backend/internal/market"
	"github.com/blastwheelz/backend/internal/verifier"
	"github.com/blastwheelz/backend/internal/wallet"
)

// DefaultMaxAttempts before a job is parked as failed.
const DefaultMaxAttempts = 5

// TreasuryMinter signs and submits mint transactions.
type TreasuryMinter interface {
	Mint(ctx context.Context, req wallet.MintRequest) (*chain.TransactionBlock, error)
}

// MintVerifier extracts the minted objects from an execution result.
type MintVerifier interface {
	VerifyMintBlock(block *chain.TransactionBlock, recipient string) verifier.MintResult
}

// Service owns assets and the mint outbox.
type Service struct {
	store       Store
	treasury    TreasuryMinter
	verifier    MintVerifier
	maxAttempts int
	metrics     *Metrics
	logger      *slog.Logger
}

// Option configures the service.
type Option func(*Service)

// WithMaxAttempts overrides the retry budget per job.
func WithMaxAttempts(n int) Option {
	return func(s *Service) { s.maxAttempts = n }
}

// WithMetrics wires prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService creates a garage service.
func NewService(store Store, treasury TreasuryMinter, v MintVerifier, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:       store,
		treasury:    treasury,
		verifier:    v,
		maxAttempts: DefaultMaxAttempts,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Assets lists the account's NFTs, newest first.
func (s *Service) Assets(ctx context.Context, accountID string, limit int) ([]*Asset, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.ListAssets(ctx, accountID, limit)
}

// EnqueueMint persists one outbox job for a committed purchase. It
// satisfies market.MintEnqueuer; delivery happens from the Timer loop.
func (s *Service) EnqueueMint(ctx context.Context, order market.MintOrder) error {
	now := time.Now().UTC()
	job := &MintJob{
		ID:          NewJobID(),
		AccountID:   order.AccountID,
		PurchaseID:  order.PurchaseID,
		Recipient:   order.Recipient,
		Name:        order.Name,
		Description: order.Description,
		ImageURL:    order.ImageURL,
		CarType:     order.CarType,
		Status:      JobPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.Enqueued.Inc()
	}
	s.logger.Info("mint job enqueued", "job", job.ID, "purchase", order.PurchaseID)
	return nil
}

// ProcessPending runs one outbox sweep and returns how many jobs
// completed.
func (s *Service) ProcessPending(ctx context.Context) (int, error) {
	jobs, err := s.store.PendingJobs(ctx, 20)
	if err != nil {
		return 0, err
	}

	completed := 0
	for _, job := range jobs {
		if err := s.processJob(ctx, job); err != nil {
			s.logger.Warn("mint attempt failed",
				"job", job.ID, "attempts", job.Attempts, "error", err)
			continue
		}
		completed++
	}
	return completed, nil
}

// Retry requeues a failed job and attempts it immediately (admin).
func (s *Service) Retry(ctx context.Context, jobID string) (*MintJob, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status == JobCompleted {
		return nil, ErrJobNotRetrying
	}

	job.Status = JobPending
	if err := s.store.UpdateJob(ctx, job); err != nil {
		return nil, err
	}

	if err := s.processJob(ctx, job); err != nil {
		// The job stays pending (or flips failed on budget exhaustion);
		// report the fresh state either way.
		s.logger.Warn("manual mint retry failed", "job", job.ID, "error", err)
	}
	return s.store.GetJob(ctx, jobID)
}

func (s *Service) processJob(ctx context.Context, job *MintJob) error {
	job.Attempts++

	// A prior attempt may have minted on chain and failed only on the
	// asset insert; the persisted digest means this NFT already exists.
	if job.MintDigest == "" {
		block, err := s.treasury.Mint(ctx, wallet.MintRequest{
			Recipient:   job.Recipient,
			Name:        job.Name,
			Description: job.Description,
			ImageURL:    job.ImageURL,
			CarType:     job.CarType,
		})
		if err != nil {
			return s.recordFailure(ctx, job, err.Error())
		}

		res := s.verifier.VerifyMintBlock(block, job.Recipient)
		if !res.Found() {
			return s.recordFailure(ctx, job, "mint executed but objects not confirmed, digest "+block.Digest)
		}

		job.MintDigest = block.Digest
		job.NFTObjectID = res.NFTObjectID
		job.KioskID = res.KioskID
		job.KioskOwnerCapID = res.KioskOwnerCapID
	}

	asset := &Asset{
		ID:              NewAssetID(),
		AccountID:       job.AccountID,
		ObjectID:        job.NFTObjectID,
		KioskID:         job.KioskID,
		KioskOwnerCapID: job.KioskOwnerCapID,
		OwnerAddress:    job.Recipient,
		Name:            job.Name,
		Description:     job.Description,
		ImageURL:        job.ImageURL,
		CarType:         job.CarType,
		PurchaseID:      job.PurchaseID,
		Digest:          job.MintDigest,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.store.CreateAsset(ctx, asset); err != nil {
		// NFT is on chain but unrecorded; recordFailure persists the
		// job with its digest, so the next sweep retries only the
		// insert and never submits a second mint.
		return s.recordFailure(ctx, job, "asset insert failed after mint "+job.MintDigest+": "+err.Error())
	}

	job.Status = JobCompleted
	job.LastError = ""
	if err := s.store.UpdateJob(ctx, job); err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.Minted.Inc()
	}
	s.logger.Info("mint delivered",
		"job", job.ID, "object", job.NFTObjectID, "digest", job.MintDigest)
	return nil
}

func (s *Service) recordFailure(ctx context.Context, job *MintJob, msg string) error {
	job.LastError = msg
	if job.Attempts >= s.maxAttempts {
		job.Status = JobFailed
		if s.metrics != nil {
			s.metrics.Failed.Inc()
		}
		s.logger.Error("mint job exhausted retries", "job", job.ID, "error", msg)
	}
	if err := s.store.UpdateJob(ctx, job); err != nil {
		return err
	}
	return ErrMintAttempt{Job: job.ID, Message: msg}
}

// ErrMintAttempt reports a single failed mint attempt.
type ErrMintAttempt struct {
	Job     string
	Message string
}

func (e ErrMintAttempt) Error() string {
	return "garage: mint attempt for " + e.Job + " failed: " + e.Message
}

// Timer periodically sweeps the mint outbox.
type Timer struct {
	service  *Service
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
}

// NewTimer creates a new outbox sweep timer.
func NewTimer(service *Service, interval time.Duration, logger *slog.Logger) *Timer {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Timer{
		service:  service,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Start begins the sweep loop. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.sweep(ctx)
		}
	}
}

// Stop signals the timer to stop.
func (t *Timer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *Timer) sweep(ctx context.Context) {
	count, err := t.service.ProcessPending(ctx)
	if err != nil {
		t.logger.Warn("mint outbox sweep failed", "error", err)
		return
	}
	if count > 0 {
		t.logger.Info("mint jobs delivered", "count", count)
	}
}
