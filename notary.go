package notary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Config controls notary behavior. Authority is required; everything else has a default.
type Config struct {
	Authority     Identity          // the only signer allowed to write
	ProgramID     Identity          // scopes derived addresses (zero = DefaultProgramID)
	Namespace     string            // record-kind label ("" = RecordNamespace)
	Verifier      SignatureVerifier // request signature check (nil = Ed25519Verifier)
	Clock         func() time.Time  // sequencer clock for UpdateIntegrity (nil = time.Now)
	MaxRequestAge time.Duration     // accepted skew between IssuedAt and Clock (0 = no window)
	Logger        *slog.Logger
	Metrics       *Metrics
}

// Notary owns the lifecycle of integrity records: it gates writers, derives
// addresses, allocates on first write and overwrites on every later one.
type Notary struct {
	gate      *Gate
	deriver   Deriver
	namespace string
	verifier  SignatureVerifier
	clock     func() time.Time
	maxAge    time.Duration
	store     Store
	treasury  Treasury
	log       *slog.Logger
	metrics   *Metrics
	seq       sequencer
}

// New creates a Notary bound to a Store. A nil Treasury means allocation is free.
func New(cfg Config, st Store, tr Treasury) (*Notary, error) {
	if st == nil {
		return nil, errors.New("notary store not configured")
	}
	gate, err := NewGate(cfg.Authority)
	if err != nil {
		return nil, err
	}
	programID := cfg.ProgramID
	if programID.IsZero() {
		programID = DefaultProgramID
	}
	namespace := cfg.Namespace
	if namespace == "" {
		namespace = RecordNamespace
	}
	deriver := NewDeriver(programID)
	if _, _, err := deriver.Derive(namespace, cfg.Authority); err != nil {
		return nil, fmt.Errorf("check namespace: %w", err)
	}

	n := &Notary{
		gate:      gate,
		deriver:   deriver,
		namespace: namespace,
		verifier:  cfg.Verifier,
		clock:     cfg.Clock,
		maxAge:    cfg.MaxRequestAge,
		store:     st,
		treasury:  tr,
		log:       cfg.Logger,
		metrics:   cfg.Metrics,
	}
	if n.verifier == nil {
		n.verifier = Ed25519Verifier{}
	}
	if n.clock == nil {
		n.clock = time.Now
	}
	if n.treasury == nil {
		n.treasury = FreeTreasury{}
	}
	if n.log == nil {
		n.log = slog.Default()
	}
	return n, nil
}

// Authority returns the configured notary identity.
func (n *Notary) Authority() Identity { return n.gate.Authority() }

// Deriver returns the address deriver used for every record.
func (n *Notary) Deriver() Deriver { return n.deriver }

// Namespace returns the record-kind label.
func (n *Notary) Namespace() string { return n.namespace }

// Store returns the underlying store for read-only inspection.
func (n *Notary) Store() Store { return n.store }

// UpdateIntegrity applies a signed update_integrity request. The signature,
// the request window and the signer are checked before any storage access;
// now is taken from the notary clock. A request whose IssuedAt is not later
// than the last one applied to the record is rejected as a replay.
func (n *Notary) UpdateIntegrity(ctx context.Context, req UpdateRequest) (Receipt, error) {
	now := n.clock()
	if err := n.admit(req, now); err != nil {
		n.metrics.observeUpdate(KindAuthorization, 0)
		n.log.Warn("rejected update", "subject", req.Subject, "kind", KindAuthorization, "error", err)
		return Receipt{}, err
	}
	return n.upsert(ctx, req.Signer, req.Update(), now, req.IssuedAt.UnixNano())
}

func (n *Notary) admit(req UpdateRequest, now time.Time) error {
	if !n.verifier.Verify(req.Signer, req.SigningBytes(), req.Signature) {
		return &AuthorizationError{Signer: req.Signer, Err: ErrInvalidSignature}
	}
	if req.IssuedAt.IsZero() {
		return &AuthorizationError{Signer: req.Signer, Err: fmt.Errorf("%w: missing issued_at", ErrStaleRequest)}
	}
	if n.maxAge > 0 {
		if skew := now.Sub(req.IssuedAt); skew > n.maxAge || skew < -n.maxAge {
			return &AuthorizationError{Signer: req.Signer, Err: fmt.Errorf("%w: issued at %s, window %s",
				ErrStaleRequest, req.IssuedAt.UTC().Format(time.RFC3339), n.maxAge)}
		}
	}
	return nil
}

// Upsert creates the record for u.Subject if absent, otherwise overwrites its
// fields. The whole record is persisted in one store call, so a failure leaves
// the previous state observable.
func (n *Notary) Upsert(ctx context.Context, signer Identity, u Update, now time.Time) (Receipt, error) {
	return n.upsert(ctx, signer, u, now, 0)
}

// upsert carries the request sequence; 0 means the caller is not a signed
// request and skips the replay check.
func (n *Notary) upsert(ctx context.Context, signer Identity, u Update, now time.Time, seq int64) (rcpt Receipt, err error) {
	start := time.Now()
	defer func() {
		outcome := ErrorKind(err)
		switch {
		case err == nil && rcpt.Created:
			outcome = "created"
		case err == nil:
			outcome = "updated"
		case outcome == "":
			outcome = "error"
		}
		n.metrics.observeUpdate(outcome, time.Since(start))
		if err != nil {
			n.log.Warn("rejected update", "subject", u.Subject, "kind", outcome, "error", err)
		}
	}()

	if err := n.gate.Authorize(signer); err != nil {
		return Receipt{}, err
	}

	addr, bump, err := n.deriver.Derive(n.namespace, u.Subject)
	if err != nil {
		return Receipt{}, err
	}

	unlock := n.seq.lock(addr)
	defer unlock()

	existing, err := n.store.Load(ctx, addr)
	switch {
	case errors.Is(err, ErrRecordNotFound):
		return n.create(ctx, signer, u, addr, bump, now, seq)
	case err != nil:
		return Receipt{}, wrapStorage("load", addr, err)
	}
	return n.update(ctx, signer, u, addr, bump, existing, now, seq)
}

func (n *Notary) create(ctx context.Context, signer Identity, u Update, addr Address, bump uint8, now time.Time, seq int64) (Receipt, error) {
	payer := u.Payer
	if payer.IsZero() {
		payer = signer
	}
	rent := RentExemptMinimum(RecordSize)
	if err := n.treasury.Debit(ctx, payer, rent); err != nil {
		return Receipt{}, wrapStorage("allocate", addr, err)
	}

	rec := IntegrityRecord{
		Subject:     u.Subject,
		GiniScore:   u.GiniScore,
		HHIScore:    u.HHIScore,
		Status:      u.Status,
		LastUpdated: now.Unix(),
		LastRequest: seq,
	}
	data, err := rec.MarshalBinary()
	if err == nil {
		err = n.store.Create(ctx, addr, data)
	}
	if err != nil {
		if refundErr := n.treasury.Credit(ctx, payer, rent); refundErr != nil {
			n.log.Error("refund failed", "payer", payer, "amount", rent, "error", refundErr)
		}
		return Receipt{}, wrapStorage("create", addr, err)
	}

	n.metrics.recordCreated(rent)
	n.log.Info("record created", "subject", u.Subject, "address", addr, "payer", payer, "rent", rent)
	return Receipt{Address: addr, Bump: bump, Created: true, Record: rec, RentPaid: rent}, nil
}

func (n *Notary) update(ctx context.Context, signer Identity, u Update, addr Address, bump uint8, existing []byte, now time.Time, seq int64) (Receipt, error) {
	var prev IntegrityRecord
	if err := prev.UnmarshalBinary(existing); err != nil {
		return Receipt{}, wrapStorage("decode", addr, err)
	}
	if prev.Subject != u.Subject {
		return Receipt{}, &DerivationError{
			Namespace: n.namespace,
			Err:       fmt.Errorf("%w: stored %s, supplied %s", ErrSubjectMismatch, prev.Subject, u.Subject),
		}
	}
	if seq != 0 && seq <= prev.LastRequest {
		return Receipt{}, &AuthorizationError{
			Signer: signer,
			Err:    fmt.Errorf("%w: issued %d, last applied %d", ErrReplayedRequest, seq, prev.LastRequest),
		}
	}

	rec := IntegrityRecord{
		Subject:     prev.Subject,
		GiniScore:   u.GiniScore,
		HHIScore:    u.HHIScore,
		Status:      u.Status,
		LastUpdated: max(now.Unix(), prev.LastUpdated),
		LastRequest: max(seq, prev.LastRequest),
	}
	data, err := rec.overwrite(existing)
	if err != nil {
		return Receipt{}, wrapStorage("encode", addr, err)
	}
	if err := n.store.Update(ctx, addr, data); err != nil {
		return Receipt{}, wrapStorage("update", addr, err)
	}

	n.log.Debug("record updated", "subject", u.Subject, "address", addr)
	return Receipt{Address: addr, Bump: bump, Record: rec}, nil
}

// sequencer serializes writers per address with a fixed set of striped locks.
type sequencer struct {
	stripes [64]sync.Mutex
}

func (s *sequencer) lock(addr Address) func() {
	m := &s.stripes[int(addr[0])%len(s.stripes)]
	m.Lock()
	return m.Unlock
}
