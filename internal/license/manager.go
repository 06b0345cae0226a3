package license

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"licensor/internal/config"
	licerrors "licensor/internal/errors"
	"licensor/internal/infrastructure"
	"licensor/internal/security"
	"licensor/internal/storage"
	"licensor/internal/telemetry"
)

// Store persists the sealed activation record
type Store interface {
	Persist(ctx context.Context, data []byte) error
	Load(ctx context.Context, validate func([]byte) error) (*storage.Loaded, error)
	Clear(ctx context.Context) error
}

// LedgerStore persists the grace ledger. Every valid copy is loaded and
// merged, so it needs LoadAll rather than a single winner.
type LedgerStore interface {
	Persist(ctx context.Context, data []byte) error
	LoadAll(ctx context.Context, validate func([]byte) error) ([][]byte, error)
}

// FingerprintSource computes the current machine fingerprint
type FingerprintSource interface {
	ComputeFingerprint(ctx context.Context) (security.Fingerprint, error)
}

// Recorder receives telemetry events. It must not fail the caller.
type Recorder interface {
	Record(ctx context.Context, eventType, detail string)
}

// Clock supplies the wall time for expiry and grace decisions
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Options configures a Manager
type Options struct {
	PublicKey    *rsa.PublicKey
	Secret       []byte
	Store        Store
	Fingerprints FingerprintSource
	Recorder     Recorder
	Clock        Clock
	// Ledger holds the grace history. It must not share locations with
	// Store. Without one the history lives in memory only, and a stored
	// activation found after a restart gets no grace period.
	Ledger LedgerStore

	// GracePeriod is how long a fingerprint mismatch is tolerated
	GracePeriod time.Duration
	// ImportRate is the refill interval of the import limiter
	ImportRate  time.Duration
	ImportBurst int

	Logger  *slog.Logger
	Metrics *LicenseMetrics
}

// Manager owns the activation record and runs the activation state machine.
// Activate, ValidateNow and Deactivate are serialized; concurrent
// ValidateNow calls share one pass.
type Manager struct {
	publicKey    *rsa.PublicKey
	secret       []byte
	store        Store
	ledgerStore  LedgerStore
	fingerprints FingerprintSource
	recorder     Recorder
	clock        Clock
	gracePeriod  time.Duration
	limiter      *rate.Limiter
	logger       *slog.Logger
	metrics      *LicenseMetrics

	opMu   sync.Mutex
	flight singleflight.Group
	// ledger is the merged grace history; guarded by opMu
	ledger *GraceLedger

	stateMu   sync.RWMutex
	status    Status
	record    *ActivationRecord
	payload   *Payload
	validated bool
	lastCheck time.Time
	// lastSealed is the record bytes most recently persisted by this manager
	lastSealed []byte

	subsMu  sync.Mutex
	subs    map[int]chan StatusChange
	nextSub int
}

// NewManager creates a manager. The initial status is Unactivated until the
// first validation pass.
func NewManager(opts Options) (*Manager, error) {
	if opts.PublicKey == nil {
		return nil, errors.New("license manager: public key required")
	}
	if len(opts.Secret) == 0 {
		return nil, errors.New("license manager: payload secret required")
	}
	if opts.Store == nil {
		return nil, errors.New("license manager: store required")
	}
	if opts.Fingerprints == nil {
		return nil, errors.New("license manager: fingerprint source required")
	}
	if opts.Recorder == nil {
		opts.Recorder = telemetry.Nop{}
	}
	if opts.Clock == nil {
		opts.Clock = systemClock{}
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = config.DefaultGracePeriod
	}
	if opts.ImportRate <= 0 {
		opts.ImportRate = config.DefaultImportRate
	}
	if opts.ImportBurst <= 0 {
		opts.ImportBurst = config.DefaultImportBurst
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = newDefaultMetrics()
	}
	if opts.Ledger == nil {
		mem, err := storage.New([]storage.Backend{storage.NewMemoryBackend("grace_ledger")}, opts.Logger)
		if err != nil {
			return nil, err
		}
		opts.Ledger = mem
	}

	return &Manager{
		publicKey:    opts.PublicKey,
		secret:       append([]byte(nil), opts.Secret...),
		store:        opts.Store,
		ledgerStore:  opts.Ledger,
		ledger:       newGraceLedger(),
		fingerprints: opts.Fingerprints,
		recorder:     opts.Recorder,
		clock:        opts.Clock,
		gracePeriod:  opts.GracePeriod,
		limiter:      rate.NewLimiter(rate.Every(opts.ImportRate), opts.ImportBurst),
		logger:       opts.Logger.With(slog.String("component", "license_manager")),
		metrics:      opts.Metrics,
		status:       StatusUnactivated,
		subs:         make(map[int]chan StatusChange),
	}, nil
}

// Activate imports a license file. A rejected file never changes the
// current activation. The returned error is a *errors.LicenseError
// whose category matches result.Category.
func (m *Manager) Activate(ctx context.Context, data []byte) (ActivationResult, error) {
	ctx, span := startSpan(ctx, "license.activate", attribute.Int("license.file_size", len(data)))
	start := time.Now()

	m.opMu.Lock()
	result, err := m.activate(ctx, data)
	m.opMu.Unlock()

	m.metrics.recordActivation(ctx, result, time.Since(start), len(data))
	m.logOperation(ctx, "activate", start, result.Status, err)
	endSpan(span, result.Status, err)
	return result, err
}

func (m *Manager) activate(ctx context.Context, data []byte) (ActivationResult, error) {
	now := m.clock.Now()

	if !m.limiter.AllowN(now, 1) {
		m.recorder.Record(ctx, telemetry.EventRateLimited, "import attempts throttled")
		return m.reject(ctx, licerrors.CategoryRateLimited, "", errors.New("too many import attempts"))
	}

	sl, err := Decode(data)
	if err != nil {
		m.recorder.Record(ctx, telemetry.EventImportRejected, "category=PayloadCorrupted")
		return m.reject(ctx, licerrors.CategoryPayloadCorrupted, "", err)
	}

	if err := sl.Verify(m.publicKey); err != nil {
		m.recorder.Record(ctx, telemetry.EventTampered, "import signature invalid")
		return m.reject(ctx, licerrors.CategorySignatureInvalid, "", err)
	}

	fp, err := m.fingerprints.ComputeFingerprint(ctx)
	if err != nil {
		m.recorder.Record(ctx, telemetry.EventImportRejected, "fingerprint unavailable")
		return m.reject(ctx, licerrors.CategoryImportRejected, "", err)
	}

	payload, err := sl.Open(fp.MachineID, m.secret)
	if err != nil {
		category := licerrors.CategoryOf(err)
		m.recorder.Record(ctx, telemetry.EventImportRejected, "category="+string(category))
		if category == licerrors.CategoryHardwareMismatch {
			return m.reject(ctx, category, StatusHardwareMismatch, err)
		}
		return m.reject(ctx, category, "", err)
	}

	if payload.IsExpired(now) {
		m.recorder.Record(ctx, telemetry.EventImportRejected, "category=LicenseExpired license_id="+payload.LicenseID)
		return m.reject(ctx, licerrors.CategoryLicenseExpired, StatusExpired, errors.New("license already expired"))
	}

	ledger := m.loadLedger(ctx)
	entry, known := ledger.Entries[payload.LicenseID]
	if entry.Exhausted {
		m.recorder.Record(ctx, telemetry.EventImportRejected, "category=HardwareMismatch grace_exhausted license_id="+payload.LicenseID)
		return m.reject(ctx, licerrors.CategoryHardwareMismatch, StatusHardwareMismatch,
			errors.New("grace period of this license has already elapsed on this machine"))
	}
	if !known {
		entry.RegisteredAt = now
	}
	entry.FirstMismatchAt = nil
	ledger.Entries[payload.LicenseID] = entry
	ledger.Observe(now)
	if err := m.saveLedger(ctx, ledger); err != nil {
		return m.reject(ctx, licerrors.CategoryStoreUnavailable, "", err)
	}

	rec := &ActivationRecord{
		License:         sl.Marshal(),
		BoundMachineID:  fp.MachineID,
		SignalDigests:   fp.Signals,
		ActivatedAt:     now,
		LastValidatedAt: now,
		Status:          StatusActive,
	}
	if err := m.persist(ctx, rec); err != nil {
		return m.reject(ctx, licerrors.CategoryStoreUnavailable, "", err)
	}

	m.setState(ctx, rec, payload, StatusActive, "license imported")
	m.recorder.Record(ctx, telemetry.EventActivationSucceeded,
		fmt.Sprintf("license_id=%s features=%s", payload.LicenseID, strings.Join(payload.Features, ",")))
	m.logAction(ctx, slog.LevelInfo, "activate", "License activated",
		slog.String("license_id", payload.LicenseID),
		maskedMachineID(fp.MachineID),
		slog.Bool("degraded_fingerprint", fp.Degraded))

	return ActivationResult{
		Status:    StatusActive,
		Message:   StatusActive.Message(),
		LicenseID: payload.LicenseID,
		ExpiresAt: payload.ExpiresAt,
		Features:  append([]string(nil), payload.Features...),
	}, nil
}

// reject builds the result for a refused import. verdict is the status the
// file itself earned; an empty verdict reports the unchanged current status.
func (m *Manager) reject(ctx context.Context, category licerrors.Category, verdict Status, cause error) (ActivationResult, error) {
	if verdict == "" {
		verdict = m.Status()
	}
	m.logAction(ctx, slog.LevelWarn, "activate", "License import rejected",
		slog.String("category", string(category)),
		slog.String("error", cause.Error()))

	return ActivationResult{
		Status:   verdict,
		Category: category,
		Message:  category.UserMessage(),
	}, licerrors.NewLicenseError(category, "activate", cause)
}

// ValidateNow runs one validation pass and returns the resulting status.
// Calls arriving while a pass is running receive that pass's result.
func (m *Manager) ValidateNow(ctx context.Context) Status {
	v, _, _ := m.flight.Do("validate", func() (interface{}, error) {
		ctx, span := startSpan(ctx, "license.validate")
		start := time.Now()

		m.opMu.Lock()
		status := m.validate(ctx)
		m.opMu.Unlock()

		m.metrics.recordValidation(ctx, status, time.Since(start))
		m.logOperation(ctx, "validate", start, status, nil)
		endSpan(span, status, nil)
		return status, nil
	})
	return v.(Status)
}

func (m *Manager) validate(ctx context.Context) Status {
	now := m.clock.Now()

	loaded, err := m.store.Load(ctx, func(b []byte) error {
		_, _, err := OpenRecord(b, m.secret, m.verify)
		return err
	})
	if err != nil {
		return m.loadFailed(ctx, err)
	}

	rec, sl, err := OpenRecord(loaded.Data, m.secret, m.verify)
	if err != nil {
		return m.loadFailed(ctx, err)
	}
	if len(loaded.Stale) > 0 {
		m.recorder.Record(ctx, telemetry.EventStoreDegraded, "stale="+strings.Join(loaded.Stale, ","))
		m.logAction(ctx, slog.LevelWarn, "validate", "Some license locations are stale and will be rewritten",
			slog.Any("stale", loaded.Stale),
			slog.String("source", loaded.Source))
	}

	ledger := m.loadLedger(ctx)

	// A stored record older than the one this manager last sealed was
	// restored from a copy; keep the current record
	m.stateMu.RLock()
	current := m.record
	m.stateMu.RUnlock()
	if current != nil && rec.LastValidatedAt.Before(current.LastValidatedAt) {
		m.recordRollback(ctx, loaded.Source, rec.LastValidatedAt, current.LastValidatedAt)
		rec = current.clone()
		if sl, err = Decode(rec.License); err != nil {
			return m.loadFailed(ctx, fmt.Errorf("%w: %v", ErrRecordCorrupted, err))
		}
	} else if rec.LastValidatedAt.Before(ledger.HighWater) {
		m.recordRollback(ctx, loaded.Source, rec.LastValidatedAt, ledger.HighWater)
	}

	// Time never runs backwards for license decisions
	floor := rec.LastValidatedAt
	if ledger.HighWater.After(floor) {
		floor = ledger.HighWater
	}
	effective := now
	if floor.After(now) {
		effective = floor
		m.recorder.Record(ctx, telemetry.EventClockRollback,
			fmt.Sprintf("now=%s last_validated=%s", now.UTC().Format(time.RFC3339), floor.UTC().Format(time.RFC3339)))
		m.logAction(ctx, slog.LevelWarn, "validate", "System clock is behind the last validation",
			slog.Time("now", now),
			slog.Time("last_validated_at", floor))
	}

	payload, err := sl.Open(rec.BoundMachineID, m.secret)
	if err != nil {
		m.recorder.Record(ctx, telemetry.EventTampered, "stored license does not open under its bound machine id")
		m.setState(ctx, nil, nil, StatusTampered, "stored license unreadable")
		return StatusTampered
	}

	next := rec.clone()
	next.LastValidatedAt = effective
	status, reason := m.evaluate(ctx, next, payload, effective, ledger)
	next.Status = status

	ledger.Observe(effective)
	if err := m.saveLedger(ctx, ledger); err != nil {
		m.logAction(ctx, slog.LevelError, "validate", "Failed to persist grace ledger",
			slog.String("error", err.Error()))
	}
	if err := m.persist(ctx, next); err != nil {
		m.logAction(ctx, slog.LevelError, "validate", "Failed to persist activation record",
			slog.String("error", err.Error()))
	}

	m.setState(ctx, next, payload, status, reason)
	return status
}

func (m *Manager) recordRollback(ctx context.Context, source string, stored, known time.Time) {
	m.recorder.Record(ctx, telemetry.EventRecordRollback,
		fmt.Sprintf("source=%s stored=%s known=%s", source, stored.UTC().Format(time.RFC3339), known.UTC().Format(time.RFC3339)))
	m.logAction(ctx, slog.LevelWarn, "validate", "Stored activation record is older than the last one seen",
		slog.String("source", source),
		slog.Time("stored_last_validated_at", stored),
		slog.Time("known_last_validated_at", known))
}

// evaluate applies the expiry and fingerprint gates. It updates the grace
// fields of rec and the license's ledger entry and returns the new status.
func (m *Manager) evaluate(ctx context.Context, rec *ActivationRecord, payload *Payload, at time.Time, ledger *GraceLedger) (Status, string) {
	if payload.IsExpired(at) {
		return StatusExpired, "license expired"
	}

	id := payload.LicenseID
	entry, known := ledger.Entries[id]
	if !known {
		entry.RegisteredAt = at
	}

	if entry.Exhausted || rec.Status == StatusHardwareMismatch {
		entry.Exhausted = true
		ledger.Entries[id] = entry
		return StatusHardwareMismatch, "hardware mismatch persists"
	}

	fp, err := m.fingerprints.ComputeFingerprint(ctx)
	if err == nil && fp.MachineID == rec.BoundMachineID {
		if started := earliest(rec.GraceStartedAt, entry.FirstMismatchAt); started != nil {
			m.recorder.Record(ctx, telemetry.EventHardwareRematched,
				"grace_started="+started.UTC().Format(time.RFC3339))
		}
		rec.GraceStartedAt = nil
		rec.SignalDigests = fp.Signals
		entry.FirstMismatchAt = nil
		ledger.Entries[id] = entry
		return StatusActive, "fingerprint matches"
	}

	m.metrics.recordMismatch(ctx)
	changed := "unavailable"
	if err == nil {
		changed = strings.Join(security.ChangedSignals(rec.SignalDigests, fp.Signals), ",")
	}

	started := earliest(rec.GraceStartedAt, entry.FirstMismatchAt)
	if started == nil && !known {
		// A stored activation without grace history: the ledger was removed
		entry.Exhausted = true
		ledger.Entries[id] = entry
		m.recorder.Record(ctx, telemetry.EventGraceExpired, "changed="+changed+" grace_history=missing")
		m.logAction(ctx, slog.LevelWarn, "validate", "Hardware change detected without grace history",
			slog.String("changed_signals", changed),
			slog.String("license_id", id))
		return StatusHardwareMismatch, "grace history missing"
	}

	if started == nil {
		s := at
		started = &s
		m.recorder.Record(ctx, telemetry.EventGraceStarted, "changed="+changed)
		m.logAction(ctx, slog.LevelWarn, "validate", "Hardware change detected, grace period started",
			slog.String("changed_signals", changed),
			slog.Duration("grace_period", m.gracePeriod))
	}
	recStart, entryStart := *started, *started
	rec.GraceStartedAt = &recStart
	entry.FirstMismatchAt = &entryStart

	if at.Sub(*started) >= m.gracePeriod {
		entry.Exhausted = true
		ledger.Entries[id] = entry
		m.recorder.Record(ctx, telemetry.EventGraceExpired, "changed="+changed)
		return StatusHardwareMismatch, "grace period elapsed"
	}
	ledger.Entries[id] = entry
	return StatusGracePeriod, "fingerprint mismatch"
}

// earliest returns the earlier of two optional times
func earliest(a, b *time.Time) *time.Time {
	switch {
	case a == nil:
		return b
	case b == nil || a.Before(*b):
		return a
	}
	return b
}

// loadLedger merges every stored ledger copy into the in-memory history.
// Copies that fail their seal are skipped.
func (m *Manager) loadLedger(ctx context.Context) *GraceLedger {
	merged := m.ledger.clone()

	blobs, err := m.ledgerStore.LoadAll(ctx, func(b []byte) error {
		_, err := OpenLedger(b, m.secret)
		return err
	})
	switch {
	case err == nil, errors.Is(err, storage.ErrNotFound):
	case errors.Is(err, ErrLedgerTampered):
		m.recorder.Record(ctx, telemetry.EventTampered, "grace ledger rejected")
		m.logAction(ctx, slog.LevelWarn, "ledger", "Stored grace ledger rejected",
			slog.String("error", err.Error()))
	default:
		m.logAction(ctx, slog.LevelWarn, "ledger", "Grace ledger unreadable",
			slog.String("error", err.Error()))
	}

	for _, b := range blobs {
		if l, err := OpenLedger(b, m.secret); err == nil {
			merged.Merge(l)
		}
	}
	return merged
}

// saveLedger adopts l as the in-memory history and writes it to every
// ledger location
func (m *Manager) saveLedger(ctx context.Context, l *GraceLedger) error {
	m.ledger = l.clone()

	sealed, err := l.clone().Seal(m.secret)
	if err != nil {
		return err
	}
	if err := m.ledgerStore.Persist(ctx, sealed); err != nil {
		m.metrics.recordStoreFailure(ctx)
		m.recorder.Record(ctx, telemetry.EventPersistFailed, "no location accepted the grace ledger")
		return err
	}
	return nil
}

func (m *Manager) loadFailed(ctx context.Context, err error) Status {
	if errors.Is(err, storage.ErrNotFound) {
		m.setState(ctx, nil, nil, StatusUnactivated, "no activation record")
		return StatusUnactivated
	}

	status, event := StatusCorrupted, telemetry.EventCorrupted
	if errors.Is(err, ErrRecordTampered) {
		status, event = StatusTampered, telemetry.EventTampered
	}
	m.recorder.Record(ctx, event, "stored activation rejected")
	m.logAction(ctx, slog.LevelError, "validate", "Stored activation rejected",
		slog.String("status", string(status)),
		slog.String("error", err.Error()))

	m.setState(ctx, nil, nil, status, "stored activation rejected")
	return status
}

func (m *Manager) verify(sl *SignedLicense) error {
	return sl.Verify(m.publicKey)
}

func (m *Manager) persist(ctx context.Context, rec *ActivationRecord) error {
	sealed, err := rec.Seal(m.secret)
	if err != nil {
		return err
	}
	if err := m.store.Persist(ctx, sealed); err != nil {
		m.metrics.recordStoreFailure(ctx)
		m.recorder.Record(ctx, telemetry.EventPersistFailed, "no location accepted the record")
		return err
	}

	m.stateMu.Lock()
	m.lastSealed = sealed
	m.stateMu.Unlock()
	return nil
}

// GetStatus returns the current status, validating first if no pass has run yet
func (m *Manager) GetStatus(ctx context.Context) Status {
	m.stateMu.RLock()
	validated, status := m.validated, m.status
	m.stateMu.RUnlock()

	if !validated {
		return m.ValidateNow(ctx)
	}
	return status
}

// Status returns the last known status without validating
func (m *Manager) Status() Status {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.status
}

// Deactivate removes the activation from every location
func (m *Manager) Deactivate(ctx context.Context) error {
	ctx, span := startSpan(ctx, "license.deactivate")
	start := time.Now()

	m.opMu.Lock()
	defer m.opMu.Unlock()

	if err := m.store.Clear(ctx); err != nil {
		m.logOperation(ctx, "deactivate", start, m.Status(), err)
		endSpan(span, m.Status(), err)
		return err
	}

	m.stateMu.Lock()
	m.lastSealed = nil
	m.stateMu.Unlock()

	m.recorder.Record(ctx, telemetry.EventDeactivated, "user requested")
	m.setState(ctx, nil, nil, StatusUnactivated, "deactivated")
	m.logOperation(ctx, "deactivate", start, StatusUnactivated, nil)
	endSpan(span, StatusUnactivated, nil)
	return nil
}

// HasFeature reports whether the feature is licensed and usable now
func (m *Manager) HasFeature(name string) bool {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.status.Usable() && m.payload != nil && m.payload.HasFeature(name)
}

// Record returns a copy of the current activation record, or nil
func (m *Manager) Record() *ActivationRecord {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	if m.record == nil {
		return nil
	}
	return m.record.clone()
}

// Info returns a display snapshot of the activation
func (m *Manager) Info() Info {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()

	info := Info{Status: m.status, Message: m.status.Message()}
	if p := m.payload; p != nil {
		issued := p.IssuedAt
		info.LicenseID = p.LicenseID
		info.CustomerRef = p.CustomerRef
		info.Features = append([]string(nil), p.Features...)
		info.IssuedAt = &issued
		info.ExpiresAt = p.ExpiresAt
		if p.ExpiresAt != nil {
			days := int(p.ExpiresAt.Sub(m.lastCheck).Hours() / 24)
			if days < 0 {
				days = 0
			}
			info.DaysLeft = &days
		}
	}
	if r := m.record; r != nil {
		activated, validated := r.ActivatedAt, r.LastValidatedAt
		info.ActivatedAt = &activated
		info.LastValidatedAt = &validated
		info.MachineID = infrastructure.MaskIdentifier(r.BoundMachineID)
		if r.GraceStartedAt != nil {
			started := *r.GraceStartedAt
			ends := started.Add(m.gracePeriod)
			info.GraceStartedAt = &started
			info.GraceEndsAt = &ends
		}
	}
	return info
}

// Subscribe returns a channel of status changes and a function that ends
// the subscription. Slow subscribers miss changes rather than block.
func (m *Manager) Subscribe(buffer int) (<-chan StatusChange, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan StatusChange, buffer)

	m.subsMu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	m.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.subsMu.Lock()
			delete(m.subs, id)
			m.subsMu.Unlock()
			close(ch)
		})
	}
}

// Run validates immediately and then on every interval until ctx is done
func (m *Manager) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = config.DefaultValidationInterval
	}

	m.ValidateNow(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.ValidateNow(ctx)
		}
	}
}

func (m *Manager) setState(ctx context.Context, rec *ActivationRecord, payload *Payload, status Status, reason string) {
	now := m.clock.Now()

	m.stateMu.Lock()
	from := m.status
	m.status = status
	m.record = rec
	m.payload = payload
	m.validated = true
	m.lastCheck = now
	m.stateMu.Unlock()

	if from == status {
		return
	}

	change := StatusChange{From: from, To: status, At: now, Reason: reason}
	m.metrics.recordTransition(ctx, from, status)
	m.recorder.Record(ctx, telemetry.EventStatusChanged,
		fmt.Sprintf("from=%s to=%s reason=%s", from, status, reason))
	m.logAction(ctx, slog.LevelInfo, "transition", "License status changed",
		slog.String("from", string(from)),
		slog.String("to", string(status)),
		slog.String("reason", reason))

	m.subsMu.Lock()
	for _, ch := range m.subs {
		select {
		case ch <- change:
		default:
		}
	}
	m.subsMu.Unlock()
}
