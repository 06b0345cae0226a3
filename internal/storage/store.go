package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"golang.org/x/sync/errgroup"

	"licensor/internal/config"
	licerrors "licensor/internal/errors"
)

// Store persists one blob redundantly across an ordered list of backends.
// Earlier backends have higher priority when candidates tie.
type Store struct {
	backends []Backend
	logger   *slog.Logger
	attempts uint
	delay    time.Duration
}

// Option configures a Store
type Option func(*Store)

// WithReadRetry sets how often a failing backend read is attempted
func WithReadRetry(attempts uint, delay time.Duration) Option {
	return func(s *Store) {
		if attempts == 0 {
			attempts = 1
		}
		s.attempts = attempts
		s.delay = delay
	}
}

// New creates a store over the given backends in priority order
func New(backends []Backend, logger *slog.Logger, opts ...Option) (*Store, error) {
	if len(backends) == 0 {
		return nil, errors.New("storage: at least one backend required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{
		backends: append([]Backend(nil), backends...),
		logger:   logger.With(slog.String("component", "license_store")),
		attempts: config.StoreReadAttempts,
		delay:    config.StoreRetryDelay,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Loaded is the winning candidate of a Load
type Loaded struct {
	Data    []byte
	Source  string
	ModTime time.Time
	// Stale lists locations that are missing, unreadable or hold a blob
	// other than the winner. The next Persist repairs them.
	Stale []string
}

// Rejection records why a present candidate was not used
type Rejection struct {
	Source string
	Err    error
}

// InvalidError is returned when every present candidate failed validation
type InvalidError struct {
	Rejections []Rejection
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("all %d stored candidates invalid", len(e.Rejections))
}

// Unwrap exposes every rejection cause to errors.Is and errors.As
func (e *InvalidError) Unwrap() []error {
	errs := make([]error, 0, len(e.Rejections))
	for _, r := range e.Rejections {
		errs = append(errs, r.Err)
	}
	return errs
}

type candidate struct {
	index   int
	data    []byte
	modTime time.Time
	err     error
}

// Load reads every location in parallel and returns the most recently
// modified candidate accepted by validate. Candidates with equal
// modification times resolve by backend priority. It returns ErrNotFound
// when no location holds a blob, an *InvalidError when every blob was
// rejected, and a StoreUnavailable error when nothing could be read.
func (s *Store) Load(ctx context.Context, validate func([]byte) error) (*Loaded, error) {
	results := s.readAll(ctx)
	accepted, err := s.accept(ctx, results, validate)
	if err != nil {
		return nil, err
	}

	best := accepted[0]
	for _, c := range accepted[1:] {
		if c.modTime.After(best.modTime) {
			best = c
		}
	}

	var stale []string
	for i := range results {
		c := &results[i]
		if c.index == best.index {
			continue
		}
		if c.err != nil || string(c.data) != string(best.data) {
			stale = append(stale, s.backends[c.index].Name())
		}
	}

	return &Loaded{
		Data:    best.data,
		Source:  s.backends[best.index].Name(),
		ModTime: best.modTime,
		Stale:   stale,
	}, nil
}

// LoadAll returns every candidate accepted by validate, in backend priority
// order. Callers that merge their state across locations use it instead of
// Load. Errors are those of Load.
func (s *Store) LoadAll(ctx context.Context, validate func([]byte) error) ([][]byte, error) {
	accepted, err := s.accept(ctx, s.readAll(ctx), validate)
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(accepted))
	for i, c := range accepted {
		out[i] = c.data
	}
	return out, nil
}

func (s *Store) readAll(ctx context.Context) []candidate {
	results := make([]candidate, len(s.backends))

	g, gctx := errgroup.WithContext(ctx)
	for i, b := range s.backends {
		g.Go(func() error {
			data, modTime, err := s.readWithRetry(gctx, b)
			results[i] = candidate{index: i, data: data, modTime: modTime, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// accept filters the read results through validate, keeping priority order
func (s *Store) accept(ctx context.Context, results []candidate, validate func([]byte) error) ([]*candidate, error) {
	var (
		accepted   []*candidate
		rejections []Rejection
		readErrs   []error
	)
	for i := range results {
		c := &results[i]
		name := s.backends[c.index].Name()

		if c.err != nil {
			if !errors.Is(c.err, ErrNotExist) {
				readErrs = append(readErrs, fmt.Errorf("%s: %w", name, c.err))
				s.logger.WarnContext(ctx, "License location unreadable",
					slog.String("location", name),
					slog.String("error", c.err.Error()))
			}
			continue
		}

		if validate != nil {
			if err := validate(c.data); err != nil {
				rejections = append(rejections, Rejection{Source: name, Err: err})
				s.logger.WarnContext(ctx, "Stored license candidate rejected",
					slog.String("location", name),
					slog.String("error", err.Error()))
				continue
			}
		}
		accepted = append(accepted, c)
	}

	if len(accepted) > 0 {
		return accepted, nil
	}
	switch {
	case len(rejections) > 0:
		return nil, &InvalidError{Rejections: rejections}
	case len(readErrs) > 0:
		return nil, licerrors.NewLicenseError(licerrors.CategoryStoreUnavailable, "load", errors.Join(readErrs...))
	default:
		return nil, ErrNotFound
	}
}

// readWithRetry retries transient read failures. Absence is final.
func (s *Store) readWithRetry(ctx context.Context, b Backend) ([]byte, time.Time, error) {
	var (
		data    []byte
		modTime time.Time
		lastErr error
	)

	_ = retry.Do(
		func() error {
			data, modTime, lastErr = b.Read(ctx)
			return lastErr
		},
		retry.Attempts(s.attempts),
		retry.Delay(s.delay),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, ErrNotExist) && ctx.Err() == nil
		}),
		retry.OnRetry(func(n uint, err error) {
			s.logger.DebugContext(ctx, "Retrying license location read",
				slog.String("location", b.Name()),
				slog.Uint64("attempt", uint64(n+1)),
				slog.String("error", err.Error()))
		}),
	)

	if lastErr != nil {
		return nil, time.Time{}, lastErr
	}
	return data, modTime, nil
}

// Persist writes the blob to every location. It fails only when no
// location accepted the write.
func (s *Store) Persist(ctx context.Context, data []byte) error {
	errs := make([]error, len(s.backends))

	var wg sync.WaitGroup
	for i, b := range s.backends {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := b.Write(ctx, data); err != nil {
				errs[i] = fmt.Errorf("%s: %w", b.Name(), err)
			}
		}()
	}
	wg.Wait()

	written := 0
	var failed []error
	for i, err := range errs {
		if err == nil {
			written++
			continue
		}
		failed = append(failed, err)
		s.logger.WarnContext(ctx, "License location write failed",
			slog.String("location", s.backends[i].Name()),
			slog.String("error", err.Error()))
	}

	if written == 0 {
		return licerrors.NewLicenseError(licerrors.CategoryStoreUnavailable, "persist", errors.Join(failed...))
	}

	s.logger.DebugContext(ctx, "License persisted",
		slog.Int("locations_written", written),
		slog.Int("locations_failed", len(failed)))
	return nil
}

// Clear removes the blob from every location. All locations are attempted
// even when some fail.
func (s *Store) Clear(ctx context.Context) error {
	var errs []error
	for _, b := range s.backends {
		if err := b.Remove(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
		}
	}
	if len(errs) > 0 {
		return licerrors.NewLicenseError(licerrors.CategoryStoreUnavailable, "clear", errors.Join(errs...))
	}
	return nil
}

// LocationHealth describes one backend for diagnostics
type LocationHealth struct {
	Name    string    `json:"name"`
	Present bool      `json:"present"`
	ModTime time.Time `json:"mod_time,omitempty"`
	Error   string    `json:"error,omitempty"`
}

// Health reads every location once without validation
func (s *Store) Health(ctx context.Context) []LocationHealth {
	out := make([]LocationHealth, len(s.backends))
	for i, b := range s.backends {
		out[i].Name = b.Name()
		_, modTime, err := b.Read(ctx)
		switch {
		case err == nil:
			out[i].Present = true
			out[i].ModTime = modTime
		case errors.Is(err, ErrNotExist):
		default:
			out[i].Error = err.Error()
		}
	}
	return out
}

// Backends returns the configured locations in priority order
func (s *Store) Backends() []Backend {
	return append([]Backend(nil), s.backends...)
}

// Close closes backends that hold resources
func (s *Store) Close() error {
	var errs []error
	for _, b := range s.backends {
		if c, ok := b.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
