package security

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Hardware signal names. The identity set used for the MachineId is
// configurable; SignalMAC and SignalHostname are diagnostic by default and
// only used as a degraded fallback.
const (
	SignalPlatformID  = "platform_id"
	SignalProductUUID = "product_uuid"
	SignalBoardSerial = "board_serial"
	SignalBoardName   = "board_name"
	SignalVolumeID    = "volume_id"
	SignalCPU         = "cpu"
	SignalMAC         = "mac"
	SignalHostname    = "hostname"
)

// fingerprintDomain versions the MachineId derivation
const fingerprintDomain = "licensor-machine-id-v1"

// ErrNoHardwareSignals is returned when not a single signal, including the
// fallback ones, could be read.
var ErrNoHardwareSignals = errors.New("no hardware signals available")

// SignalSource reads one raw hardware signal. A source that cannot read its
// signal returns an error; the provider records it as missing.
type SignalSource interface {
	Name() string
	Read(ctx context.Context) (string, error)
}

// SignalFunc adapts a function to SignalSource
type SignalFunc struct {
	SignalName string
	Fn         func(ctx context.Context) (string, error)
}

// Name implements SignalSource
func (s SignalFunc) Name() string { return s.SignalName }

// Read implements SignalSource
func (s SignalFunc) Read(ctx context.Context) (string, error) { return s.Fn(ctx) }

// StaticSignal returns a source with a fixed value. An empty value reads as missing.
func StaticSignal(name, value string) SignalSource {
	return SignalFunc{SignalName: name, Fn: func(context.Context) (string, error) {
		if value == "" {
			return "", fmt.Errorf("%s unavailable", name)
		}
		return value, nil
	}}
}

// Fingerprint is the result of one fingerprint computation
type Fingerprint struct {
	MachineID string `json:"machine_id"`
	// Signals maps every readable signal to a digest of its value. Raw
	// hardware values are never kept.
	Signals  map[string]string `json:"signals"`
	Missing  []string          `json:"missing,omitempty"`
	Degraded bool              `json:"degraded"`
	// ComputedAt is when the signals were read
	ComputedAt time.Time `json:"computed_at"`
}

// FingerprintProvider derives the MachineId from hardware signals
type FingerprintProvider struct {
	sources  map[string]SignalSource
	identity []string
	logger   *slog.Logger

	cache         *Fingerprint
	cacheMutex    sync.RWMutex
	cacheExpiry   time.Time
	cacheDuration time.Duration
}

// FingerprintOption configures a FingerprintProvider
type FingerprintOption func(*FingerprintProvider)

// WithSignalSources replaces the platform sources. Used by tests and by
// hosts that can read signals the defaults cannot.
func WithSignalSources(sources ...SignalSource) FingerprintOption {
	return func(p *FingerprintProvider) {
		p.sources = make(map[string]SignalSource, len(sources))
		for _, s := range sources {
			p.sources[s.Name()] = s
		}
	}
}

// WithCacheDuration sets how long a computed fingerprint is reused. Zero disables caching.
func WithCacheDuration(d time.Duration) FingerprintOption {
	return func(p *FingerprintProvider) {
		p.cacheDuration = d
	}
}

// NewFingerprintProvider creates a provider over the given identity signals
// (in order). Unknown names are kept and simply read as missing.
func NewFingerprintProvider(identity []string, logger *slog.Logger, opts ...FingerprintOption) *FingerprintProvider {
	if logger == nil {
		logger = slog.Default()
	}

	p := &FingerprintProvider{
		identity:      append([]string(nil), identity...),
		logger:        logger.With(slog.String("component", "fingerprint")),
		cacheDuration: 5 * time.Minute,
	}

	p.sources = make(map[string]SignalSource)
	for _, s := range defaultSignalSources() {
		p.sources[s.Name()] = s
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// ComputeFingerprint reads all signals and derives the MachineId. Missing
// identity signals hash as empty strings so the ID stays defined; only a
// machine with no readable signal at all is an error.
func (p *FingerprintProvider) ComputeFingerprint(ctx context.Context) (Fingerprint, error) {
	p.cacheMutex.RLock()
	if p.cache != nil && time.Now().Before(p.cacheExpiry) {
		cached := *p.cache
		p.cacheMutex.RUnlock()
		return cached, nil
	}
	p.cacheMutex.RUnlock()

	start := time.Now()
	values := p.readAll(ctx)

	fp := Fingerprint{
		Signals:    make(map[string]string, len(values)),
		ComputedAt: start,
	}
	for name, v := range values {
		fp.Signals[name] = signalDigest(name, v)
	}

	present := 0
	for _, name := range p.identity {
		if values[name] == "" {
			fp.Missing = append(fp.Missing, name)
		} else {
			present++
		}
	}

	idSignals := p.identity
	if present == 0 {
		// Degraded mode: fall back to the diagnostic signals
		idSignals = []string{SignalHostname, SignalMAC}
		fp.Degraded = true
		if values[SignalHostname] == "" && values[SignalMAC] == "" {
			return Fingerprint{}, ErrNoHardwareSignals
		}
		p.logger.WarnContext(ctx, "No identity signals readable, using degraded fingerprint",
			slog.Any("missing", fp.Missing))
	}

	fp.MachineID = deriveMachineID(idSignals, values)

	if p.cacheDuration > 0 {
		p.cacheMutex.Lock()
		cached := fp
		p.cache = &cached
		p.cacheExpiry = time.Now().Add(p.cacheDuration)
		p.cacheMutex.Unlock()
	}

	p.logger.DebugContext(ctx, "Fingerprint computed",
		slog.Int("signals", len(values)),
		slog.Any("missing", fp.Missing),
		slog.Bool("degraded", fp.Degraded),
		slog.Duration("duration", time.Since(start)))

	return fp, nil
}

// ClearCache drops the cached fingerprint
func (p *FingerprintProvider) ClearCache() {
	p.cacheMutex.Lock()
	defer p.cacheMutex.Unlock()

	p.cache = nil
	p.cacheExpiry = time.Time{}
}

// IdentitySignals returns the configured identity set
func (p *FingerprintProvider) IdentitySignals() []string {
	return append([]string(nil), p.identity...)
}

func (p *FingerprintProvider) readAll(ctx context.Context) map[string]string {
	values := make(map[string]string, len(p.sources))
	for name, src := range p.sources {
		v, err := src.Read(ctx)
		if err != nil {
			p.logger.DebugContext(ctx, "Signal unavailable",
				slog.String("signal", name),
				slog.String("error", err.Error()))
			continue
		}
		if v = normalizeSignal(v); v != "" {
			values[name] = v
		}
	}
	return values
}

// deriveMachineID hashes the signals in the given order. Each entry is
// length-prefixed so adjacent values cannot run together.
func deriveMachineID(names []string, values map[string]string) string {
	h := sha256.New()
	h.Write([]byte(fingerprintDomain))
	for _, name := range names {
		v := values[name]
		fmt.Fprintf(h, "|%s:%d:%s", name, len(v), v)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func signalDigest(name, value string) string {
	sum := sha256.Sum256([]byte(name + "=" + value))
	return hex.EncodeToString(sum[:8])
}

func normalizeSignal(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	v = strings.Trim(v, "{}\x00")
	switch v {
	case "", "none", "unknown", "not specified", "default string", "to be filled by o.e.m.",
		"00000000-0000-0000-0000-000000000000", "03000200-0400-0500-0006-000700080009":
		return ""
	}
	return v
}

// ChangedSignals lists the signals whose digests differ between two
// fingerprints. Signals readable in only one of them count as changed.
func ChangedSignals(previous, current map[string]string) []string {
	seen := make(map[string]struct{}, len(previous)+len(current))
	var changed []string
	for name, d := range previous {
		seen[name] = struct{}{}
		if current[name] != d {
			changed = append(changed, name)
		}
	}
	for name := range current {
		if _, ok := seen[name]; !ok {
			changed = append(changed, name)
		}
	}
	sort.Strings(changed)
	return changed
}

// hostnameSource and macSource are shared by every platform

func hostnameSource() SignalSource {
	return SignalFunc{SignalName: SignalHostname, Fn: func(context.Context) (string, error) {
		hostname, err := os.Hostname()
		if err != nil {
			return "", fmt.Errorf("failed to get hostname: %w", err)
		}
		return hostname, nil
	}}
}

func macSource() SignalSource {
	return SignalFunc{SignalName: SignalMAC, Fn: func(context.Context) (string, error) {
		interfaces, err := net.Interfaces()
		if err != nil {
			return "", fmt.Errorf("failed to get network interfaces: %w", err)
		}

		// Lowest MAC among physical, non-loopback interfaces so the choice
		// does not depend on interface enumeration order.
		var macs []string
		for _, iface := range interfaces {
			if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) == 0 {
				continue
			}
			mac := iface.HardwareAddr.String()
			if mac == "00:00:00:00:00:00" {
				continue
			}
			macs = append(macs, mac)
		}
		if len(macs) == 0 {
			return "", errors.New("no valid MAC address found")
		}
		sort.Strings(macs)
		return macs[0], nil
	}}
}

// readFirstFile returns the trimmed content of the first readable, non-empty file
func readFirstFile(paths ...string) (string, error) {
	var lastErr error
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			lastErr = err
			continue
		}
		if v := strings.TrimSpace(string(data)); v != "" {
			return v, nil
		}
	}
	if lastErr == nil {
		lastErr = errors.New("empty")
	}
	return "", lastErr
}
