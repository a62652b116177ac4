package checkin

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"ticket-backoffice/internal/status"
	"ticket-backoffice/models"
	"ticket-backoffice/monitoring"

	"github.com/jonboulle/clockwork"
)

const DefaultSettleDelay = 2 * time.Second

type Checker interface {
	CheckIn(ctx context.Context, ticketID string) models.CheckInResult
}

// CodeVerifier checks the code printed next to the ticket id in a QR URL.
// It returns status.ErrInvalidCode for forged or revoked codes.
type CodeVerifier interface {
	Verify(ctx context.Context, ticketID, code string) error
}

type scanState struct {
	locked   bool
	unlockAt time.Time
}

// Scanner turns decode callbacks from one physical scanner into check-ins.
// While a scan is being processed, and for the settle delay after its result
// is reported, further decodes are dropped.
type Scanner struct {
	id       string
	checker  Checker
	verifier CodeVerifier
	clock    clockwork.Clock
	settle   time.Duration
	report   func(models.CheckInResult)

	mu    sync.Mutex
	state scanState
}

// NewScanner returns a scanner for one device. A nil verifier accepts any code.
func NewScanner(id string, checker Checker, verifier CodeVerifier, clock clockwork.Clock, settle time.Duration, report func(models.CheckInResult)) *Scanner {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if settle <= 0 {
		settle = DefaultSettleDelay
	}
	if report == nil {
		report = func(models.CheckInResult) {}
	}
	return &Scanner{id: id, checker: checker, verifier: verifier, clock: clock, settle: settle, report: report}
}

func (s *Scanner) ID() string { return s.id }

// HandleDecode processes one decoded frame. It returns false when the frame
// was dropped because the scanner is locked; no store call is made then.
func (s *Scanner) HandleDecode(ctx context.Context, text string) (models.CheckInResult, bool) {
	s.mu.Lock()
	if s.state.locked {
		s.mu.Unlock()
		monitoring.TrackDroppedScan()
		slog.Debug("Scan dropped while locked", "scanner_id", s.id)
		return models.CheckInResult{}, false
	}
	s.state = scanState{locked: true}
	s.mu.Unlock()

	result := s.process(ctx, text)
	s.report(result)

	s.mu.Lock()
	s.state.unlockAt = s.clock.Now().Add(s.settle)
	s.mu.Unlock()
	s.clock.AfterFunc(s.settle, s.unlock)

	return result, true
}

func (s *Scanner) process(ctx context.Context, text string) models.CheckInResult {
	ticketID, code, err := ExtractTicketID(text)
	if err == nil && s.verifier != nil {
		err = s.verifier.Verify(ctx, ticketID, code)
	}

	switch {
	case err == nil:
		return s.checker.CheckIn(ctx, ticketID)
	case errors.Is(err, status.ErrInvalidCode):
		slog.Info("Rejected scan with invalid code", "scanner_id", s.id, "ticket_id", ticketID)
		monitoring.TrackCheckIn(string(models.OutcomeNotFound))
		return models.CheckInResult{Outcome: models.OutcomeNotFound, Message: "invalid code"}
	default:
		slog.Error("QR code verification failed", "scanner_id", s.id, "ticket_id", ticketID, "error", err)
		monitoring.TrackCheckIn(string(models.OutcomeError))
		return models.CheckInResult{Outcome: models.OutcomeError, Message: "check-in could not be completed, try again"}
	}
}

// HandleDecodeError receives camera or decoder failures. They never change
// scanner state.
func (s *Scanner) HandleDecodeError(err error) {
	slog.Warn("QR decode failed", "scanner_id", s.id, "error", err)
}

// Locked reports whether the scanner is dropping input and until when.
// unlockAt is zero while the current scan is still in flight.
func (s *Scanner) Locked() (bool, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.locked, s.state.unlockAt
}

func (s *Scanner) unlock() {
	s.mu.Lock()
	s.state = scanState{}
	s.mu.Unlock()
}

// ExtractTicketID accepts either a bare ticket id or a URL carrying it in the
// ticket or id query parameter, or as the last path segment. code is the
// URL's code parameter, empty when there is none.
func ExtractTicketID(text string) (ticketID, code string, err error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", "", status.ErrInvalidCode
	}
	if !strings.Contains(text, "://") {
		ticketID, err = validID(text)
		return ticketID, "", err
	}

	u, err := url.Parse(text)
	if err != nil {
		return "", "", status.ErrInvalidCode
	}
	q := u.Query()
	raw := path.Base(strings.TrimRight(u.Path, "/"))
	for _, key := range []string{"ticket", "id"} {
		if v := strings.TrimSpace(q.Get(key)); v != "" {
			raw = v
			break
		}
	}
	if ticketID, err = validID(raw); err != nil {
		return "", "", err
	}
	return ticketID, strings.TrimSpace(q.Get("code")), nil
}

func validID(id string) (string, error) {
	if id == "" || id == "." || id == "/" {
		return "", status.ErrInvalidCode
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return "", status.ErrInvalidCode
		}
	}
	return id, nil
}

// DefaultScannerIdle is how long a scanner may stay silent before the pool
// forgets it.
const DefaultScannerIdle = 10 * time.Minute

type pooledScanner struct {
	scanner  *Scanner
	lastSeen time.Time
}

// ScannerPool gives every physical scanner its own lock state. Scanners
// unused for longer than the idle TTL are evicted by Sweep.
type ScannerPool struct {
	checker  Checker
	verifier CodeVerifier
	clock    clockwork.Clock
	settle   time.Duration
	idle     time.Duration
	report   func(scannerID string, result models.CheckInResult)

	mu       sync.Mutex
	scanners map[string]*pooledScanner
}

func NewScannerPool(checker Checker, verifier CodeVerifier, clock clockwork.Clock, settle, idle time.Duration, report func(string, models.CheckInResult)) *ScannerPool {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if idle <= 0 {
		idle = DefaultScannerIdle
	}
	return &ScannerPool{
		checker:  checker,
		verifier: verifier,
		clock:    clock,
		settle:   settle,
		idle:     idle,
		report:   report,
		scanners: make(map[string]*pooledScanner),
	}
}

// Get returns the scanner for id, creating it on first use.
func (p *ScannerPool) Get(id string) *Scanner {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	if ps, ok := p.scanners[id]; ok {
		ps.lastSeen = now
		return ps.scanner
	}
	var report func(models.CheckInResult)
	if p.report != nil {
		report = func(r models.CheckInResult) { p.report(id, r) }
	}
	s := NewScanner(id, p.checker, p.verifier, p.clock, p.settle, report)
	p.scanners[id] = &pooledScanner{scanner: s, lastSeen: now}
	monitoring.SetActiveScanners(len(p.scanners))
	return s
}

func (p *ScannerPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.scanners)
}

// Sweep forgets scanners idle for longer than the TTL. A locked scanner is
// kept until its lock clears. Returns how many were removed.
func (p *ScannerPool) Sweep() int {
	now := p.clock.Now()

	p.mu.Lock()
	defer p.mu.Unlock()
	removed := 0
	for id, ps := range p.scanners {
		if now.Sub(ps.lastSeen) <= p.idle {
			continue
		}
		if locked, _ := ps.scanner.Locked(); locked {
			continue
		}
		delete(p.scanners, id)
		removed++
		slog.Debug("Scanner evicted", "scanner_id", id)
	}
	monitoring.SetActiveScanners(len(p.scanners))
	return removed
}

// Run sweeps idle scanners until ctx is done.
func (p *ScannerPool) Run(ctx context.Context) {
	ticker := p.clock.NewTicker(p.idle / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if n := p.Sweep(); n > 0 {
				slog.Info("Evicted idle scanners", "count", n, "remaining", p.Len())
			}
		}
	}
}
