package scanner

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/aristath/marketsession/internal/config"
	"github.com/aristath/marketsession/internal/coordinator"
	"github.com/aristath/marketsession/internal/execution"
	"github.com/aristath/marketsession/internal/sessiondata"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// loaded pairs a constructed scanner with its spec and the symbols it has
// promoted so far, so teardown knows what to demote.
type loaded struct {
	spec    config.ScannerSpec
	scanner Scanner

	mu       sync.Mutex
	promoted []string
	setUp    bool
}

// Manager loads the scanners declared in the session config, runs
// pre-session scans before session start, schedules regular-session scans at
// their configured wall-clock times, and tears everything down at session
// end.
type Manager struct {
	coord *coordinator.Coordinator
	data  *sessiondata.SessionData
	exec  execution.Adapter
	log   zerolog.Logger

	factories map[string]Factory
	cron      *cron.Cron

	mu         sync.Mutex
	preSession []*loaded
	regular    []*loaded
}

// NewManager constructs an empty Manager; call RegisterFactory for every
// compiled-in scanner module, then Load with the session config.
func NewManager(coord *coordinator.Coordinator, data *sessiondata.SessionData, exec execution.Adapter, log zerolog.Logger) *Manager {
	return &Manager{
		coord:     coord,
		data:      data,
		exec:      exec,
		log:       log.With().Str("component", "scanner_manager").Logger(),
		factories: make(map[string]Factory),
	}
}

// RegisterFactory makes a scanner module available under name.
func (m *Manager) RegisterFactory(name string, f Factory) {
	m.factories[name] = f
}

// Load constructs every enabled scanner the config declares. Unknown module
// names are an error: the config referenced a scanner this build does not
// carry.
func (m *Manager) Load(specs []config.ScannerSpec) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, spec := range specs {
		if !spec.Enabled {
			continue
		}
		factory, ok := m.factories[spec.Module]
		if !ok {
			return fmt.Errorf("scanner: unknown module %q", spec.Module)
		}
		s, err := factory(spec.Config)
		if err != nil {
			return fmt.Errorf("scanner: construct %q: %w", spec.Module, err)
		}
		l := &loaded{spec: spec, scanner: s}
		if spec.PreSession {
			m.preSession = append(m.preSession, l)
		}
		if len(spec.RegularSession) > 0 {
			m.regular = append(m.regular, l)
		}
	}
	m.log.Info().Int("pre_session", len(m.preSession)).Int("regular", len(m.regular)).Msg("scanners loaded")
	return nil
}

// RunPreSession runs every pre-session scanner once (setup, scan, apply,
// immediate teardown) before the session starts.
func (m *Manager) RunPreSession(ctx context.Context) {
	m.mu.Lock()
	scanners := append([]*loaded(nil), m.preSession...)
	m.mu.Unlock()

	for _, l := range scanners {
		m.runOne(ctx, l)
		if err := m.teardownOne(ctx, l); err != nil {
			m.log.Warn().Err(err).Str("module", l.spec.Module).Msg("pre-session teardown failed")
		}
	}
}

// Start schedules every regular-session scanner at its configured HH:MM
// times (weekdays). The cron scheduler runs until Stop.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cron != nil {
		return nil
	}
	m.cron = cron.New()
	for _, l := range m.regular {
		l := l
		for _, at := range l.spec.RegularSession {
			spec, err := cronSpec(at)
			if err != nil {
				return fmt.Errorf("scanner: module %q: %w", l.spec.Module, err)
			}
			if _, err := m.cron.AddFunc(spec, func() { m.runOne(ctx, l) }); err != nil {
				return fmt.Errorf("scanner: schedule %q at %q: %w", l.spec.Module, at, err)
			}
		}
	}
	m.cron.Start()
	return nil
}

// Stop halts the schedule and tears down every regular-session scanner,
// demoting the adhoc symbols that were neither promoted nor locked.
func (m *Manager) Stop(ctx context.Context) {
	m.mu.Lock()
	c := m.cron
	m.cron = nil
	scanners := append([]*loaded(nil), m.regular...)
	m.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
	for _, l := range scanners {
		if err := m.teardownOne(ctx, l); err != nil {
			m.log.Warn().Err(err).Str("module", l.spec.Module).Msg("teardown failed")
		}
	}
}

// runOne performs a single scan run: lazy setup, scan, and adhoc
// provisioning of every symbol the result names.
func (m *Manager) runOne(ctx context.Context, l *loaded) {
	runID := uuid.NewString()
	log := m.log.With().Str("module", l.spec.Module).Str("run", runID).Logger()

	l.mu.Lock()
	if !l.setUp {
		if err := l.scanner.Setup(ctx); err != nil {
			l.mu.Unlock()
			log.Warn().Err(err).Msg("scanner setup failed, run skipped")
			return
		}
		l.setUp = true
	}
	l.mu.Unlock()

	result, err := l.scanner.Scan(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("scan failed")
		return
	}

	added := 0
	for _, symbol := range result.Symbols {
		ok, reason := m.coord.AddAdhocSymbol(ctx, symbol, result.Intervals)
		if !ok {
			log.Warn().Str("symbol", symbol).Str("reason", reason).Msg("scan hit rejected")
			continue
		}
		added++
		l.mu.Lock()
		l.promoted = append(l.promoted, coordinator.NormalizeSymbol(symbol))
		l.mu.Unlock()
	}
	log.Info().Int("hits", len(result.Symbols)).Int("added", added).Msg("scan complete")
}

// teardownOne calls the scanner's own teardown, then demotes its adhoc
// symbols: anything promoted to full config membership stays, anything the
// execution layer reports locked (open position or pending order) stays,
// the rest are removed from the session.
func (m *Manager) teardownOne(ctx context.Context, l *loaded) error {
	l.mu.Lock()
	promoted := append([]string(nil), l.promoted...)
	l.promoted = nil
	wasSetUp := l.setUp
	l.setUp = false
	l.mu.Unlock()

	for _, symbol := range promoted {
		sd, ok := m.data.GetSymbolData(symbol, true)
		if !ok {
			continue
		}
		meta := sd.Meta()
		if meta.MeetsSessionConfigRequirements {
			continue
		}
		if m.exec != nil && m.exec.IsSymbolLocked(symbol) {
			sd.SetLocked(true)
			m.log.Info().Str("symbol", symbol).Msg("adhoc symbol locked by execution layer, kept")
			continue
		}
		m.data.RemoveSymbol(symbol)
		m.log.Info().Str("symbol", symbol).Msg("adhoc symbol demoted")
	}

	if !wasSetUp {
		return nil
	}
	return l.scanner.Teardown(ctx)
}

// cronSpec converts a "HH:MM" wall-clock time into a weekday cron spec.
func cronSpec(at string) (string, error) {
	parts := strings.Split(at, ":")
	if len(parts) != 2 {
		return "", fmt.Errorf("bad scan time %q, want HH:MM", at)
	}
	return fmt.Sprintf("%s %s * * MON-FRI", strings.TrimPrefix(parts[1], "0"), strings.TrimPrefix(parts[0], "0")), nil
}
