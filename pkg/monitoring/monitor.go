package monitoring

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/platinummonkey/dataroom/pkg/audit"
	"github.com/platinummonkey/dataroom/pkg/observability"
)

// Rule names, used in logs and metrics
const (
	RuleFailedLogins = "failed_logins"
	RuleNewIP        = "new_ip"
	RuleDownloads    = "downloads"
)

// Alert titles
const (
	TitleFailedLogins = "Multiple failed login attempts"
	TitleNewIP        = "Login from new IP"
	TitleDownloads    = "High download volume"
)

const defaultCheckTimeout = 10 * time.Second

// Counter answers count queries over the audit log
type Counter interface {
	Count(ctx context.Context, filter audit.Filter) (int, error)
}

// Alert is one raised suspicion
type Alert struct {
	Rule    string
	UserID  string
	Title   string
	Message string
}

// Monitor inspects persisted audit entries for suspicious patterns
type Monitor struct {
	counter Counter
	sink    AlertSink
	rules   atomic.Pointer[Rules]
	metrics *observability.Metrics
	logger  *observability.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

// Option configures a Monitor
type Option func(*Monitor)

// WithRules replaces the default thresholds
func WithRules(rules Rules) Option {
	return func(m *Monitor) { m.rules.Store(&rules) }
}

// WithMetrics counts raised alerts
func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Monitor) { m.metrics = metrics }
}

// WithLogger sets the monitor logger
func WithLogger(logger *observability.Logger) Option {
	return func(m *Monitor) { m.logger = logger }
}

// WithCheckTimeout bounds one asynchronous check
func WithCheckTimeout(d time.Duration) Option {
	return func(m *Monitor) { m.timeout = d }
}

// New creates a monitor. A nil sink logs alerts.
func New(counter Counter, sink AlertSink, opts ...Option) *Monitor {
	m := &Monitor{
		counter: counter,
		sink:    sink,
		timeout: defaultCheckTimeout,
	}
	defaults := DefaultRules()
	m.rules.Store(&defaults)

	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = observability.Discard()
	}
	if m.sink == nil {
		m.sink = NewLogSink(m.logger)
	}
	return m
}

// SetRules swaps the active thresholds, e.g. after a rules file reload
func (m *Monitor) SetRules(rules Rules) {
	m.rules.Store(&rules)
}

// Rules returns the active thresholds
func (m *Monitor) Rules() Rules {
	return *m.rules.Load()
}

// Observe schedules Check for entry and returns immediately. It implements
// audit.Observer.
func (m *Monitor) Observe(entry *audit.Entry) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer observability.RecoverPanic(m.logger, "monitoring check")

		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()
		m.Check(ctx, entry)
	}()
}

// Wait blocks until every scheduled check has finished
func (m *Monitor) Wait() {
	m.wg.Wait()
}

// Check evaluates every rule against entry and sends the resulting alerts.
// Failures are logged, never returned.
func (m *Monitor) Check(ctx context.Context, entry *audit.Entry) {
	alerts, err := m.Evaluate(ctx, entry)
	if err != nil {
		m.logger.WithError(err).WithField("entry_id", entry.ID).Warn("Monitoring check failed")
	}

	for _, alert := range alerts {
		m.metrics.AlertRaised(alert.Rule)
		if err := m.sink.SendAlert(ctx, alert.UserID, alert.Title, alert.Message); err != nil {
			m.logger.WithError(err).WithFields(map[string]interface{}{
				"rule":    alert.Rule,
				"user_id": alert.UserID,
			}).Warn("Failed to send alert")
		}
	}
}

// Evaluate returns the alerts entry triggers. Rules that fail to evaluate are
// skipped and their errors returned alongside the alerts of the others.
func (m *Monitor) Evaluate(ctx context.Context, entry *audit.Entry) ([]Alert, error) {
	if entry == nil || entry.UserID == "" {
		return nil, nil
	}

	rules := m.Rules()
	var (
		alerts []Alert
		errs   []error
	)

	collect := func(alert *Alert, err error) {
		if err != nil {
			errs = append(errs, err)
			return
		}
		if alert != nil {
			alerts = append(alerts, *alert)
		}
	}

	switch entry.Action {
	case audit.ActionLogin:
		if isFailedLogin(entry) {
			if rules.FailedLogins.Enabled {
				collect(m.checkFailedLogins(ctx, entry, rules.FailedLogins))
			}
		} else if rules.NewIP.Enabled {
			collect(m.checkNewIP(ctx, entry))
		}
	case audit.ActionDownloaded:
		if rules.Downloads.Enabled {
			collect(m.checkDownloads(ctx, entry, rules.Downloads))
		}
	}

	if len(errs) > 0 {
		return alerts, fmt.Errorf("monitoring rules failed: %w", errs[0])
	}
	return alerts, nil
}

// isFailedLogin reports whether the entry's metadata marks success false.
// Both a JSON false and the string "false" count.
func isFailedLogin(entry *audit.Entry) bool {
	success, ok := entry.Metadata.Get("success")
	if !ok {
		return false
	}
	text, ok := success.Text()
	return ok && text == "false"
}

// throughSeq bounds a history query to the entry and everything appended
// before it. Entries that were never stored have no sequence and fall back to
// the timestamp bound alone.
func throughSeq(entry *audit.Entry) int64 {
	if entry.Seq <= 0 {
		return 0
	}
	return entry.Seq + 1
}

func (m *Monitor) checkFailedLogins(ctx context.Context, entry *audit.Entry, rule FailedLoginRule) (*Alert, error) {
	count, err := m.counter.Count(ctx, audit.Filter{
		UserID:    entry.UserID,
		Actions:   []audit.Action{audit.ActionLogin},
		Metadata:  map[string]string{"success": "false"},
		Since:     entry.CreatedAt.Add(-rule.Window),
		Until:     entry.CreatedAt,
		BeforeSeq: throughSeq(entry),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to count failed logins: %w", err)
	}
	if count < rule.Threshold {
		return nil, nil
	}

	return &Alert{
		Rule:    RuleFailedLogins,
		UserID:  entry.UserID,
		Title:   TitleFailedLogins,
		Message: fmt.Sprintf("User %s had %d failed login attempts in the last %s", entry.UserID, count, rule.Window),
	}, nil
}

func (m *Monitor) checkNewIP(ctx context.Context, entry *audit.Entry) (*Alert, error) {
	if entry.IPAddress == "" {
		return nil, nil
	}

	prior := audit.Filter{
		UserID:    entry.UserID,
		Actions:   []audit.Action{audit.ActionLogin},
		Until:     entry.CreatedAt,
		ExcludeID: entry.ID,
		BeforeSeq: entry.Seq,
	}

	total, err := m.counter.Count(ctx, prior)
	if err != nil {
		return nil, fmt.Errorf("failed to count prior logins: %w", err)
	}
	if total == 0 {
		return nil, nil
	}

	prior.IPAddress = entry.IPAddress
	fromIP, err := m.counter.Count(ctx, prior)
	if err != nil {
		return nil, fmt.Errorf("failed to count prior logins from ip: %w", err)
	}
	if fromIP > 0 {
		return nil, nil
	}

	return &Alert{
		Rule:    RuleNewIP,
		UserID:  entry.UserID,
		Title:   TitleNewIP,
		Message: fmt.Sprintf("User %s logged in from new IP address %s", entry.UserID, entry.IPAddress),
	}, nil
}

func (m *Monitor) checkDownloads(ctx context.Context, entry *audit.Entry, rule DownloadRule) (*Alert, error) {
	count, err := m.counter.Count(ctx, audit.Filter{
		UserID:    entry.UserID,
		Actions:   []audit.Action{audit.ActionDownloaded},
		Since:     entry.CreatedAt.Add(-rule.Window),
		Until:     entry.CreatedAt,
		BeforeSeq: throughSeq(entry),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to count downloads: %w", err)
	}
	if count <= rule.Threshold {
		return nil, nil
	}

	return &Alert{
		Rule:    RuleDownloads,
		UserID:  entry.UserID,
		Title:   TitleDownloads,
		Message: fmt.Sprintf("User %s downloaded %d documents in the last %s", entry.UserID, count, rule.Window),
	}, nil
}
