// Package cost is the budget accountant: atomic daily, monthly, and
// per-provider spend counters in integer cents, budget checks, threshold
// alerting, and reporting.
package cost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/coinstax/reddit-ai-automod-sub000/internal/kvstore"
	"github.com/coinstax/reddit-ai-automod-sub000/internal/logging"
)

// Alert levels, emitted at most once per level per day.
const (
	AlertNone     = "NONE"
	AlertWarn50   = "WARN_50"
	AlertWarn75   = "WARN_75"
	AlertWarn90   = "WARN_90"
	AlertExceeded = "EXCEEDED"
)

const (
	recordTTL     = 30 * 24 * time.Hour
	alertKeyTTL   = 48 * time.Hour
	dateLayout    = "2006-01-02"
	monthLayout   = "2006-01"
	reportMaxDays = 90
)

// perRequestUnitCents estimates request counts from aggregate spend in
// reports. Rough by design.
var perRequestUnitCents = map[string]int64{
	"openai": 5,
	"gemini": 3,
}

// Record is one priced provider call.
type Record struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	UserID    string    `json:"userId"`
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	CostUSD   float64   `json:"costUSD"`
	Tokens    int       `json:"tokens"`
	Questions int       `json:"questions"`
	Cached    bool      `json:"cached"`
}

// BudgetStatus is the current standing against the configured limits.
type BudgetStatus struct {
	DailySpentUSD       float64            `json:"dailySpentUSD"`
	DailyLimitUSD       float64            `json:"dailyLimitUSD"`
	DailyRemainingUSD   float64            `json:"dailyRemainingUSD"` // clamped at 0
	MonthlySpentUSD     float64            `json:"monthlySpentUSD"`
	MonthlyLimitUSD     float64            `json:"monthlyLimitUSD"`
	PercentUsed         float64            `json:"percentUsed"`
	AlertLevel          string             `json:"alertLevel"`
	PerProviderSpentUSD map[string]float64 `json:"perProviderSpentUSD,omitempty"`
}

// DaySpend is one day's aggregate in a report.
type DaySpend struct {
	Date        string             `json:"date"`
	TotalUSD    float64            `json:"totalUSD"`
	ByProvider  map[string]float64 `json:"byProvider,omitempty"`
	RequestsEst int64              `json:"requestsEst"`
}

// SpendingReport covers a trailing window of days.
type SpendingReport struct {
	Days     []DaySpend `json:"days"`
	TotalUSD float64    `json:"totalUSD"`
}

// Notifier receives budget alerts. The platform layer delivers them to
// moderators; tests capture them.
type Notifier interface {
	NotifyBudget(ctx context.Context, level string, status BudgetStatus) error
}

// Config carries the budget limits.
type Config struct {
	DailyLimitUSD   float64
	MonthlyLimitUSD float64
	AlertsEnabled   bool
}

// Tracker accounts spend. All aggregate writes are atomic increments; there
// is no read-modify-write on the record path, so concurrent recorders never
// lose updates.
type Tracker struct {
	store    kvstore.Store
	keys     kvstore.Keyspace
	cfg      Config
	notifier Notifier
	log      *zap.Logger
	now      func() time.Time
}

// NewTracker wires a tracker. notifier may be nil when alerts are disabled.
func NewTracker(store kvstore.Store, keys kvstore.Keyspace, cfg Config, notifier Notifier) *Tracker {
	return &Tracker{
		store:    store,
		keys:     keys,
		cfg:      cfg,
		notifier: notifier,
		log:      logging.Get(logging.CategoryCost),
		now:      time.Now,
	}
}

// Estimate prices a batched question call before it is made.
func Estimate(questions int) float64 {
	return 0.04 + 0.01*float64(questions)
}

// budgetReserve keeps the last 2% of each limit unspendable so an estimate
// that undershoots the actual call cost cannot push spend past the limit.
const budgetReserve = 0.98

// CanAfford reports whether an estimated spend fits today's and this month's
// remaining budget, leaving the reserve untouched.
func (t *Tracker) CanAfford(ctx context.Context, estimateUSD float64) (bool, error) {
	now := t.now().UTC()
	daily, err := kvstore.GetInt(ctx, t.store, t.keys.CostDaily(now.Format(dateLayout)))
	if err != nil {
		return false, err
	}
	if daily+toCents(estimateUSD) > toCents(t.cfg.DailyLimitUSD*budgetReserve) {
		return false, nil
	}
	if t.cfg.MonthlyLimitUSD > 0 {
		monthly, err := kvstore.GetInt(ctx, t.store, t.keys.CostMonthly(now.Format(monthLayout)))
		if err != nil {
			return false, err
		}
		if monthly+toCents(estimateUSD) > toCents(t.cfg.MonthlyLimitUSD*budgetReserve) {
			return false, nil
		}
	}
	return true, nil
}

// Record books one priced call into the daily, per-provider, and monthly
// counters, stores the individual record, and evaluates alert thresholds.
func (t *Tracker) Record(ctx context.Context, r Record) error {
	if r.Timestamp.IsZero() {
		r.Timestamp = t.now().UTC()
	}
	cents := toCents(r.CostUSD)
	date := r.Timestamp.UTC().Format(dateLayout)
	month := r.Timestamp.UTC().Format(monthLayout)

	dailyTotal, err := t.store.IncrBy(ctx, t.keys.CostDaily(date), cents)
	if err != nil {
		return fmt.Errorf("record daily spend: %w", err)
	}
	if r.Provider != "" {
		if _, err := t.store.IncrBy(ctx, t.keys.CostDailyProvider(date, r.Provider), cents); err != nil {
			return fmt.Errorf("record provider spend: %w", err)
		}
	}
	if _, err := t.store.IncrBy(ctx, t.keys.CostMonthly(month), cents); err != nil {
		return fmt.Errorf("record monthly spend: %w", err)
	}

	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal cost record: %w", err)
	}
	if err := t.store.Set(ctx, t.keys.CostRecord(r.Timestamp, r.UserID), string(raw), recordTTL); err != nil {
		return fmt.Errorf("store cost record: %w", err)
	}

	t.log.Debug("cost recorded",
		zap.String("provider", r.Provider),
		zap.Float64("costUSD", r.CostUSD),
		zap.Int64("dailyTotalCents", dailyTotal))

	t.checkAlerts(ctx, date, dailyTotal)
	return nil
}

// checkAlerts fires the highest crossed threshold, at most once per level per
// day. Alert failures are logged, never propagated: accounting already
// happened.
func (t *Tracker) checkAlerts(ctx context.Context, date string, dailySpentCents int64) {
	if !t.cfg.AlertsEnabled || t.notifier == nil || t.cfg.DailyLimitUSD <= 0 {
		return
	}
	limit := toCents(t.cfg.DailyLimitUSD)
	level := alertLevel(dailySpentCents, limit)
	if level == AlertNone {
		return
	}

	first, err := t.store.SetNX(ctx, t.keys.CostAlert(date, level), "1", alertKeyTTL)
	if err != nil {
		t.log.Warn("alert dedup check failed", zap.Error(err))
		return
	}
	if !first {
		return
	}
	status, err := t.Status(ctx)
	if err != nil {
		t.log.Warn("budget status for alert failed", zap.Error(err))
		status = BudgetStatus{
			DailyLimitUSD: t.cfg.DailyLimitUSD,
			PercentUsed:   float64(dailySpentCents) / float64(limit) * 100,
			AlertLevel:    level,
		}
	}
	if err := t.notifier.NotifyBudget(ctx, level, status); err != nil {
		t.log.Warn("budget alert delivery failed", zap.String("level", level), zap.Error(err))
	}
}

// Status returns the current budget standing.
func (t *Tracker) Status(ctx context.Context) (BudgetStatus, error) {
	now := t.now().UTC()
	daily, err := kvstore.GetInt(ctx, t.store, t.keys.CostDaily(now.Format(dateLayout)))
	if err != nil {
		return BudgetStatus{}, err
	}
	monthly, err := kvstore.GetInt(ctx, t.store, t.keys.CostMonthly(now.Format(monthLayout)))
	if err != nil {
		return BudgetStatus{}, err
	}

	st := BudgetStatus{
		DailySpentUSD:   fromCents(daily),
		DailyLimitUSD:   t.cfg.DailyLimitUSD,
		MonthlySpentUSD: fromCents(monthly),
		MonthlyLimitUSD: t.cfg.MonthlyLimitUSD,
	}
	st.DailyRemainingUSD = math.Max(0, st.DailyLimitUSD-st.DailySpentUSD)
	if t.cfg.DailyLimitUSD > 0 {
		st.PercentUsed = st.DailySpentUSD / st.DailyLimitUSD * 100
	}
	st.AlertLevel = alertLevel(daily, toCents(t.cfg.DailyLimitUSD))

	for provider := range perRequestUnitCents {
		cents, err := kvstore.GetInt(ctx, t.store, t.keys.CostDailyProvider(now.Format(dateLayout), provider))
		if err != nil {
			return BudgetStatus{}, err
		}
		if cents == 0 {
			continue
		}
		if st.PerProviderSpentUSD == nil {
			st.PerProviderSpentUSD = make(map[string]float64)
		}
		st.PerProviderSpentUSD[provider] = fromCents(cents)
	}
	return st, nil
}

// alertLevel grades spend against the daily limit. The comparison is in
// cents, so EXCEEDED holds exactly when spent >= limit; the warn tiers use
// the same integer comparison at 90, 75, and 50 percent.
func alertLevel(spentCents, limitCents int64) string {
	switch {
	case limitCents <= 0:
		return AlertNone
	case spentCents >= limitCents:
		return AlertExceeded
	case spentCents*100 >= limitCents*90:
		return AlertWarn90
	case spentCents*100 >= limitCents*75:
		return AlertWarn75
	case spentCents*100 >= limitCents*50:
		return AlertWarn50
	default:
		return AlertNone
	}
}

// ResetDaily archives yesterday's total and drops yesterday's counters.
// Idempotent: a second run finds nothing to archive and changes nothing.
// Today's spend is never touched.
func (t *Tracker) ResetDaily(ctx context.Context) error {
	yesterday := t.now().UTC().AddDate(0, 0, -1).Format(dateLayout)

	total, err := kvstore.GetInt(ctx, t.store, t.keys.CostDaily(yesterday))
	if err != nil {
		return err
	}
	if total > 0 {
		if err := t.store.Set(ctx, t.keys.CostArchive(yesterday), fmt.Sprintf("%d", total), 0); err != nil {
			return fmt.Errorf("archive daily spend: %w", err)
		}
	}

	keys := []string{t.keys.CostDaily(yesterday)}
	for provider := range perRequestUnitCents {
		keys = append(keys, t.keys.CostDailyProvider(yesterday, provider))
	}
	if err := t.store.Del(ctx, keys...); err != nil {
		return fmt.Errorf("clear daily counters: %w", err)
	}
	t.log.Info("daily cost counters reset", zap.String("date", yesterday), zap.Int64("archivedCents", total))
	return nil
}

// Report aggregates the trailing window. days is clamped to [1, 90].
func (t *Tracker) Report(ctx context.Context, days int) (SpendingReport, error) {
	if days < 1 {
		days = 1
	}
	if days > reportMaxDays {
		days = reportMaxDays
	}

	var report SpendingReport
	now := t.now().UTC()
	for i := days - 1; i >= 0; i-- {
		date := now.AddDate(0, 0, -i).Format(dateLayout)

		total, err := t.dayTotal(ctx, date)
		if err != nil {
			return SpendingReport{}, err
		}
		day := DaySpend{Date: date, TotalUSD: fromCents(total)}
		for provider, unit := range perRequestUnitCents {
			cents, err := kvstore.GetInt(ctx, t.store, t.keys.CostDailyProvider(date, provider))
			if err != nil {
				return SpendingReport{}, err
			}
			if cents == 0 {
				continue
			}
			if day.ByProvider == nil {
				day.ByProvider = make(map[string]float64)
			}
			day.ByProvider[provider] = fromCents(cents)
			day.RequestsEst += cents / unit
		}
		report.Days = append(report.Days, day)
		report.TotalUSD += day.TotalUSD
	}
	return report, nil
}

// dayTotal prefers the live counter and falls back to the archive.
func (t *Tracker) dayTotal(ctx context.Context, date string) (int64, error) {
	total, err := kvstore.GetInt(ctx, t.store, t.keys.CostDaily(date))
	if err != nil {
		return 0, err
	}
	if total > 0 {
		return total, nil
	}
	raw, err := t.store.Get(ctx, t.keys.CostArchive(date))
	if errors.Is(err, kvstore.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := parseCents(raw)
	if err != nil {
		t.log.Warn("corrupt archive entry", zap.String("date", date), zap.Error(err))
		return 0, nil
	}
	return n, nil
}

// toCents rounds to the nearest cent; sub-cent amounts round to zero.
func toCents(usd float64) int64 {
	return int64(math.Round(usd * 100))
}

func fromCents(cents int64) float64 {
	return float64(cents) / 100
}

func parseCents(s string) (int64, error) {
	var n int64
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}
