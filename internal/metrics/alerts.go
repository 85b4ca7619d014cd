// Package metrics periodically checks operational counters against
// configurable thresholds and raises escalation alerts when a rate, not
// just a single event, crosses a line. The Supervisor's raiseAlert already
// records one alert per failure; ThresholdChecker is the layer above that
// decides when a run of such alerts deserves its own, louder escalation.
package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fleetforge/fleetd/internal/types"
)

// dedupeWindow matches the teacher's 5-minute recent-alert suppression
// window.
const dedupeWindow = 5 * time.Minute

// ThresholdChecker evaluates counters supplied by the caller against
// types.AlertThresholds and decides whether an escalation alert is due,
// suppressing repeats of the same escalation within dedupeWindow.
type ThresholdChecker struct {
	mu           sync.RWMutex
	thresholds   types.AlertThresholds
	recentAlerts map[string]time.Time
}

// NewThresholdChecker builds a checker seeded with the given thresholds.
func NewThresholdChecker(thresholds types.AlertThresholds) *ThresholdChecker {
	return &ThresholdChecker{
		thresholds:   thresholds,
		recentAlerts: make(map[string]time.Time),
	}
}

// SetThresholds updates the thresholds checked on the next call.
func (c *ThresholdChecker) SetThresholds(thresholds types.AlertThresholds) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.thresholds = thresholds
}

// GetThresholds returns the thresholds currently in effect.
func (c *ThresholdChecker) GetThresholds() types.AlertThresholds {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.thresholds
}

func (c *ThresholdChecker) shouldAlert(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for k, t := range c.recentAlerts {
		if now.Sub(t) > dedupeWindow {
			delete(c.recentAlerts, k)
		}
	}
	if _, fired := c.recentAlerts[key]; fired {
		return false
	}
	c.recentAlerts[key] = now
	return true
}

// CheckTestingFailures escalates when the testing-agent pipeline has failed
// at least TestingFailuresMax times within the last dedupeWindow. count is
// the caller's own query of Store.CountAlertsByType("testing_pipeline_failure", since).
func (c *ThresholdChecker) CheckTestingFailures(count int) *types.Alert {
	thresholds := c.GetThresholds()
	if thresholds.TestingFailuresMax <= 0 || count < thresholds.TestingFailuresMax {
		return nil
	}
	if !c.shouldAlert("testing_failures_escalation") {
		return nil
	}
	return &types.Alert{
		ID:        "alert-" + uuid.NewString(),
		Type:      "testing_failures_escalation",
		Message:   fmt.Sprintf("testing pipeline has failed %d times in the last %s (threshold %d)", count, dedupeWindow, thresholds.TestingFailuresMax),
		Severity:  "critical",
		CreatedAt: time.Now(),
	}
}

// CheckRecoveryDenied escalates when session recovery has been denied at
// least RecoveryDeniedMax times within the last dedupeWindow.
func (c *ThresholdChecker) CheckRecoveryDenied(count int) *types.Alert {
	thresholds := c.GetThresholds()
	if thresholds.RecoveryDeniedMax <= 0 || count < thresholds.RecoveryDeniedMax {
		return nil
	}
	if !c.shouldAlert("recovery_denied_escalation") {
		return nil
	}
	return &types.Alert{
		ID:        "alert-" + uuid.NewString(),
		Type:      "recovery_denied_escalation",
		Message:   fmt.Sprintf("session recovery has been denied %d times in the last %s (threshold %d)", count, dedupeWindow, thresholds.RecoveryDeniedMax),
		Severity:  "critical",
		CreatedAt: time.Now(),
	}
}

// CheckPipelineStall escalates when no task has moved since lastActivity for
// longer than PipelineStallMax. A zero lastActivity (no task has ever moved)
// is not a stall — there is nothing yet to stall.
func (c *ThresholdChecker) CheckPipelineStall(lastActivity time.Time) *types.Alert {
	thresholds := c.GetThresholds()
	if thresholds.PipelineStallMax <= 0 || lastActivity.IsZero() {
		return nil
	}
	stalledFor := time.Since(lastActivity)
	if stalledFor < thresholds.PipelineStallMax {
		return nil
	}
	if !c.shouldAlert("pipeline_stall") {
		return nil
	}
	return &types.Alert{
		ID:        "alert-" + uuid.NewString(),
		Type:      "pipeline_stall",
		Message:   fmt.Sprintf("no task has progressed in %s (threshold %s)", stalledFor.Round(time.Second), thresholds.PipelineStallMax),
		Severity:  "warning",
		CreatedAt: time.Now(),
	}
}
