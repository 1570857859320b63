package status

import (
	"time"

	"github.com/fluxcd/pkg/apis/meta"
	apimeta "k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// Conditions is the persisted condition list of a scanned repository, a policy or an automation.
type Conditions []metav1.Condition

// MarkReady sets Ready=True and clears Stalled.
func MarkReady(conditions *Conditions, reason, message string, generation int64, now time.Time) {
	set(conditions, meta.ReadyCondition, metav1.ConditionTrue, reason, message, generation, now)
	apimeta.RemoveStatusCondition((*[]metav1.Condition)(conditions), meta.StalledCondition)
}

// MarkNotReady sets Ready=False with the given reason.
func MarkNotReady(conditions *Conditions, reason, message string, generation int64, now time.Time) {
	set(conditions, meta.ReadyCondition, metav1.ConditionFalse, reason, message, generation, now)
}

// MarkStalled sets Ready=False and Stalled=True. A stalled object keeps being retried
// but will not recover without outside intervention.
func MarkStalled(conditions *Conditions, reason, message string, generation int64, now time.Time) {
	MarkNotReady(conditions, reason, message, generation, now)
	set(conditions, meta.StalledCondition, metav1.ConditionTrue, reason, message, generation, now)
}

// MarkSuspended records that reconciliation is suspended.
func MarkSuspended(conditions *Conditions, generation int64, now time.Time) {
	set(conditions, meta.ReadyCondition, metav1.ConditionFalse, ReasonSuspended, "reconciliation is suspended", generation, now)
}

// Get returns the condition of the given type, or nil.
func (c Conditions) Get(conditionType string) *metav1.Condition {
	return apimeta.FindStatusCondition(c, conditionType)
}

// IsReady reports whether Ready=True.
func (c Conditions) IsReady() bool {
	return apimeta.IsStatusConditionTrue(c, meta.ReadyCondition)
}

// IsStalled reports whether Stalled=True.
func (c Conditions) IsStalled() bool {
	return apimeta.IsStatusConditionTrue(c, meta.StalledCondition)
}

// DeepCopy returns an independent copy.
func (c Conditions) DeepCopy() Conditions {
	if c == nil {
		return nil
	}
	out := make(Conditions, len(c))
	for i := range c {
		c[i].DeepCopyInto(&out[i])
	}
	return out
}

func set(conditions *Conditions, conditionType string, status metav1.ConditionStatus, reason, message string, generation int64, now time.Time) {
	apimeta.SetStatusCondition((*[]metav1.Condition)(conditions), metav1.Condition{
		Type:               conditionType,
		Status:             status,
		Reason:             reason,
		Message:            message,
		ObservedGeneration: generation,
		LastTransitionTime: metav1.NewTime(now),
	})
}
