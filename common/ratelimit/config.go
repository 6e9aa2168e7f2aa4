package ratelimit

// Plan identifies a subscription tier. Limits are windows of workflow
// execution starts; advancement of a running execution is never limited.
type Plan string

const (
	PlanFree       Plan = "free"
	PlanPro        Plan = "pro"
	PlanTeam       Plan = "team"
	PlanEnterprise Plan = "enterprise"
)

// TriggerType is the origin of an execution request.
type TriggerType string

const (
	TriggerManual   TriggerType = "manual"
	TriggerAPI      TriggerType = "api"
	TriggerWebhook  TriggerType = "webhook"
	TriggerSchedule TriggerType = "schedule"
	TriggerChat     TriggerType = "chat"
)

// PlanLimits holds per-window execution quotas for one plan. API-triggered
// executions carry their own quotas, split by sync/async, separate from
// UI-triggered ones.
type PlanLimits struct {
	Plan          Plan
	WindowSeconds int
	SyncAPI       int64 // sync executions via API triggers
	AsyncAPI      int64 // async executions via API triggers
	Manual        int64 // UI-triggered (manual, chat)
}

// DefaultPlanLimits are the per-minute quotas for each plan.
var DefaultPlanLimits = map[Plan]PlanLimits{
	PlanFree: {
		Plan:          PlanFree,
		WindowSeconds: 60,
		SyncAPI:       10,
		AsyncAPI:      50,
		Manual:        999999,
	},
	PlanPro: {
		Plan:          PlanPro,
		WindowSeconds: 60,
		SyncAPI:       25,
		AsyncAPI:      200,
		Manual:        999999,
	},
	PlanTeam: {
		Plan:          PlanTeam,
		WindowSeconds: 60,
		SyncAPI:       75,
		AsyncAPI:      500,
		Manual:        999999,
	},
	PlanEnterprise: {
		Plan:          PlanEnterprise,
		WindowSeconds: 60,
		SyncAPI:       150,
		AsyncAPI:      1000,
		Manual:        999999,
	},
}

// IsAPITrigger reports whether the trigger counts against API quotas.
// Webhooks and schedules ride the async API quota.
func IsAPITrigger(trigger TriggerType) bool {
	switch trigger {
	case TriggerAPI, TriggerWebhook, TriggerSchedule:
		return true
	default:
		return false
	}
}

// LimitFor returns the quota and window for a (plan, trigger, isAsync)
// combination. Unknown plans fall back to free.
func LimitFor(plan Plan, trigger TriggerType, isAsync bool) (int64, int) {
	limits, ok := DefaultPlanLimits[plan]
	if !ok {
		limits = DefaultPlanLimits[PlanFree]
	}

	if !IsAPITrigger(trigger) {
		return limits.Manual, limits.WindowSeconds
	}
	if isAsync {
		return limits.AsyncAPI, limits.WindowSeconds
	}
	return limits.SyncAPI, limits.WindowSeconds
}
