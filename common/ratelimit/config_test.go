package ratelimit

import "testing"

func TestIsAPITrigger(t *testing.T) {
	tests := []struct {
		trigger TriggerType
		want    bool
	}{
		{TriggerAPI, true},
		{TriggerWebhook, true},
		{TriggerSchedule, true},
		{TriggerManual, false},
		{TriggerChat, false},
	}
	for _, tt := range tests {
		if got := IsAPITrigger(tt.trigger); got != tt.want {
			t.Errorf("IsAPITrigger(%s) = %v, want %v", tt.trigger, got, tt.want)
		}
	}
}

func TestLimitFor(t *testing.T) {
	tests := []struct {
		name    string
		plan    Plan
		trigger TriggerType
		isAsync bool
		want    int64
	}{
		{"free sync api", PlanFree, TriggerAPI, false, 10},
		{"free async api", PlanFree, TriggerAPI, true, 50},
		{"free manual", PlanFree, TriggerManual, false, 999999},
		{"pro sync api", PlanPro, TriggerAPI, false, 25},
		{"team async webhook", PlanTeam, TriggerWebhook, true, 500},
		{"enterprise sync schedule", PlanEnterprise, TriggerSchedule, false, 150},
		{"chat counts as manual", PlanPro, TriggerChat, false, 999999},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limit, window := LimitFor(tt.plan, tt.trigger, tt.isAsync)
			if limit != tt.want {
				t.Errorf("limit = %d, want %d", limit, tt.want)
			}
			if window != 60 {
				t.Errorf("window = %d, want 60", window)
			}
		})
	}
}

func TestLimitFor_UnknownPlanFallsBackToFree(t *testing.T) {
	limit, _ := LimitFor(Plan("platinum"), TriggerAPI, false)
	if limit != DefaultPlanLimits[PlanFree].SyncAPI {
		t.Errorf("unknown plan limit = %d, want free tier", limit)
	}
}

func TestWindowKey_SeparatesTrafficClasses(t *testing.T) {
	ui := windowKey("u1", TriggerManual, false)
	sync := windowKey("u1", TriggerAPI, false)
	async := windowKey("u1", TriggerAPI, true)

	if ui == sync || sync == async || ui == async {
		t.Errorf("traffic classes share a window: %s %s %s", ui, sync, async)
	}
	// Async only matters for API-class triggers.
	if windowKey("u1", TriggerManual, true) != ui {
		t.Errorf("async flag split the UI window")
	}
}
