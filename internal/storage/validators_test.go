package storage

import (
	"strings"
	"testing"
)

func TestSlugify(t *testing.T) {
	tests := []struct{ in, want string }{
		{"My Crawler Group", "my-crawler-group"},
		{"  EU  Fleet  ", "eu-fleet"},
		{"--Fancy!! Name--", "fancy-name"},
		{"already-a-slug", "already-a-slug"},
		{"UPPER123", "upper123"},
		{"!!!", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := Slugify(tt.in); got != tt.want {
				t.Errorf("Slugify(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestValidateUser(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		user := &User{Username: "crawler_admin", Active: true}
		if err := ValidateUser(user); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if user.CreatedAt.IsZero() {
			t.Error("created_at not stamped")
		}
	})

	t.Run("rejects bad usernames", func(t *testing.T) {
		for _, username := range []string{"", "ab", strings.Repeat("x", 51), "has space", "dash-ed"} {
			if err := ValidateUser(&User{Username: username}); err == nil {
				t.Errorf("username %q should be rejected", username)
			}
		}
	})

	t.Run("rejects negative quota", func(t *testing.T) {
		quota := int64(-1)
		if err := ValidateUser(&User{Username: "valid_name", LogQuotaBytes: &quota}); err == nil {
			t.Error("negative quota should be rejected")
		}
	})
}

func TestValidateAPIKey(t *testing.T) {
	t.Run("generates credential when empty", func(t *testing.T) {
		key := &APIKey{UserID: 1, Name: "worker"}
		if err := ValidateAPIKey(key); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(key.Key) != 64 {
			t.Errorf("generated key length = %d, want 64", len(key.Key))
		}
	})

	t.Run("keeps provided credential", func(t *testing.T) {
		provided := strings.Repeat("a", 40)
		key := &APIKey{UserID: 1, Name: "worker", Key: provided}
		if err := ValidateAPIKey(key); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if key.Key != provided {
			t.Error("provided key was replaced")
		}
	})

	t.Run("rejects short credential", func(t *testing.T) {
		key := &APIKey{UserID: 1, Name: "worker", Key: "tooshort"}
		if err := ValidateAPIKey(key); err == nil {
			t.Error("short key should be rejected")
		}
	})

	t.Run("allowed ips", func(t *testing.T) {
		good := "10.0.0.1, 192.168.1.2"
		key := &APIKey{UserID: 1, Name: "worker", AllowedIPs: &good}
		if err := ValidateAPIKey(key); err != nil {
			t.Errorf("valid allow-list rejected: %v", err)
		}

		bad := "10.0.0.1, not-an-ip"
		key = &APIKey{UserID: 1, Name: "worker", AllowedIPs: &bad}
		if err := ValidateAPIKey(key); err == nil {
			t.Error("invalid allow-list should be rejected")
		}
	})

	t.Run("requires owner and name", func(t *testing.T) {
		if err := ValidateAPIKey(&APIKey{Name: "worker"}); err == nil {
			t.Error("missing user id should be rejected")
		}
		if err := ValidateAPIKey(&APIKey{UserID: 1}); err == nil {
			t.Error("missing name should be rejected")
		}
	})
}

func TestValidateCrawlerGroup(t *testing.T) {
	group := &CrawlerGroup{UserID: 1, Name: "EU Fleet"}
	if err := ValidateCrawlerGroup(group); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if group.Slug != "eu-fleet" {
		t.Errorf("derived slug = %q, want %q", group.Slug, "eu-fleet")
	}

	group = &CrawlerGroup{UserID: 1, Name: "ok", Slug: "Invalid Slug"}
	if err := ValidateCrawlerGroup(group); err == nil {
		t.Error("invalid explicit slug should be rejected")
	}
}

func TestValidateCrawler(t *testing.T) {
	crawler := &Crawler{UserID: 1, Name: "fetcher"}
	if err := ValidateCrawler(crawler); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if crawler.Status != CrawlerStatusOffline {
		t.Errorf("default status = %q, want offline", crawler.Status)
	}

	crawler = &Crawler{UserID: 1, Name: "fetcher", Status: "hibernating"}
	if err := ValidateCrawler(crawler); err == nil {
		t.Error("invalid status should be rejected")
	}

	// "unknown" is not a crawler status; never-reported crawlers are offline
	crawler = &Crawler{UserID: 1, Name: "fetcher", Status: "unknown"}
	if err := ValidateCrawler(crawler); err == nil {
		t.Error("unknown should be rejected")
	}
}

func TestValidateCrawlerCommand(t *testing.T) {
	cmd := &CrawlerCommand{CrawlerID: 1, Command: "restart"}
	if err := ValidateCrawlerCommand(cmd); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd.Status != CommandStatusPending {
		t.Errorf("default status = %q, want pending", cmd.Status)
	}

	badPayload := "{not json"
	cmd = &CrawlerCommand{CrawlerID: 1, Command: "restart", Payload: &badPayload}
	if err := ValidateCrawlerCommand(cmd); err == nil {
		t.Error("invalid JSON payload should be rejected")
	}

	cmd = &CrawlerCommand{CrawlerID: 1, Command: "   "}
	if err := ValidateCrawlerCommand(cmd); err == nil {
		t.Error("blank command should be rejected")
	}
}

func TestValidateConfigAssignment(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		a := &ConfigAssignment{
			UserID:     1,
			Name:       "cfg",
			TargetType: TargetTypeCrawler,
			TargetID:   7,
			Content:    `{"a":1}`,
		}
		if err := ValidateConfigAssignment(a); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if a.Format != ConfigFormatJSON {
			t.Errorf("default format = %q, want json", a.Format)
		}
		if a.Version != 1 {
			t.Errorf("version floor = %d, want 1", a.Version)
		}
	})

	t.Run("rejects invalid json content", func(t *testing.T) {
		a := &ConfigAssignment{
			UserID:     1,
			Name:       "cfg",
			TargetType: TargetTypeCrawler,
			TargetID:   7,
			Format:     ConfigFormatJSON,
			Content:    "{broken",
		}
		if err := ValidateConfigAssignment(a); err == nil {
			t.Error("broken JSON content should be rejected")
		}
	})

	t.Run("yaml content is not json-checked", func(t *testing.T) {
		a := &ConfigAssignment{
			UserID:     1,
			Name:       "cfg",
			TargetType: TargetTypeGroup,
			TargetID:   7,
			Format:     ConfigFormatYAML,
			Content:    "interval: 60",
		}
		if err := ValidateConfigAssignment(a); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("rejects bad target", func(t *testing.T) {
		a := &ConfigAssignment{UserID: 1, Name: "cfg", TargetType: "all", TargetID: 7}
		if err := ValidateConfigAssignment(a); err == nil {
			t.Error("'all' is not a valid assignment target")
		}
	})
}

func TestValidateAlertRule(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		rule := &AlertRule{
			UserID:      1,
			Name:        "offline watch",
			TriggerType: TriggerStatusOffline,
		}
		if err := ValidateAlertRule(rule); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rule.TargetType != TargetTypeAll {
			t.Errorf("default target type = %q, want all", rule.TargetType)
		}
		if rule.ConsecutiveFailures != 1 {
			t.Errorf("consecutive failures floor = %d, want 1", rule.ConsecutiveFailures)
		}
		if rule.Channels != "[]" {
			t.Errorf("default channels = %q, want []", rule.Channels)
		}
	})

	t.Run("scoped rules need target ids", func(t *testing.T) {
		rule := &AlertRule{
			UserID:      1,
			Name:        "scoped",
			TriggerType: TriggerStatusOffline,
			TargetType:  TargetTypeCrawler,
		}
		if err := ValidateAlertRule(rule); err == nil {
			t.Error("scoped rule without target ids should be rejected")
		}

		empty := "[]"
		rule.TargetIDs = &empty
		if err := ValidateAlertRule(rule); err == nil {
			t.Error("scoped rule with empty target ids should be rejected")
		}

		ids := "[1,2,3]"
		rule.TargetIDs = &ids
		if err := ValidateAlertRule(rule); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("payload threshold requirements", func(t *testing.T) {
		rule := &AlertRule{
			UserID:      1,
			Name:        "threshold",
			TriggerType: TriggerPayloadThreshold,
		}
		if err := ValidateAlertRule(rule); err == nil {
			t.Error("threshold rule without a field should be rejected")
		}

		field := "metrics.depth"
		rule.PayloadField = &field
		if err := ValidateAlertRule(rule); err == nil {
			t.Error("threshold rule without a comparator should be rejected")
		}

		comparator := "gt"
		rule.Comparator = &comparator
		if err := ValidateAlertRule(rule); err == nil {
			t.Error("threshold rule without a threshold should be rejected")
		}

		threshold := 10.0
		rule.Threshold = &threshold
		if err := ValidateAlertRule(rule); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("channel list validation", func(t *testing.T) {
		for _, channels := range []string{
			`[{"type":"pager","target":"x","enabled":true}]`,
			`[{"type":"email","target":"","enabled":true}]`,
			`[{"type":"email","target":"no-at-sign","enabled":true}]`,
			`[{"type":"webhook","target":"ftp://example.com","enabled":true}]`,
			`not json`,
		} {
			rule := &AlertRule{
				UserID:      1,
				Name:        "chan",
				TriggerType: TriggerStatusOffline,
				Channels:    channels,
			}
			if err := ValidateAlertRule(rule); err == nil {
				t.Errorf("channels %q should be rejected", channels)
			}
		}

		rule := &AlertRule{
			UserID:      1,
			Name:        "chan",
			TriggerType: TriggerStatusOffline,
			Channels:    `[{"type":"email","target":"ops@example.com","enabled":true},{"type":"webhook","target":"https://hooks.example.com/x","enabled":false}]`,
		}
		if err := ValidateAlertRule(rule); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("rejects negative cooldown", func(t *testing.T) {
		rule := &AlertRule{
			UserID:          1,
			Name:            "cooldown",
			TriggerType:     TriggerStatusOffline,
			CooldownMinutes: -5,
		}
		if err := ValidateAlertRule(rule); err == nil {
			t.Error("negative cooldown should be rejected")
		}
	})
}

func TestValidateQuickLink(t *testing.T) {
	crawlerID := int64(3)

	t.Run("generates slug", func(t *testing.T) {
		link := &QuickLink{TargetType: TargetTypeCrawler, CrawlerID: &crawlerID, CreatedBy: 1}
		if err := ValidateQuickLink(link); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(link.Slug) != 12 {
			t.Errorf("generated slug length = %d, want 12", len(link.Slug))
		}
	})

	t.Run("requires the matching target id", func(t *testing.T) {
		link := &QuickLink{TargetType: TargetTypeCrawler, CreatedBy: 1}
		if err := ValidateQuickLink(link); err == nil {
			t.Error("crawler link without crawler id should be rejected")
		}

		link = &QuickLink{TargetType: TargetTypeGroup, CrawlerID: &crawlerID, CreatedBy: 1}
		if err := ValidateQuickLink(link); err == nil {
			t.Error("group link without group id should be rejected")
		}
	})

	t.Run("requires a creator", func(t *testing.T) {
		link := &QuickLink{TargetType: TargetTypeCrawler, CrawlerID: &crawlerID}
		if err := ValidateQuickLink(link); err == nil {
			t.Error("link without created_by should be rejected")
		}
	})
}
