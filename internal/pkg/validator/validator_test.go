package validator

import "testing"

func TestRankTag(t *testing.T) {
	type req struct {
		Rank string `json:"rank" validate:"required,rank"`
	}

	for _, rank := range []string{"general", "gold", "platinum"} {
		if errs := Validate(req{Rank: rank}); errs != nil {
			t.Errorf("rank %q: unexpected errors %v", rank, errs)
		}
	}

	errs := Validate(req{Rank: "diamond"})
	if errs == nil {
		t.Fatal("expected validation error for unknown rank")
	}
	if errs["rank"] != "Invalid rank. Must be: general, gold, or platinum" {
		t.Errorf("unexpected message: %q", errs["rank"])
	}

	errs = Validate(req{})
	if errs["rank"] != "This field is required" {
		t.Errorf("expected required error for empty rank, got %v", errs)
	}
}

func TestCustomTags(t *testing.T) {
	tests := []struct {
		tag  string
		good string
		bad  string
	}{
		{"role", "photographer", "spectator"},
		{"booking_policy", "admin_lottery", "raffle"},
		{"dispute_reason", "no_show", "buyer_remorse"},
		{"currency", "JPY", "BTC"},
	}
	for _, tt := range tests {
		if err := ValidateVar(tt.good, tt.tag); err != nil {
			t.Errorf("%s: %q should pass, got %v", tt.tag, tt.good, err)
		}
		if err := ValidateVar(tt.bad, tt.tag); err == nil {
			t.Errorf("%s: %q should fail", tt.tag, tt.bad)
		}
	}
}
