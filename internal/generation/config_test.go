package generation

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDefaultConfig(t *testing.T) {
	want := Config{
		MaxNewTokens:      128,
		TopK:              40,
		TopP:              0.95,
		Temperature:       0.80,
		RepetitionPenalty: 1.1,
		Reset:             true,
		TFSZ:              1.0,
		MirostatTau:       5.0,
		MirostatEta:       0.1,
	}
	if diff := cmp.Diff(want, DefaultConfig()); diff != "" {
		t.Fatalf("defaults changed (-want +got):\n%s", diff)
	}
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestNewConfigOverridesSubset(t *testing.T) {
	cfg := NewConfig(WithMaxNewTokens(16), WithReset(false), WithStop("\n"), nil)
	if cfg.MaxNewTokens != 16 || cfg.Reset {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.TopK != DefaultTopK || cfg.Temperature != DefaultTemperature {
		t.Fatalf("untouched fields must keep defaults: %+v", cfg)
	}
	if len(cfg.Stop) != 1 || cfg.Stop[0] != "\n" {
		t.Fatalf("stop not recorded: %+v", cfg.Stop)
	}
}

func TestWithDoesNotAliasStop(t *testing.T) {
	base := NewConfig(WithStop("a"))
	derived := base.With(WithMaxNewTokens(3))
	derived.Stop[0] = "b"
	if base.Stop[0] != "a" {
		t.Fatalf("With must copy the stop list")
	}
}

func TestGreedyOption(t *testing.T) {
	cfg := NewConfig(WithMirostat(2, 5, 0.1), Greedy())
	if !cfg.Greedy() {
		t.Fatalf("expected greedy config: %+v", cfg)
	}
	if cfg.RepetitionPenalty != 1.0 || cfg.MirostatMode != 0 {
		t.Fatalf("greedy should disable penalties and mirostat: %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]Option{
		"negative max":   WithMaxNewTokens(-1),
		"negative top k": WithTopK(-2),
		"top p zero":     WithTopP(0),
		"top p above 1":  WithTopP(1.5),
		"negative temp":  WithTemperature(-0.1),
		"zero penalty":   WithRepetitionPenalty(0),
		"tfs zero":       WithTFSZ(0),
		"mirostat 3":     WithMirostat(3, 5, 0.1),
	}
	for name, opt := range cases {
		if err := NewConfig(opt).Validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}
