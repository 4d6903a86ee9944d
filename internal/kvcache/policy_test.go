package kvcache

import "testing"

func envOf(val string) func(string) string {
	return func(key string) string {
		if key == EnvQuantize {
			return val
		}
		return ""
	}
}

func TestPolicySelect(t *testing.T) {
	const layers, kvDim = 4, 512
	small := 16
	large := 1 << 16

	cases := []struct {
		name   string
		policy Policy
		hidden int
		ctx    int
		want   Kind
	}{
		{"explicit full beats env", Policy{Mode: ModeFull, Getenv: envOf("1")}, 4096, large, KindFull},
		{"explicit quantized", Policy{Mode: ModeQuantized, Getenv: envOf("")}, 8, small, KindQuantized},
		{"env forces quantized", Policy{Mode: ModeAuto, MinHiddenDim: 1 << 20, Getenv: envOf("1")}, 8, small, KindQuantized},
		{"env forces full", Policy{Mode: ModeAuto, BudgetBytes: 1, Getenv: envOf("false")}, 4096, large, KindFull},
		{"narrow model stays full", Policy{Mode: ModeAuto, MinHiddenDim: 256, BudgetBytes: 1, Getenv: envOf("")}, 64, large, KindFull},
		{"large context quantizes", Policy{Mode: ModeAuto, MinHiddenDim: 256, BudgetBytes: 1 << 20, Getenv: envOf("")}, 4096, large, KindQuantized},
		{"small context stays full", Policy{Mode: ModeAuto, MinHiddenDim: 256, BudgetBytes: 1 << 20, Getenv: envOf("")}, 4096, small, KindFull},
	}
	for _, tc := range cases {
		if got := tc.policy.Select(tc.hidden, kvDim, layers, tc.ctx); got != tc.want {
			t.Errorf("%s: got %s want %s", tc.name, got, tc.want)
		}
	}
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"": ModeAuto, "auto": ModeAuto, "q8": ModeQuantized, "full": ModeFull} {
		got, err := ParseMode(in)
		if err != nil || got != want {
			t.Errorf("ParseMode(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseMode("fp8"); err == nil {
		t.Errorf("expected error")
	}
}
