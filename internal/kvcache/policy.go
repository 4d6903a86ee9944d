package kvcache

import (
	"fmt"
	"os"
	"strings"
)

// EnvQuantize forces the policy when set to 1/true (quantized) or 0/false (full).
const EnvQuantize = "GENBENCH_QUANTIZE_KV_CACHE"

// Mode is the configured selection strategy.
type Mode string

const (
	ModeAuto      Mode = "auto"
	ModeFull      Mode = "full"
	ModeQuantized Mode = "quantized"
)

// ParseMode accepts "", auto, full and quantized along with the kind aliases.
func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == string(ModeAuto) {
		return ModeAuto, nil
	}
	kind, err := ParseKind(s)
	if err != nil {
		return "", fmt.Errorf("unknown kv cache mode %q", s)
	}
	if kind == KindQuantized {
		return ModeQuantized, nil
	}
	return ModeFull, nil
}

// Policy decides which representation a generation call uses.
type Policy struct {
	Mode Mode
	// MinHiddenDim is the narrowest model that may use the quantized cache.
	MinHiddenDim int
	// BudgetBytes is the full precision size above which auto mode quantizes.
	BudgetBytes int64
	// Getenv is os.Getenv unless replaced in tests.
	Getenv func(string) string
}

// DefaultPolicy returns the auto policy.
func DefaultPolicy() Policy {
	return Policy{
		Mode:         ModeAuto,
		MinHiddenDim: 256,
		BudgetBytes:  64 << 20,
		Getenv:       os.Getenv,
	}
}

// Select picks the cache kind for a call with contextLen positions.
// An explicit mode wins over the environment, which wins over the heuristic.
func (p Policy) Select(hiddenDim, kvDim, layers, contextLen int) Kind {
	switch p.Mode {
	case ModeFull:
		return KindFull
	case ModeQuantized:
		return KindQuantized
	}
	getenv := p.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	switch strings.ToLower(strings.TrimSpace(getenv(EnvQuantize))) {
	case "1", "true", "yes", "on":
		return KindQuantized
	case "0", "false", "no", "off":
		return KindFull
	}
	if hiddenDim < p.MinHiddenDim {
		return KindFull
	}
	if EstimateBytes(KindFull, layers, kvDim, contextLen) > p.BudgetBytes {
		return KindQuantized
	}
	return KindFull
}
