package local

import (
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/mwiater/genbench/internal/generation"
)

// penaltyWindow is the number of trailing tokens the repetition,
// frequency and presence penalties look at.
const penaltyWindow = 64

type tokenProb struct {
	id    int
	logit float64
	prob  float64
}

type sampler struct {
	cfg generation.Config
	rng *rand.Rand
	// mu is the mirostat running surprise bound.
	mu float64
}

func newSampler(cfg generation.Config) *sampler {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &sampler{
		cfg: cfg,
		rng: rand.New(rand.NewSource(seed)),
		mu:  2 * cfg.MirostatTau,
	}
}

// sample picks the next token from logits given the evaluated history.
func (s *sampler) sample(logits []float32, history []int) int {
	cands := make([]tokenProb, len(logits))
	for i, v := range logits {
		cands[i] = tokenProb{id: i, logit: float64(v)}
	}
	s.applyPenalties(cands, history)

	if s.cfg.Greedy() {
		return argMax(cands)
	}

	switch s.cfg.MirostatMode {
	case 1:
		return s.mirostatV1(cands)
	case 2:
		return s.mirostatV2(cands)
	}

	sortByLogit(cands)
	if s.cfg.TopK > 0 && s.cfg.TopK < len(cands) {
		cands = cands[:s.cfg.TopK]
	}
	cands = tailFree(cands, s.cfg.TFSZ)
	cands = topP(cands, s.cfg.TopP)
	softmaxCandidates(cands, s.cfg.Temperature)
	return s.draw(cands)
}

func (s *sampler) applyPenalties(cands []tokenProb, history []int) {
	if len(history) == 0 {
		return
	}
	window := history[max(0, len(history)-penaltyWindow):]
	counts := make(map[int]int, len(window))
	for _, id := range window {
		if id >= 0 && id < len(cands) {
			counts[id]++
		}
	}
	rep := s.cfg.RepetitionPenalty
	for id, n := range counts {
		c := &cands[id]
		if rep != 1 && rep > 0 {
			if c.logit > 0 {
				c.logit /= rep
			} else {
				c.logit *= rep
			}
		}
		c.logit -= float64(n)*s.cfg.FrequencyPenalty + s.cfg.PresencePenalty
	}
}

func (s *sampler) draw(cands []tokenProb) int {
	var sum float64
	for _, c := range cands {
		sum += c.prob
	}
	r := s.rng.Float64() * sum
	var acc float64
	for _, c := range cands {
		acc += c.prob
		if r < acc {
			return c.id
		}
	}
	return cands[len(cands)-1].id
}

// mirostatV1 estimates the Zipf exponent from the top candidates and derives
// a top-k cutoff that targets the configured surprise.
func (s *sampler) mirostatV1(cands []tokenProb) int {
	const m = 100
	sortByLogit(cands)
	softmaxCandidates(cands, s.cfg.Temperature)

	n := float64(len(cands))
	var num, den float64
	for i := 0; i < min(m, len(cands))-1; i++ {
		ti := math.Log(float64(i+2) / float64(i+1))
		bi := math.Log(cands[i].prob / cands[i+1].prob)
		num += ti * bi
		den += ti * ti
	}
	sHat := 1.0
	if den > 0 {
		sHat = num / den
	}
	eps := sHat - 1
	k := n
	if eps != 0 {
		k = math.Pow((eps*math.Pow(2, s.mu))/(1-math.Pow(n, -eps)), 1/sHat)
	}
	cut := int(math.Max(1, math.Min(n, k)))
	if math.IsNaN(k) {
		cut = len(cands)
	}
	cands = cands[:cut]
	normalize(cands)
	id := s.draw(cands)
	s.updateMu(cands, id)
	return id
}

// mirostatV2 drops candidates whose surprise exceeds mu.
func (s *sampler) mirostatV2(cands []tokenProb) int {
	sortByLogit(cands)
	softmaxCandidates(cands, s.cfg.Temperature)
	cut := len(cands)
	for i, c := range cands {
		if -math.Log2(c.prob) > s.mu {
			cut = i
			break
		}
	}
	cands = cands[:max(cut, 1)]
	normalize(cands)
	id := s.draw(cands)
	s.updateMu(cands, id)
	return id
}

func (s *sampler) updateMu(cands []tokenProb, id int) {
	for _, c := range cands {
		if c.id == id {
			surprise := -math.Log2(c.prob)
			s.mu -= s.cfg.MirostatEta * (surprise - s.cfg.MirostatTau)
			return
		}
	}
}

func sortByLogit(cands []tokenProb) {
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].logit > cands[j].logit })
}

// softmaxCandidates fills prob from logit/temperature.
func softmaxCandidates(cands []tokenProb, temperature float64) {
	if temperature <= 0 {
		temperature = 1
	}
	maxLogit := math.Inf(-1)
	for _, c := range cands {
		maxLogit = math.Max(maxLogit, c.logit)
	}
	var sum float64
	for i := range cands {
		cands[i].prob = math.Exp((cands[i].logit - maxLogit) / temperature)
		sum += cands[i].prob
	}
	for i := range cands {
		cands[i].prob /= sum
	}
}

func normalize(cands []tokenProb) {
	var sum float64
	for _, c := range cands {
		sum += c.prob
	}
	if sum == 0 {
		return
	}
	for i := range cands {
		cands[i].prob /= sum
	}
}

// tailFree trims the tail where the second derivative of the sorted
// probabilities flattens out. Expects candidates sorted by logit.
func tailFree(cands []tokenProb, z float64) []tokenProb {
	if z >= 1 || len(cands) <= 2 {
		return cands
	}
	softmaxCandidates(cands, 1)
	first := make([]float64, len(cands)-1)
	for i := range first {
		first[i] = cands[i].prob - cands[i+1].prob
	}
	second := make([]float64, len(first)-1)
	var total float64
	for i := range second {
		second[i] = math.Abs(first[i] - first[i+1])
		total += second[i]
	}
	if total == 0 {
		return cands
	}
	var cum float64
	last := len(cands)
	for i, d := range second {
		cum += d / total
		if cum > z {
			last = i + 1
			break
		}
	}
	return cands[:max(last, 1)]
}

// topP keeps the smallest prefix whose probability mass reaches p.
// Expects candidates sorted by logit.
func topP(cands []tokenProb, p float64) []tokenProb {
	if p >= 1 {
		return cands
	}
	softmaxCandidates(cands, 1)
	var cum float64
	for i, c := range cands {
		cum += c.prob
		if cum >= p {
			return cands[:i+1]
		}
	}
	return cands
}

func argMax(cands []tokenProb) int {
	best := 0
	for i, c := range cands {
		if c.logit > cands[best].logit {
			best = i
		}
	}
	return cands[best].id
}
