package generation

import (
	"errors"
	"iter"
)

// Collect drains a lazy token sequence into a slice.
//
// The count is compared before each token is accepted, so the loop keeps
// maxNewTokens+1 tokens when the sequence is long enough. The remainder of
// the sequence is discarded by breaking out of it. Stop sequences are not
// consulted here.
func Collect(seq iter.Seq2[int, error], maxNewTokens int) ([]int, error) {
	var out []int
	count := 0
	for token, err := range seq {
		if err != nil {
			var genErr *GenerationError
			if errors.As(err, &genErr) {
				return out, err
			}
			return out, &GenerationError{Err: err}
		}
		if count > maxNewTokens {
			break
		}
		out = append(out, token)
		count++
	}
	return out, nil
}

// Bound is the largest number of tokens Collect returns for maxNewTokens.
func Bound(maxNewTokens int) int {
	return maxNewTokens + 1
}

// Slice adapts a fixed token list to a sequence. Useful for replaying
// recorded output through the loop.
func Slice(tokens []int) iter.Seq2[int, error] {
	return func(yield func(int, error) bool) {
		for _, t := range tokens {
			if !yield(t, nil) {
				return
			}
		}
	}
}
