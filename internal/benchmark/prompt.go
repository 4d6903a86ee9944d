package benchmark

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mwiater/genbench/internal/appconfig"
	"github.com/mwiater/genbench/internal/logging"
	"github.com/mwiater/genbench/internal/providers"
)

// passage is repeated to synthesize prompts when no prompt file exists.
const passage = "Once upon a time, there existed a little girl who liked to have adventures. " +
	"She wanted to go to places and meet new people and have fun. " +
	"One day she packed a bag with bread, a map and a small lantern, " +
	"and set off down the road that ran past the edge of the village toward the hills. "

// PromptPath is where the prompt for an input length is read from.
func PromptPath(dir string, inLen int) string {
	return filepath.Join(dir, strconv.Itoa(inLen)+".txt")
}

// loadPromptText reads <dir>/<in>.txt. When the file is missing and
// synthesis is enabled, the passage is repeated until the model tokenizes
// it to at least inLen tokens.
func loadPromptText(ctx context.Context, model providers.Model, cfg appconfig.Config, inLen int) (string, error) {
	path := PromptPath(cfg.PromptDir, inLen)
	data, err := readFile(path)
	if err == nil {
		return string(data), nil
	}
	if !errors.Is(err, os.ErrNotExist) || !cfg.SynthesizePrompts {
		return "", fmt.Errorf("read prompt %s: %w", path, err)
	}
	logging.Debugf("prompt %s not found; synthesizing %d tokens", path, inLen)
	return synthesizePrompt(ctx, model, inLen)
}

func synthesizePrompt(ctx context.Context, model providers.Model, inLen int) (string, error) {
	reps := 1
	for {
		text := strings.Repeat(passage, reps)
		ids, err := model.Tokenize(ctx, text, true)
		if err != nil {
			return "", err
		}
		if len(ids) >= inLen {
			return text, nil
		}
		// Grow geometrically, but at least to the estimated repeat count.
		perRep := max(1, len(ids)/reps)
		reps = max(reps*2, inLen/perRep+1)
	}
}

// buildPrompt tokenizes the prompt text with BOS and slices it to inLen
// tokens. A shorter prompt passes through unchanged with a warning.
func buildPrompt(ctx context.Context, model providers.Model, cfg appconfig.Config, inLen int) ([]int, error) {
	text, err := loadPromptText(ctx, model, cfg, inLen)
	if err != nil {
		return nil, err
	}
	ids, err := model.Tokenize(ctx, text, true)
	if err != nil {
		return nil, err
	}
	if len(ids) < inLen {
		logging.Warnf("prompt for %d-token input has only %d tokens; using it unchanged", inLen, len(ids))
		return ids, nil
	}
	return ids[:inLen], nil
}
