package prompt

import (
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"llmds/pkg/contract"
)

// MakeEstimator returns an approximate estimator: tokens ≈ ceil(utf8_bytes/bytesPerToken).
// bytesPerToken<=0 defaults to 4.
func MakeEstimator(bytesPerToken int) contract.TokenEstimator {
	bpt := bytesPerToken
	if bpt <= 0 {
		bpt = 4
	}
	return func(s string) int {
		n := len(s)
		if n == 0 {
			return 0
		}
		return (n + bpt - 1) / bpt
	}
}

// MakeTokenizerEstimator counts BPE tokens with the named tiktoken encoding
// (e.g. "cl100k_base"). Loading the encoding may need network access for the
// vocabulary file.
func MakeTokenizerEstimator(encoding string) (contract.TokenEstimator, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, err
	}
	return func(s string) int {
		if s == "" {
			return 0
		}
		return len(enc.Encode(s, nil, nil))
	}, nil
}

// Estimator picks the tokenizer estimator when encoding is set and loads, else the byte
// heuristic. The second value reports whether the tokenizer is in use.
func Estimator(encoding string, bytesPerToken int) (contract.TokenEstimator, bool) {
	if strings.TrimSpace(encoding) != "" {
		if est, err := MakeTokenizerEstimator(encoding); err == nil {
			return est, true
		}
	}
	return MakeEstimator(bytesPerToken), false
}

// EffectiveMaxTokens subtracts the fixed prompt overhead from the chunk budget.
// Returns (effectiveMax, overheadTokens); maxTokens<=0 yields (0,0).
func EffectiveMaxTokens(pb contract.PromptBuilder, est contract.TokenEstimator, maxTokens int) (int, int) {
	if maxTokens <= 0 {
		return 0, 0
	}
	overhead := pb.EstimateOverheadTokens(est)
	return maxTokens - overhead, overhead
}
