package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmds/pkg/contract"
)

func names(specs []contract.TypeSpec) []contract.DatasetType {
	out := make([]contract.DatasetType, 0, len(specs))
	for _, s := range specs {
		out = append(out, s.Name)
	}
	return out
}

func TestBuiltinTable(t *testing.T) {
	r := Default()
	require.Len(t, r.Types(), 20)
	perCat := map[contract.Category]int{}
	for _, s := range r.Types() {
		perCat[s.Category]++
	}
	assert.Equal(t, 6, perCat[contract.CategoryLegacy])
	assert.Equal(t, 5, perCat[contract.CategoryStandard])
	assert.Equal(t, 5, perCat[contract.CategoryModern])
	assert.Equal(t, 4, perCat[contract.CategoryIndic])
}

func TestCanonicalize(t *testing.T) {
	r := Default()
	cases := map[contract.DatasetType]contract.DatasetType{
		"qa":                "qa",
		"squad_qa":          "qa",
		"indic_qa":          "qa",
		"alpaca_instruct":   "instruction",
		"indic_translation": "parallel_corpora",
		"sharegpt_chat":     "conversation",
	}
	for in, want := range cases {
		got, ok := r.Canonicalize(in)
		require.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := r.Canonicalize("chain_of_thought")
	assert.False(t, ok)
	_, ok = r.Canonicalize("nope")
	assert.False(t, ok)
}

func TestNewRejectsBadAliasGraphs(t *testing.T) {
	cases := map[string][]contract.TypeSpec{
		"cycle": {
			{Name: "a", Category: contract.CategoryStandard, Alias: "b"},
			{Name: "b", Category: contract.CategoryStandard, Alias: "a"},
		},
		"unknown target": {
			{Name: "a", Category: contract.CategoryStandard, Alias: "missing"},
		},
		"non legacy root": {
			{Name: "a", Category: contract.CategoryStandard, Alias: "b"},
			{Name: "b", Category: contract.CategoryModern},
		},
		"duplicate": {
			{Name: "a", Category: contract.CategoryLegacy},
			{Name: "a", Category: contract.CategoryLegacy},
		},
		"bad category": {
			{Name: "a", Category: "vintage"},
		},
		"empty name": {
			{Name: " ", Category: contract.CategoryLegacy},
		},
	}
	for name, specs := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := New(specs)
			assert.ErrorIs(t, err, contract.ErrInvariantViolation)
		})
	}
}

func TestNewAcceptsAliasChains(t *testing.T) {
	r, err := New([]contract.TypeSpec{
		{Name: "root", Category: contract.CategoryLegacy},
		{Name: "mid", Category: contract.CategoryStandard, Alias: "root"},
		{Name: "leaf", Category: contract.CategoryIndic, Alias: "mid"},
	})
	require.NoError(t, err)
	got, ok := r.Canonicalize("leaf")
	require.True(t, ok)
	assert.Equal(t, contract.DatasetType("root"), got)
}

func TestResolveUnionSemantics(t *testing.T) {
	r := Default()

	specs, unknown := r.Resolve([]string{"chain_of_thought", "xml_dialogs"}, "standard")
	assert.Equal(t, []string{"xml_dialogs"}, unknown)
	got := names(specs)
	assert.Contains(t, got, contract.DatasetType("chain_of_thought"))
	for _, s := range r.Category(contract.CategoryStandard) {
		assert.Contains(t, got, s.Name)
	}
	assert.Len(t, got, 6)

	specs, _ = r.Resolve(nil, ModeAll)
	assert.Len(t, specs, 20)
}

func TestResolveDefaultActivatesLegacy(t *testing.T) {
	specs, unknown := Default().Resolve([]string{"parallel_corpora", "PARALLEL_CORPORA"}, "")
	assert.Empty(t, unknown)
	got := names(specs)
	assert.Len(t, got, 6)
	assert.Contains(t, got, contract.DatasetType("qa"))
}

func TestRequested(t *testing.T) {
	r := Default()
	req := r.Requested([]string{"parallel_corpora"}, "")
	assert.Equal(t, []string{"parallel_corpora"}, Names(req))

	req = r.Requested([]string{"qa"}, "indic")
	assert.True(t, req["qa"])
	assert.True(t, req["indic_translation"])
	assert.False(t, req["instruction"])
}

func TestValidMode(t *testing.T) {
	for _, m := range []string{"", "all", "legacy", "Standard", "modern", "indic"} {
		assert.True(t, ValidMode(m), m)
	}
	assert.False(t, ValidMode("vintage"))
}
