package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"llmds/internal/types"
	"llmds/pkg/contract"
)

func newTypesCmd(stdout io.Writer) *cobra.Command {
	var category string
	cmd := &cobra.Command{
		Use:   "types",
		Short: "List the dataset types by category",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cats := contract.Categories
			if category != "" {
				c := contract.Category(strings.ToLower(strings.TrimSpace(category)))
				if len(types.Default().Category(c)) == 0 {
					return &exitError{code: exitConfig, err: fmt.Errorf("unknown category %q", category)}
				}
				cats = []contract.Category{c}
			}
			return listTypes(stdout, types.Default(), cats)
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "only this category: legacy, standard, modern, indic")
	return cmd
}

func listTypes(w io.Writer, reg *types.Registry, cats []contract.Category) error {
	head := lipgloss.NewStyle().Bold(true)
	for i, c := range cats {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintln(w, head.Render(string(c)))
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		for _, s := range reg.Category(c) {
			alias := ""
			if s.Alias != "" {
				alias = "-> " + string(s.Alias)
			}
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", s.Name, requiredFields(s), alias, s.Description)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	return nil
}

func requiredFields(s contract.TypeSpec) string {
	var names []string
	for _, f := range s.Fields {
		if f.Required {
			names = append(names, f.Name)
		}
	}
	return strings.Join(names, ",")
}
