package main

import (
	"fmt"
	"io"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"llmds/internal/checkpoint"
	cfgpkg "llmds/internal/config"
)

// newCheckpointCmd inspects and edits the resume checkpoint of an output directory.
func newCheckpointCmd(stdout io.Writer) *cobra.Command {
	var output, path string
	open := func() (*checkpoint.Store, error) {
		p := path
		if p == "" {
			p = filepath.Join(output, cfgpkg.CheckpointFile)
		}
		st, err := checkpoint.Open(p)
		if err != nil {
			return nil, &exitError{code: exitConfig, err: err}
		}
		return st, nil
	}
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Inspect or edit the resume checkpoint",
	}
	cmd.PersistentFlags().StringVarP(&output, "output", "o", cfgpkg.Defaults().OutputDir, "output directory holding the checkpoint")
	cmd.PersistentFlags().StringVar(&path, "path", "", "checkpoint file (overrides --output)")

	list := &cobra.Command{
		Use:   "list",
		Short: "List completed files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := open()
			if err != nil {
				return err
			}
			defer st.Close()
			entries, err := st.List()
			if err != nil {
				return err
			}
			return listEntries(stdout, entries)
		},
	}
	forget := &cobra.Command{
		Use:   "forget FILE...",
		Short: "Drop files from the checkpoint so the next --resume run regenerates them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := open()
			if err != nil {
				return err
			}
			defer st.Close()
			entries, err := st.List()
			if err != nil {
				return err
			}
			known := map[string]bool{}
			for _, e := range entries {
				known[e.FileID] = true
			}
			for _, id := range args {
				if !known[id] {
					fmt.Fprintf(stdout, "not recorded %s\n", id)
					continue
				}
				if err := st.Forget(id); err != nil {
					return err
				}
				fmt.Fprintf(stdout, "forgot %s\n", id)
			}
			return nil
		},
	}
	cmd.AddCommand(list, forget)
	return cmd
}

func listEntries(w io.Writer, entries []checkpoint.Entry) error {
	if len(entries) == 0 {
		fmt.Fprintln(w, "no completed files")
		return nil
	}
	head := lipgloss.NewStyle().Bold(true)
	fmt.Fprintln(w, head.Render(fmt.Sprintf("%d completed files", len(entries))))
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, e := range entries {
		up := "-"
		if e.Uploaded {
			up = "uploaded"
		}
		fmt.Fprintf(tw, "  %s\t%d samples\t%d artifacts\t%s\t%s\n",
			e.FileID, e.Samples, len(e.Artifacts), up, e.CompletedAt.Local().Format(time.DateTime))
	}
	return tw.Flush()
}
