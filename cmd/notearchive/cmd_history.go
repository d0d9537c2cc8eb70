package main

import (
	"sort"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/notearchive/internal/models"
	"github.com/kimhsiao/notearchive/internal/notes"
	"github.com/kimhsiao/notearchive/internal/textdiff"
)

func commitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "commit",
		Short: "Recompute stale page properties and record a version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := a.open(ctx, false)
			if err != nil {
				return err
			}
			defer s.close()

			updated, err := s.doc.BatchUpdate()
			if err != nil {
				return err
			}
			saved, err := s.doc.Save(ctx, a.now())
			if err != nil {
				return err
			}
			if !saved {
				a.printf("nothing to commit\n")
				return nil
			}
			a.printf("committed (%d pages updated)\n", updated)
			return nil
		},
	}
}

func logCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "log",
		Short: "List recorded versions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.view(cmd.Context(), func(n *notes.NoteArchive) error {
				versions := n.Versions()
				for i := len(versions) - 1; i >= 0; i-- {
					v := versions[i]
					manifest, err := n.Manifest(v)
					if err != nil {
						return err
					}
					a.printf("%4d  %s  %s  %d pages\n",
						i+1, v.Timestamp.Format(models.TimestampLayout), v.ManifestHash[:12], len(manifest))
				}
				return nil
			})
		},
	}
}

func showCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <version>",
		Short: "List the pages of a version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.view(cmd.Context(), func(n *notes.NoteArchive) error {
				v, err := versionArg(n, args[0])
				if err != nil {
					return err
				}
				manifest, err := n.Manifest(v)
				if err != nil {
					return err
				}
				ids := make([]string, 0, len(manifest))
				for id := range manifest {
					ids = append(ids, id)
				}
				sort.Strings(ids)

				a.printf("version %s  %s\n", args[0], v.Timestamp.Format(models.TimestampLayout))
				for _, id := range ids {
					props, err := n.PagePropertiesAt(v, id)
					if err != nil {
						return err
					}
					a.printf("%s  %s\n", id, props.Title)
				}
				return nil
			})
		},
	}
}

func diffCmd(a *app) *cobra.Command {
	var statOnly bool
	cmd := &cobra.Command{
		Use:   "diff <page> <from> <to>",
		Short: "Show how a page changed between two versions",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.view(cmd.Context(), func(n *notes.NoteArchive) error {
				from, err := versionArg(n, args[1])
				if err != nil {
					return err
				}
				to, err := versionArg(n, args[2])
				if err != nil {
					return err
				}
				unified, err := n.PageDiff(args[0], from, to)
				if err != nil {
					return err
				}
				stat, err := textdiff.UnifiedStat(unified)
				if err != nil {
					return err
				}
				if !statOnly {
					a.printf("%s", unified)
				}
				a.printf("%s\n", stat)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&statOnly, "stat", false, "Only print the change summary")
	return cmd
}
