package main

import (
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/notearchive/internal/errors"
	"github.com/kimhsiao/notearchive/internal/models"
	"github.com/kimhsiao/notearchive/internal/notes"
)

// readText returns the contents of path, or stdin when path is "-" or
// absent.
func (a *app) readText(args []string, i int) (string, error) {
	if len(args) <= i || args[i] == "-" {
		data, err := io.ReadAll(a.in)
		if err != nil {
			return "", errors.Wrap(errors.ErrInvalid, "read stdin", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(args[i])
	if err != nil {
		return "", errors.Wrap(errors.ErrInvalid, "read "+args[i], err)
	}
	return string(data), nil
}

func initCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create an empty document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := a.open(ctx, false)
			if err != nil {
				return err
			}
			defer s.close()

			if !s.doc.IsNew() {
				a.printf("Document %s already exists\n", a.cfg.Document)
				return nil
			}
			if _, err := s.doc.Save(ctx, a.now()); err != nil {
				return err
			}
			a.printf("Initialized empty document %s in %s\n", a.cfg.Document, a.cfg.StorePath())
			return nil
		},
	}
}

func addCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "add [file|-]",
		Short: "Add a page from a file or stdin and print its identifier",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := a.readText(args, 0)
			if err != nil {
				return err
			}
			var id string
			err = a.update(cmd.Context(), func(n *notes.NoteArchive) error {
				id, err = n.InsertNote(text, a.now())
				return err
			})
			if err != nil {
				return err
			}
			a.printf("%s\n", id)
			return nil
		},
	}
}

func editCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "edit <page> [file|-]",
		Short: "Replace the text of a page",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := a.readText(args, 1)
			if err != nil {
				return err
			}
			return a.update(cmd.Context(), func(n *notes.NoteArchive) error {
				return n.UpdateText(args[0], text, a.now())
			})
		},
	}
}

func rmCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <page>...",
		Short: "Remove pages (history keeps them)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.update(cmd.Context(), func(n *notes.NoteArchive) error {
				for _, id := range args {
					if err := n.RemoveNote(id); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func catCmd(a *app) *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "cat <page>",
		Short: "Print the text of a page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.view(cmd.Context(), func(n *notes.NoteArchive) error {
				var text string
				var err error
				if at == "" {
					text, err = n.CurrentText(args[0])
				} else {
					var v models.Version
					if v, err = versionArg(n, at); err != nil {
						return err
					}
					text, err = n.TextAt(v, args[0])
				}
				if err != nil {
					return err
				}
				a.printf("%s", text)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "Version number to read from (1 is the oldest)")
	return cmd
}

func propsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "props <page>",
		Short: "Print the properties of a page as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.view(cmd.Context(), func(n *notes.NoteArchive) error {
				props, err := n.PageProperties(args[0])
				if err != nil {
					return err
				}
				text, err := props.Encode()
				if err != nil {
					return err
				}
				a.printf("%s", text)
				return nil
			})
		},
	}
}

func lsCmd(a *app) *cobra.Command {
	var tag string
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List pages with their titles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.view(cmd.Context(), func(n *notes.NoteArchive) error {
				ids := n.PageIdentifiers()
				if tag != "" {
					var err error
					if ids, err = n.PagesWithHashtag(tag); err != nil {
						return err
					}
				}
				all, err := n.AllPageProperties()
				if err != nil {
					return err
				}
				for _, id := range ids {
					a.printf("%s  %s\n", id, all[id].Title)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&tag, "tag", "t", "", "Only pages carrying this hashtag")
	return cmd
}

func tagsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tags",
		Short: "List every hashtag in use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.view(cmd.Context(), func(n *notes.NoteArchive) error {
				tags, err := n.Hashtags()
				if err != nil {
					return err
				}
				if len(tags) > 0 {
					a.printf("%s\n", strings.Join(tags, "\n"))
				}
				return nil
			})
		},
	}
}

func templatesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "templates <page>",
		Short: "List the challenge templates of a page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.view(cmd.Context(), func(n *notes.NoteArchive) error {
				props, err := n.PageProperties(args[0])
				if err != nil {
					return err
				}
				for _, key := range props.ChallengeTemplateKeys {
					tmpl, err := n.ChallengeTemplate(key)
					if err != nil {
						a.printf("%s  (unresolved: %v)\n", key, err)
						continue
					}
					a.printf("%s  %d challenges\n", key, len(tmpl.Challenges()))
				}
				return nil
			})
		},
	}
}

func challengesCmd(a *app) *cobra.Command {
	var showAnswers bool
	cmd := &cobra.Command{
		Use:   "challenges",
		Short: "List every challenge of every page",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.view(cmd.Context(), func(n *notes.NoteArchive) error {
				ids, err := n.ChallengeIdentifiers()
				if err != nil {
					return err
				}
				for _, id := range ids {
					c, err := n.Challenge(id)
					if err != nil {
						return err
					}
					a.printf("%s\n  Q: %s\n", id, oneLine(c.Prompt))
					if showAnswers {
						a.printf("  A: %s\n", oneLine(c.Answer))
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&showAnswers, "answers", false, "Also print answers")
	return cmd
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
