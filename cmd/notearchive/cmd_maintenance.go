package main

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/kimhsiao/notearchive/internal/backup"
	"github.com/kimhsiao/notearchive/internal/document"
	"github.com/kimhsiao/notearchive/internal/errors"
	"github.com/kimhsiao/notearchive/internal/notes"
	"github.com/kimhsiao/notearchive/internal/store"
	"github.com/kimhsiao/notearchive/internal/telemetry"
)

// EnvPassword supplies the bundle password when --password is not given.
const EnvPassword = "NOTEARCHIVE_PASSWORD"

func fsckCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "fsck",
		Short: "Check that every snippet, version and page can be read",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.view(cmd.Context(), func(n *notes.NoteArchive) error {
				problems := n.Archive().Verify()
				for num, v := range n.Versions() {
					manifest, err := n.Manifest(v)
					if err != nil {
						problems = append(problems, errors.Wrap(errors.ErrCorruptedArchive, "version "+strconv.Itoa(num+1), err))
						continue
					}
					for id := range manifest {
						if _, err := n.PagePropertiesAt(v, id); err != nil {
							problems = append(problems, err)
							continue
						}
						if _, err := n.TextAt(v, id); err != nil {
							problems = append(problems, err)
						}
					}
				}

				for _, p := range problems {
					a.printf("problem: %v\n", p)
				}
				if len(problems) > 0 {
					return errors.Newf(errors.ErrCorruptedArchive, "%d problems found", len(problems))
				}
				a.printf("ok: %d snippets, %d versions\n", n.Archive().Len(), len(n.Versions()))
				return nil
			})
		},
	}
}

func statsCmd(a *app) *cobra.Command {
	var metrics bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Report archive size and delta encoding statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.view(cmd.Context(), func(n *notes.NoteArchive) error {
				st, err := n.Archive().Stats()
				if err != nil {
					return err
				}
				all, err := n.AllPageProperties()
				if err != nil {
					return err
				}
				words := 0
				for _, props := range all {
					words += props.WordCount
				}
				a.printf("pages:          %d (%d words)\n", len(all), words)
				a.printf("versions:       %d\n", len(n.Versions()))
				a.printf("snippets:       %d (%d diff-encoded)\n", st.Snippets, st.DiffEncoded)
				a.printf("references:     %d\n", st.References)
				a.printf("stored bytes:   %d\n", st.StoredBytes)
				a.printf("full bytes:     %d\n", st.FullBytes)
				a.printf("deepest chain:  %d (limit %d)\n", st.MaxChainSeen, n.Archive().MaxChainDepth())
				if !metrics {
					return nil
				}

				samples, err := telemetry.Snapshot()
				if err != nil {
					return errors.Wrap(errors.ErrInternal, "gather metrics", err)
				}
				for _, s := range samples {
					a.printf("%s %g\n", s.Name, s.Value)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&metrics, "metrics", false, "Also print process metrics")
	return cmd
}

func importDirCmd(a *app) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "import-dir <dir>",
		Short: "Import every markdown file under a directory",
		Long: `Import every *.md file under dir as a page, keyed by its path relative
to dir. Re-importing a file updates the page it created before.

With --watch the command keeps running, importing files as they change and
saving on the configured autosave interval until interrupted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			root := args[0]

			s, err := a.open(ctx, false)
			if err != nil {
				return err
			}
			defer s.close()

			var created, updated int
			err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if d.IsDir() || !isMarkdown(path) {
					return nil
				}
				isNew, err := a.importFile(s.doc, root, path)
				if err != nil {
					return err
				}
				if isNew {
					created++
				} else {
					updated++
				}
				return nil
			})
			if err != nil {
				return err
			}
			if _, err := s.doc.Save(ctx, a.now()); err != nil {
				return err
			}
			a.printf("imported %d new, %d existing files\n", created, updated)

			if !watch {
				return nil
			}
			return a.watchDir(ctx, s.doc, root)
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Keep importing files as they change")
	return cmd
}

func isMarkdown(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".md")
}

// importFile imports path under its slash-separated path relative to root.
func (a *app) importFile(doc *document.Document, root, path string) (bool, error) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false, errors.Wrap(errors.ErrInvalid, "relative path of "+path, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return false, errors.Wrap(errors.ErrInvalid, "stat "+path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return false, errors.Wrap(errors.ErrInvalid, "read "+path, err)
	}

	var created bool
	err = doc.Do(func(n *notes.NoteArchive) error {
		_, created, err = n.ImportFile(filepath.ToSlash(rel), string(data), info.ModTime())
		return err
	})
	return created, err
}

// watchDir imports markdown files under root as they are written, with an
// autosaver committing the results, until ctx is done.
func (a *app) watchDir(ctx context.Context, doc *document.Document, root string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(errors.ErrStorage, "create watcher", err)
	}
	defer watcher.Close()

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return err
		}
		return watcher.Add(path)
	})
	if err != nil {
		return errors.Wrap(errors.ErrStorage, "watch "+root, err)
	}

	autosaver := document.NewAutosaver(doc, &document.AutosaverConfig{
		PropertyInterval: a.cfg.Autosave.PropertyInterval,
		SaveInterval:     a.cfg.Autosave.SaveInterval,
		Clock:            a.now,
	})
	autosaver.Start(ctx)
	a.logger.Info("Watching directory", map[string]interface{}{"dir": root})

	for {
		select {
		case <-ctx.Done():
			autosaver.Stop()
			// ctx is cancelled; the final save gets its own.
			if err := autosaver.SaveNow(context.Background()); err != nil {
				return err
			}
			a.printf("saved %d times while watching\n", autosaver.Status().Saves)
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					watcher.Add(event.Name)
					continue
				}
			}
			if (!event.Has(fsnotify.Write) && !event.Has(fsnotify.Create)) || !isMarkdown(event.Name) {
				continue
			}
			if _, err := a.importFile(doc, root, event.Name); err != nil {
				a.logger.Warn("Failed to import changed file", map[string]interface{}{
					"path":  event.Name,
					"error": err.Error(),
				})
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			a.logger.Error("Directory watcher error", err, nil)
		}
	}
}

func passwordFlag(flag string) string {
	if flag != "" {
		return flag
	}
	return os.Getenv(EnvPassword)
}

func exportCmd(a *app) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "export <file>",
		Short: "Write the document to a backup bundle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var serialized string
			manifest := backup.Manifest{Name: a.cfg.Document, ExportedAt: a.now()}
			err := a.view(cmd.Context(), func(n *notes.NoteArchive) error {
				serialized = n.TextSerialized()
				manifest.Versions = len(n.Versions())
				manifest.Pages = len(n.PageIdentifiers())
				return nil
			})
			if err != nil {
				return err
			}

			f, err := os.Create(args[0])
			if err != nil {
				return errors.Wrap(errors.ErrInvalid, "create "+args[0], err)
			}
			result, err := backup.Export(f, serialized, manifest, passwordFlag(password))
			if cerr := f.Close(); err == nil && cerr != nil {
				err = errors.Wrap(errors.ErrStorage, "close "+args[0], cerr)
			}
			if err != nil {
				os.Remove(args[0])
				return err
			}

			a.printf("exported %d versions, %d pages to %s (%d bytes", manifest.Versions, manifest.Pages, args[0], result.SizeBytes)
			if result.Encrypted {
				a.printf(", encrypted")
			}
			a.printf(")\n")
			return nil
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "Seal the bundle with this password (or set "+EnvPassword+")")
	return cmd
}

func restoreCmd(a *app) *cobra.Command {
	var password string
	var force bool
	cmd := &cobra.Command{
		Use:   "restore <file>",
		Short: "Replace the document with the contents of a backup bundle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			f, err := os.Open(args[0])
			if err != nil {
				return errors.Wrap(errors.ErrNotFound, "open "+args[0], err)
			}
			defer f.Close()
			manifest, serialized, err := backup.Import(f, passwordFlag(password))
			if err != nil {
				return err
			}

			s, err := a.open(ctx, false)
			if err != nil {
				return err
			}
			defer s.close()
			if !s.doc.IsNew() && !force {
				return errors.Newf(errors.ErrNotWriteable, "document %s already exists; use --force to replace it", a.cfg.Document)
			}
			if err := s.doc.Restore(ctx, serialized); err != nil {
				return err
			}

			a.printf("restored %q exported %s: %d versions, %d pages\n",
				manifest.Name, manifest.ExportedAt.Format("2006-01-02 15:04:05"), manifest.Versions, manifest.Pages)
			return nil
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password of a sealed bundle (or set "+EnvPassword+")")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Replace an existing document")
	return cmd
}

func watchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow the document as other processes save it",
		Long: `Follow the document as other processes save it, printing a line per
change. Only the file store can be watched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := a.open(ctx, true)
			if err != nil {
				return err
			}
			defer s.close()

			fileStore, ok := s.store.(*store.FileStore)
			if !ok {
				return errors.Newf(errors.ErrInvalid, "the %s store cannot be watched", a.cfg.Store.Backend)
			}
			err = fileStore.Watch(ctx, a.cfg.Document, func(string) {
				changed, err := s.doc.Reload(ctx)
				if err != nil {
					a.logger.Warn("Failed to reload document", map[string]interface{}{"error": err.Error()})
					return
				}
				if !changed {
					return
				}
				s.doc.Do(func(n *notes.NoteArchive) error {
					a.printf("%s  %d versions, %d pages\n", a.now().Format("15:04:05"), len(n.Versions()), len(n.PageIdentifiers()))
					return nil
				})
			})
			if err != nil {
				return err
			}

			<-ctx.Done()
			return nil
		},
	}
}
