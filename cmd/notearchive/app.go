package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/notearchive/internal/config"
	"github.com/kimhsiao/notearchive/internal/document"
	"github.com/kimhsiao/notearchive/internal/errors"
	"github.com/kimhsiao/notearchive/internal/logging"
	"github.com/kimhsiao/notearchive/internal/models"
	"github.com/kimhsiao/notearchive/internal/notes"
	"github.com/kimhsiao/notearchive/internal/store"
)

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	configPath string
	dataDir    string
	docName    string
	backend    string
	logLevel   string
}

// app carries what every command needs: resolved configuration, logger,
// output streams and the clock that stamps versions.
type app struct {
	flags  globalFlags
	cfg    config.Config
	logger *logging.Logger
	in     io.Reader
	out    io.Writer
	errOut io.Writer
	now    func() time.Time
}

// setup resolves configuration. Flags override the file and environment.
func (a *app) setup() error {
	cfg, err := config.Load(a.flags.configPath)
	if err != nil {
		return errors.Wrap(errors.ErrInvalid, "configuration", err)
	}
	if a.flags.dataDir != "" {
		cfg.DataDir = a.flags.dataDir
	}
	if a.flags.docName != "" {
		cfg.Document = a.flags.docName
	}
	if a.flags.backend != "" {
		cfg.Store.Backend = a.flags.backend
	}
	if a.flags.logLevel != "" {
		cfg.Log.Level = a.flags.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(errors.ErrInvalid, "configuration", err)
	}

	a.cfg = cfg
	a.logger = logging.New(a.errOut, cfg.LogLevel())
	return nil
}

// session is an open document together with the store it came from.
type session struct {
	doc   *document.Document
	store store.Store
}

func (s *session) close() {
	s.doc.Close()
	s.store.Close()
}

// open opens the configured document. Read-only sessions do not take the
// writer lock and cannot save.
func (a *app) open(ctx context.Context, readOnly bool) (*session, error) {
	st, err := store.Open(a.cfg.Store.Backend, a.cfg.StorePath(), a.logger)
	if err != nil {
		return nil, err
	}

	opts := []document.Option{
		document.WithLogger(a.logger),
		document.WithNotesOptions(a.cfg.NotesOptions()...),
	}
	if readOnly {
		opts = append(opts, document.ReadOnly())
	}
	doc, err := document.Open(ctx, st, a.cfg.Document, opts...)
	if err != nil {
		st.Close()
		return nil, err
	}
	return &session{doc: doc, store: st}, nil
}

// view runs fn on a read-only session.
func (a *app) view(ctx context.Context, fn func(n *notes.NoteArchive) error) error {
	s, err := a.open(ctx, true)
	if err != nil {
		return err
	}
	defer s.close()
	return s.doc.Do(fn)
}

// update runs fn on a writable session and saves the result.
func (a *app) update(ctx context.Context, fn func(n *notes.NoteArchive) error) error {
	s, err := a.open(ctx, false)
	if err != nil {
		return err
	}
	defer s.close()

	if err := s.doc.Do(fn); err != nil {
		return err
	}
	_, err = s.doc.Save(ctx, a.now())
	return err
}

func (a *app) printf(format string, args ...interface{}) {
	fmt.Fprintf(a.out, format, args...)
}

// versionArg resolves a 1-based version number argument.
func versionArg(n *notes.NoteArchive, arg string) (models.Version, error) {
	num, err := strconv.Atoi(arg)
	if err != nil {
		return models.Version{}, errors.Newf(errors.ErrInvalid, "version must be a number, got %q", arg)
	}
	return n.VersionAt(num)
}

// exitCode maps error codes to process exit statuses.
func exitCode(err error) int {
	switch errors.CodeOf(err) {
	case errors.ErrInvalid:
		return 2
	case errors.ErrNotFound, errors.ErrNoSuchPage, errors.ErrNoSuchText,
		errors.ErrNoSuchTemplateKey, errors.ErrNoSuchTemplateClass:
		return 3
	case errors.ErrNotWriteable:
		return 4
	case errors.ErrCouldNotOpen, errors.ErrDeserialize, errors.ErrCorruptedArchive:
		return 5
	default:
		return 1
	}
}

// newRootCmd builds the command tree writing to the given streams.
func newRootCmd(in io.Reader, out, errOut io.Writer) *cobra.Command {
	return rootCmdFor(&app{in: in, out: out, errOut: errOut, now: time.Now})
}

func rootCmdFor(a *app) *cobra.Command {
	in, out, errOut := a.in, a.out, a.errOut

	rootCmd := &cobra.Command{
		Use:   "notearchive",
		Short: "Versioned, content-addressed archive of markdown notes",
		Long: `notearchive keeps markdown pages in a content-addressed snippet archive.

Every save records a version: a manifest of page properties that can be
listed, inspected and diffed later. Older texts are stored as line diffs
against their successors.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}
	rootCmd.SetIn(in)
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&a.flags.configPath, "config", "c", "", "Path to YAML configuration file")
	flags.StringVar(&a.flags.dataDir, "data-dir", "", "Data directory (overrides DB_PATH)")
	flags.StringVarP(&a.flags.docName, "document", "d", "", "Document name")
	flags.StringVar(&a.flags.backend, "store", "", "Store backend (file, sqlite, badger)")
	flags.StringVar(&a.flags.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		initCmd(a),
		addCmd(a),
		editCmd(a),
		rmCmd(a),
		catCmd(a),
		propsCmd(a),
		lsCmd(a),
		tagsCmd(a),
		commitCmd(a),
		logCmd(a),
		showCmd(a),
		diffCmd(a),
		templatesCmd(a),
		challengesCmd(a),
		fsckCmd(a),
		statsCmd(a),
		importDirCmd(a),
		exportCmd(a),
		restoreCmd(a),
		watchCmd(a),
	)
	return rootCmd
}
