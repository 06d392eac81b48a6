package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/atinyakov/glucosync/internal/apperr"
	"github.com/atinyakov/glucosync/internal/client/encryption"
	"github.com/atinyakov/glucosync/internal/client/remote"
	"github.com/atinyakov/glucosync/internal/client/repair"
	"github.com/atinyakov/glucosync/internal/client/storage"
	"github.com/atinyakov/glucosync/internal/client/syncer"
	"github.com/atinyakov/glucosync/internal/config"
	"github.com/atinyakov/glucosync/internal/docstore"
	"github.com/atinyakov/glucosync/internal/logger"
	"github.com/atinyakov/glucosync/internal/models"
)

const documentsFile = "documents.db"

// app holds the client components wired for one command invocation.
type app struct {
	in  io.Reader
	out io.Writer

	opts   config.ClientOptions
	log    *zap.Logger
	local  *storage.LocalStorage
	state  *storage.StateStore
	keys   *encryption.Service
	http   *http.Client
	auth   *remote.AuthClient
	docs   *docstore.Store
	remote remote.Store
	sync   *syncer.Coordinator
}

func (a *app) open(ctx context.Context, opts config.ClientOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.opts = opts

	lg := logger.New()
	if err := lg.InitDevelopment(opts.LogLevel); err != nil {
		return err
	}
	a.log = lg.Log

	if err := os.MkdirAll(opts.Home, 0o700); err != nil {
		return fmt.Errorf("create home directory: %w", err)
	}

	a.local = storage.NewLocalStorage(opts.Home)
	if err := a.local.Load(); err != nil {
		return fmt.Errorf("load local store: %w", err)
	}
	state, err := storage.OpenState(opts.Home)
	if err != nil {
		return fmt.Errorf("load sync state: %w", err)
	}
	a.state = state

	a.keys = encryption.NewService(storage.NewKeyFile(opts.Home), 0, a.log)
	if err := a.keys.InitializeEncryptionKey(ctx); err != nil {
		return fmt.Errorf("initialize encryption key: %w", err)
	}

	a.http, err = remote.NewHTTPClient(opts.CAFile, opts.Timeout.Duration)
	if err != nil {
		return err
	}
	a.auth = remote.NewAuthClient(a.http, opts.ServerURL)

	rc := remote.Config{
		Backend:    opts.Backend,
		BaseURL:    opts.ServerURL,
		HTTPClient: a.http,
		Cipher:     a.keys,
		Sessions:   a.state,
		Log:        a.log,
	}
	if opts.Backend == remote.BackendDocument {
		docs, err := a.collection()
		if err != nil {
			return err
		}
		rc.Collection = docs
	}
	a.remote, err = remote.New(rc)
	if err != nil {
		return err
	}
	a.sync = syncer.New(a.local, a.state, a.remote, a.log)
	return nil
}

// collection opens the document collection on first use.
func (a *app) collection() (*docstore.Store, error) {
	if a.docs != nil {
		return a.docs, nil
	}
	docs, err := docstore.Open(filepath.Join(a.opts.Home, documentsFile))
	if err != nil {
		return nil, err
	}
	a.docs = docs
	return docs, nil
}

func (a *app) repairTool() (*repair.Tool, error) {
	docs, err := a.collection()
	if err != nil {
		return nil, err
	}
	return repair.New(docs, a.keys, a.log), nil
}

// session returns the stored session when it is still valid.
func (a *app) session() (*models.Session, error) {
	sess := a.state.Session()
	if !sess.Valid(time.Now()) {
		return nil, fmt.Errorf("%w: run 'glucosync login' first", apperr.ErrAuthentication)
	}
	return sess, nil
}

// userID returns the id of the last signed-in user, even with an expired
// token. Local maintenance does not need a live session.
func (a *app) userID() (string, error) {
	sess := a.state.Session()
	if sess == nil || sess.UserID == "" {
		return "", fmt.Errorf("%w: run 'glucosync login' first", apperr.ErrAuthentication)
	}
	return sess.UserID, nil
}

// signIn stores sess and, when sync is already on, reconciles right away.
func (a *app) signIn(ctx context.Context, sess *models.Session) error {
	if err := a.state.SetSession(sess); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	fmt.Fprintf(a.out, "Signed in as %s\n", sess.Email)
	if a.state.Metadata().Enabled {
		res, err := a.sync.SyncNow(ctx)
		a.printResult(res, err)
	}
	return nil
}

// signOut clears the session and turns sync off.
func (a *app) signOut(ctx context.Context) error {
	if _, err := a.sync.SetSyncEnabled(ctx, false); err != nil {
		return err
	}
	return a.state.SetSession(nil)
}

func (a *app) printResult(res syncer.Result, err error) {
	switch {
	case errors.Is(err, apperr.ErrSyncDisabled):
		fmt.Fprintln(a.out, "Sync is disabled. Run 'glucosync enable' to turn it on.")
	case err != nil:
		fmt.Fprintf(a.out, "Sync failed: %v (%d change(s) pending)\n", err, a.local.PendingCount())
	default:
		fmt.Fprintf(a.out, "Synced: pushed %d, fetched %d, kept %d local, %d total", res.Pushed, res.Fetched, res.KeptLocal, res.Total)
		if res.PushFailed > 0 {
			fmt.Fprintf(a.out, ", %d rejected", res.PushFailed)
		}
		if res.Skipped > 0 {
			fmt.Fprintf(a.out, ", %d unreadable remotely (see 'glucosync repair')", res.Skipped)
		}
		fmt.Fprintln(a.out)
	}
}

func (a *app) close() error {
	var errs []error
	if a.docs != nil {
		errs = append(errs, a.docs.Close())
		a.docs = nil
	}
	if a.log != nil {
		_ = a.log.Sync()
	}
	return errors.Join(errs...)
}
