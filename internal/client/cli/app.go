package cli

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/dmitrijs2005/finkeeper/internal/client/client"
	"github.com/dmitrijs2005/finkeeper/internal/client/config"
	"github.com/dmitrijs2005/finkeeper/internal/client/connectivity"
	"github.com/dmitrijs2005/finkeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/finkeeper/internal/client/repositories/queue"
	"github.com/dmitrijs2005/finkeeper/internal/client/repositories/records"
	"github.com/dmitrijs2005/finkeeper/internal/client/services"
	"github.com/dmitrijs2005/finkeeper/internal/client/syncer"
	"github.com/dmitrijs2005/finkeeper/internal/common"
	"github.com/dmitrijs2005/finkeeper/internal/cryptox"
	"github.com/dmitrijs2005/finkeeper/internal/filex"
	"github.com/dmitrijs2005/finkeeper/internal/logging"
)

type App struct {
	config *config.Config
	logger logging.Logger
	reader *bufio.Reader
	out    io.Writer

	db        *sql.DB
	transport *client.HTTPClient
	prober    connectivity.Prober
	closers   []func() error

	meta    metadata.Repository
	records services.RecordService
	monitor *connectivity.Monitor
	syncer  *syncer.Manager

	mu     sync.RWMutex
	token  string
	userID string
}

// NewApp opens the local store and wires the sync engine. When
// c.EncryptLocal is set it prompts for the local passphrase.
func NewApp(ctx context.Context, c *config.Config, logger logging.Logger) (*App, error) {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	a := &App{config: c, logger: logger, reader: bufio.NewReader(os.Stdin), out: os.Stdout}

	if _, err := filex.EnsureDir(c.DataDir); err != nil {
		return nil, fmt.Errorf("error creating data dir: %w", err)
	}

	db, err := client.InitDatabase(ctx, c.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("error initializing database: %w", err)
	}
	a.db = db
	a.meta = metadata.NewSQLiteRepository(db)

	opts := []records.Option{records.WithInitializer(func(ctx context.Context) error {
		return client.RunMigrations(ctx, db)
	})}
	if c.EncryptLocal {
		sealer, err := a.unlock(ctx, services.NewVaultService(a.meta))
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		opts = append(opts, records.WithSealer(sealer))
	}

	a.transport = client.NewHTTPClient(c.ServerURL, "", c.RequestTimeout)
	if err := a.setupProber(); err != nil {
		_ = db.Close()
		return nil, err
	}

	store := records.NewSQLiteRepository(db, opts...)
	q := queue.NewSQLiteRepository(db)

	a.monitor = connectivity.NewMonitor(logger)
	a.syncer = syncer.NewManager(store, q, a.transport, a.monitor, a.currentUser, syncer.Config{
		ChunkSize:      c.ChunkSize,
		ChunkDelay:     c.ChunkDelay,
		EpisodeTimeout: c.EpisodeTimeout,
		MaxAttempts:    c.MaxAttempts,
		ParallelTypes:  c.ParallelTypes,
	}, logger)
	a.records = services.NewRecordService(store, q, a.transport, a.monitor, a.syncer, a.currentUser, logger)

	a.syncer.Subscribe(a.onSyncEvent)

	if err := a.restoreSession(ctx); err != nil {
		logger.Warn(ctx, "stored session ignored", "error", err)
	}
	return a, nil
}

func (a *App) setupProber() error {
	switch a.config.ProbeMode {
	case config.ProbeGRPC:
		hp, err := client.NewHealthProber(a.config.GRPCAddr)
		if err != nil {
			return fmt.Errorf("error creating health prober: %w", err)
		}
		a.prober = hp
		a.closers = append(a.closers, hp.Close)
	default:
		a.prober = a.transport
	}
	return nil
}

func (a *App) unlock(ctx context.Context, vault services.VaultService) (*cryptox.Sealer, error) {
	initialized, err := vault.Initialized(ctx)
	if err != nil {
		return nil, err
	}
	prompt := "Local passphrase"
	if !initialized {
		prompt = "Choose a local passphrase"
	}
	pass, err := GetSecret(prompt, a.out)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(pass)

	return vault.Unlock(ctx, pass)
}

// Run starts the connectivity watcher and the sync triggers, then blocks in
// the REPL until the user exits or ctx is cancelled.
func (a *App) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer a.Close()

	go a.monitor.Run(ctx, a.prober, a.config.OnlineCheckInterval)
	stop := a.syncer.Start(ctx)
	defer stop()

	fmt.Fprintln(a.out, "Welcome to FinKeeper CLI (type 'help' for commands)")
	runREPL(ctx, a, a.status, a.reader, a.out)
}

// Close waits for background episodes and releases the store.
func (a *App) Close() {
	a.syncer.Wait()
	for _, c := range a.closers {
		_ = c()
	}
	if err := a.db.Close(); err != nil {
		a.logger.Warn(context.Background(), "closing database", "error", err)
	}
}

func (a *App) currentUser() (string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.userID == "" {
		return "", client.ErrNoSession
	}
	return a.userID, nil
}

func (a *App) hasSession() bool {
	_, err := a.currentUser()
	return err == nil
}

// setSession validates token, remembers it and hands it to the transport.
func (a *App) setSession(token string) error {
	userID, err := client.UserFromToken(token)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.token, a.userID = token, userID
	a.mu.Unlock()
	a.transport.SetAccessToken(token)
	return nil
}

func (a *App) clearSession() {
	a.mu.Lock()
	a.token, a.userID = "", ""
	a.mu.Unlock()
	a.transport.SetAccessToken("")
}

// restoreSession prefers a configured token over one saved by login.
func (a *App) restoreSession(ctx context.Context) error {
	token := a.config.AccessToken
	if token == "" {
		saved, err := a.meta.Get(ctx, metadata.KeyAccessToken)
		if err != nil {
			return err
		}
		token = string(saved)
	}
	if token == "" {
		return nil
	}
	return a.setSession(token)
}

func (a *App) onSyncEvent(ev syncer.StatusEvent) {
	if ev.Syncing || ev.Result == nil {
		return
	}
	ctx := context.Background()
	if err := a.meta.SetTime(ctx, metadata.KeyLastSyncAt, ev.Result.Finished); err != nil {
		a.logger.Warn(ctx, "saving last sync time", "error", err)
	}
}

func (a *App) status() string {
	mode := "offline"
	if a.monitor.IsOnline() {
		mode = "online"
	}
	if a.syncer.IsSyncing() {
		mode += " syncing"
	}
	if user, err := a.currentUser(); err == nil {
		return fmt.Sprintf("(%s %s)", user, mode)
	}
	return fmt.Sprintf("(%s)", mode)
}
