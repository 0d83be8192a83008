package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dmitrijs2005/finkeeper/internal/client/models"
	"github.com/dmitrijs2005/finkeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/finkeeper/internal/client/syncer"
	"github.com/dmitrijs2005/finkeeper/internal/common"
)

var errUsage = errors.New("wrong arguments (type 'help' for usage)")

func parseTypeArg(args []string, n int) (models.RecordType, error) {
	if len(args) < n {
		return "", errUsage
	}
	return models.ParseRecordType(args[0])
}

// Login accepts the token as an argument or prompts for it without echo.
// The token is saved so later sessions start logged in.
func (a *App) Login(ctx context.Context, args []string) error {
	var token string
	if len(args) > 0 {
		token = args[0]
	} else {
		b, err := GetSecret("Access token", a.out)
		if err != nil {
			return err
		}
		token = strings.TrimSpace(string(b))
	}

	if err := a.setSession(token); err != nil {
		return err
	}
	if err := a.meta.Set(ctx, metadata.KeyAccessToken, []byte(token)); err != nil {
		a.logger.Warn(ctx, "saving access token", "error", err)
	}

	user, _ := a.currentUser()
	fmt.Fprintf(a.out, "Logged in as %s\n", user)
	if a.monitor.IsOnline() {
		a.syncer.Trigger(ctx)
	}
	return nil
}

// Logout forgets the token. Local records are kept.
func (a *App) Logout(ctx context.Context) error {
	a.clearSession()
	if err := a.meta.Delete(ctx, metadata.KeyAccessToken); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Logged out")
	return nil
}

func (a *App) Add(ctx context.Context, args []string) error {
	t, err := parseTypeArg(args, 1)
	if err != nil {
		return err
	}
	data, err := a.fillForm(t, nil)
	if err != nil {
		return err
	}
	rec, err := a.records.Save(ctx, t, data)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Saved %s %s (version %d, %s)\n", t, rec.ID, rec.Version, rec.SyncStatus)
	return nil
}

func (a *App) Edit(ctx context.Context, args []string) error {
	t, err := parseTypeArg(args, 2)
	if err != nil {
		return err
	}
	rec, err := a.records.Get(ctx, t, args[1])
	if err != nil {
		return err
	}
	var existing map[string]any
	if err := json.Unmarshal(rec.Data, &existing); err != nil {
		return fmt.Errorf("stored record is not an object: %w", err)
	}
	data, err := a.fillForm(t, existing)
	if err != nil {
		return err
	}
	rec, err = a.records.Save(ctx, t, data)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Saved %s %s (version %d, %s)\n", t, rec.ID, rec.Version, rec.SyncStatus)
	return nil
}

func (a *App) List(ctx context.Context, args []string) error {
	t, err := parseTypeArg(args, 1)
	if err != nil {
		return err
	}
	rows, err := a.records.List(ctx, t)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Fprintf(a.out, "No %s\n", t.Plural())
		return nil
	}
	for _, r := range rows {
		var m map[string]any
		if err := json.Unmarshal(r, &m); err != nil {
			a.logger.Warn(ctx, "skipping unreadable record", "error", err)
			continue
		}
		fmt.Fprintln(a.out, summary(t, m))
	}
	return nil
}

func (a *App) Show(ctx context.Context, args []string) error {
	t, err := parseTypeArg(args, 2)
	if err != nil {
		return err
	}
	rec, err := a.records.Get(ctx, t, args[1])
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			fmt.Fprintf(a.out, "%s %s not found\n", t, args[1])
			return nil
		}
		return err
	}

	var pretty map[string]any
	if err := json.Unmarshal(rec.Data, &pretty); err != nil {
		return err
	}
	out, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, string(out))
	fmt.Fprintf(a.out, "version %d, %s, modified %s\n", rec.Version, rec.SyncStatus, rec.LastModified.Format(time.RFC3339))
	return nil
}

func (a *App) Delete(ctx context.Context, args []string) error {
	t, err := parseTypeArg(args, 2)
	if err != nil {
		return err
	}
	if err := a.records.Delete(ctx, t, args[1]); err != nil {
		return err
	}
	if !a.monitor.IsOnline() {
		fmt.Fprintln(a.out, "Deleted locally (offline deletes are not sent to the server)")
		return nil
	}
	fmt.Fprintln(a.out, "Deleted")
	return nil
}

// Sync runs an episode now. "sync force" skips the online check.
func (a *App) Sync(ctx context.Context, args []string) error {
	run := a.syncer.StartSync
	if len(args) > 0 && args[0] == "force" {
		run = a.syncer.ForceSync
	}

	res, err := run(ctx)
	switch {
	case errors.Is(err, syncer.ErrOffline):
		fmt.Fprintln(a.out, "Offline: changes stay queued (use 'sync force' to try anyway)")
		return nil
	case errors.Is(err, syncer.ErrSyncInProgress):
		fmt.Fprintln(a.out, "A sync is already running")
		return nil
	case err != nil:
		return err
	}
	printResult(a, res)
	return nil
}

func printResult(a *App, res *models.SyncResult) {
	fmt.Fprintf(a.out, "Synced %d, failed %d in %s\n", res.Synced, res.Failed, res.Finished.Sub(res.Started).Round(time.Millisecond))
	for _, e := range res.Errors {
		fmt.Fprintln(a.out, "  "+e)
	}
}

func (a *App) Status(ctx context.Context) error {
	mode := "offline"
	if a.monitor.IsOnline() {
		mode = "online"
	}
	fmt.Fprintf(a.out, "Server %s: %s\n", a.config.ServerURL, mode)

	last, err := a.meta.GetTime(ctx, metadata.KeyLastSyncAt)
	if err != nil {
		return err
	}
	if last.IsZero() {
		fmt.Fprintln(a.out, "Last sync: never")
	} else {
		fmt.Fprintf(a.out, "Last sync: %s\n", last.Local().Format(time.RFC1123))
	}
	if res := a.syncer.LastResult(); res != nil {
		printResult(a, res)
	}

	if !a.hasSession() {
		fmt.Fprintln(a.out, "Not logged in")
		return nil
	}
	counts, err := a.records.Status(ctx)
	if err != nil {
		return err
	}
	for _, t := range models.AllTypes {
		c := counts[t]
		fmt.Fprintf(a.out, "%-12s synced %d  pending %d  syncing %d  error %d\n", t.Plural(),
			c[models.SyncStatusSynced], c[models.SyncStatusPending], c[models.SyncStatusSyncing], c[models.SyncStatusError])
	}
	return nil
}

func (a *App) Queue(ctx context.Context) error {
	items, err := a.records.Queue(ctx)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Fprintln(a.out, "Queue is empty")
		return nil
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	for _, it := range items {
		line := fmt.Sprintf("%s/%s  %s  attempts %d", it.Type, it.RecordID, it.Action, it.Attempts)
		if it.LastError != "" {
			line += "  last error: " + it.LastError
		}
		fmt.Fprintln(a.out, line)
	}
	return nil
}

// Receipt handles "receipt upload <id> <file>" and "receipt url <id>".
func (a *App) Receipt(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errUsage
	}
	switch args[0] {
	case "upload":
		if len(args) < 3 {
			return errUsage
		}
		if err := a.records.UploadReceipt(ctx, args[1], args[2]); err != nil {
			return err
		}
		fmt.Fprintln(a.out, "Receipt uploaded")
	case "url":
		url, err := a.records.ReceiptURL(ctx, args[1])
		if err != nil {
			return err
		}
		fmt.Fprintln(a.out, url)
	default:
		return errUsage
	}
	return nil
}
