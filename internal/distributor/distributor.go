// Package distributor assigns segments to accounts and moves bytes to the
// blob platform with bounded parallelism. Assignment is a pure function of
// (video_id, ordinal, account count) so it never changes across restarts.
package distributor

import (
	"context"
	"hash/fnv"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/hlsvault/hlsvault/internal/blob"
	"github.com/hlsvault/hlsvault/internal/config"
	"github.com/hlsvault/hlsvault/internal/models"
	"github.com/hlsvault/hlsvault/internal/planner"
	"github.com/hlsvault/hlsvault/internal/repository"
)

// BlobStore is the slice of the blob client the distributor needs.
// Implemented by *blob.Client.
type BlobStore interface {
	Upload(ctx context.Context, account blob.Account, filename string, r io.Reader, size int64) (string, error)
	Delete(ctx context.Context, account blob.Account, handle string) error
}

// AccountFor returns the account owning the i-th segment of a video. The
// FNV offset spreads videos across accounts; the +i sweep spreads one
// video's segments so playback can download from several accounts at once.
func AccountFor(accounts []blob.Account, videoID string, ordinal int) blob.Account {
	h := fnv.New32a()
	h.Write([]byte(videoID))
	idx := (h.Sum32() + uint32(ordinal)) % uint32(len(accounts))
	return accounts[idx]
}

// Distributor uploads planned segments and records each commit as its own
// row insert.
type Distributor struct {
	store    BlobStore
	segments repository.SegmentRepository
	accounts []blob.Account

	concurrency int
	retries     int
	logger      *slog.Logger
}

// New creates a Distributor over the configured static account list.
func New(store BlobStore, segments repository.SegmentRepository, accounts []blob.Account, cfg config.UploadConfig, log *slog.Logger) *Distributor {
	if log == nil {
		log = slog.Default()
	}
	return &Distributor{
		store:       store,
		segments:    segments,
		accounts:    accounts,
		concurrency: cfg.Concurrency,
		retries:     cfg.Retries,
		logger:      log.With(slog.String("component", "distributor")),
	}
}

// Distribute uploads every planned segment starting at startOrdinal and
// inserts one segment row per success. Segments below startOrdinal are
// assumed committed by a previous run. Any exhausted upload aborts the
// whole distribution.
func (d *Distributor) Distribute(ctx context.Context, videoID string, segments []planner.PlannedSegment, startOrdinal int, onProgress func(done, total int)) error {
	if len(d.accounts) == 0 {
		return models.E(models.KindConfigInvalid, "no accounts configured")
	}

	// Per-account slots keep any single account within its share of the
	// global parallelism budget.
	perAccount := int64(d.concurrency / len(d.accounts))
	if perAccount < 1 {
		perAccount = 1
	}
	slots := make(map[string]*semaphore.Weighted, len(d.accounts))
	for _, a := range d.accounts {
		slots[a.ID] = semaphore.NewWeighted(perAccount)
	}

	var done atomic.Int64
	done.Store(int64(startOrdinal))
	total := len(segments)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)

	for _, seg := range segments {
		if seg.Ordinal < startOrdinal {
			continue
		}
		seg := seg
		account := AccountFor(d.accounts, videoID, seg.Ordinal)

		g.Go(func() error {
			slot := slots[account.ID]
			if err := slot.Acquire(gctx, 1); err != nil {
				return err
			}
			defer slot.Release(1)

			handle, err := d.uploadWithRetry(gctx, account, videoID, models.SegmentFilename(seg.Ordinal), seg)
			if err != nil {
				return err
			}

			row := &models.Segment{
				VideoID:   videoID,
				Ordinal:   seg.Ordinal,
				Filename:  models.SegmentFilename(seg.Ordinal),
				Duration:  seg.Duration,
				ByteSize:  seg.ByteSize,
				Handle:    handle,
				AccountID: account.ID,
			}
			if err := d.segments.Create(gctx, row); err != nil {
				return err
			}

			if onProgress != nil {
				onProgress(int(done.Add(1)), total)
			}
			return nil
		})
	}

	return g.Wait()
}

// uploadWithRetry pushes one segment with exponential backoff, rewinding
// the file between attempts. The account never changes across retries.
func (d *Distributor) uploadWithRetry(ctx context.Context, account blob.Account, videoID, filename string, seg planner.PlannedSegment) (string, error) {
	f, err := os.Open(seg.Path)
	if err != nil {
		return "", models.Wrap(models.KindUploadFailed, err, "opening %s", filename)
	}
	defer f.Close()

	var handle string

	attempt := 0
	operation := func() error {
		attempt++
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return backoff.Permanent(err)
		}
		h, err := d.store.Upload(ctx, account, filename, f, seg.ByteSize)
		if err != nil {
			d.logger.Warn("segment upload failed",
				slog.String("video_id", videoID),
				slog.Int("ordinal", seg.Ordinal),
				slog.String("account", account.ID),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))
			return err
		}
		handle = h
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(d.retries)), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return "", models.Wrap(models.KindUploadFailed, err,
			"segment %d exhausted %d attempts via %s", seg.Ordinal, attempt, account.ID)
	}

	d.logger.Debug("segment committed",
		slog.String("video_id", videoID),
		slog.Int("ordinal", seg.Ordinal),
		slog.String("account", account.ID),
		slog.Int64("bytes", seg.ByteSize))
	return handle, nil
}

// UploadBlob pushes a single auxiliary file (subtitle track) to the account
// chosen by the same assignment rule, keyed by an ordinal-like index.
func (d *Distributor) UploadBlob(ctx context.Context, videoID string, index int, filename, path string) (handle, accountID string, size int64, err error) {
	if len(d.accounts) == 0 {
		return "", "", 0, models.E(models.KindConfigInvalid, "no accounts configured")
	}
	account := AccountFor(d.accounts, videoID, index)

	st, err := os.Stat(path)
	if err != nil {
		return "", "", 0, models.Wrap(models.KindUploadFailed, err, "stat %s", filename)
	}

	h, err := d.uploadWithRetry(ctx, account, videoID, filename, planner.PlannedSegment{
		Ordinal: index, Path: path, ByteSize: st.Size(),
	})
	if err != nil {
		return "", "", 0, err
	}
	return h, account.ID, st.Size(), nil
}

// DeleteRemote removes blobs from the platform, best effort with the same
// parallelism budget. Failures are logged and counted, never fatal; rows
// are already gone and platform orphans are tolerated.
func (d *Distributor) DeleteRemote(ctx context.Context, refs []BlobRef) int {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)

	var failed atomic.Int32
	for _, ref := range refs {
		ref := ref
		account, ok := blob.ByID(d.accounts, ref.AccountID)
		if !ok {
			d.logger.Warn("blob owned by unconfigured account, skipping delete",
				slog.String("account", ref.AccountID))
			failed.Add(1)
			continue
		}
		g.Go(func() error {
			dctx, cancel := context.WithTimeout(gctx, 30*time.Second)
			defer cancel()
			if err := d.store.Delete(dctx, account, ref.Handle); err != nil {
				d.logger.Warn("remote delete failed",
					slog.String("account", ref.AccountID),
					slog.String("error", err.Error()))
				failed.Add(1)
			}
			return nil
		})
	}
	g.Wait()
	return len(refs) - int(failed.Load())
}

// BlobRef names one remote blob for deletion.
type BlobRef struct {
	Handle    string
	AccountID string
}
