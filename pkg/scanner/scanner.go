// Package scanner orchestrates blob-level secret scanning across a
// repository: a bounded worker pool pulls blobs from the enumerator output,
// matches each one against a rule set, and publishes findings to the
// shared Store through a non-blocking, metrics-observed queue.
package scanner

import (
	"fmt"
	"io"
	"runtime"
	"sync"

	"github.com/go-git/go-git/v5"

	"github.com/kingfisher-scan/kingfisher/pkg/blobenum"
	"github.com/kingfisher-scan/kingfisher/pkg/buffers/buffer"
	"github.com/kingfisher-scan/kingfisher/pkg/buffers/pool"
	"github.com/kingfisher-scan/kingfisher/pkg/channelmetrics"
	"github.com/kingfisher-scan/kingfisher/pkg/commitgraph"
	"github.com/kingfisher-scan/kingfisher/pkg/common"
	logContext "github.com/kingfisher-scan/kingfisher/pkg/context"
	"github.com/kingfisher-scan/kingfisher/pkg/gitindex"
	"github.com/kingfisher-scan/kingfisher/pkg/rules"
)

// blobTask is one unit of CPU-bound work: a blob id together with the
// first-seen commit metadata the enumerator attributed it to (nil when the
// repository was indexed in degraded/metadataless mode).
type blobTask struct {
	id   gitindex.ObjectID
	path []byte
	meta *commitgraph.CommitMetadata
}

// Options configures a scan run. Workers defaults to runtime.NumCPU() when
// zero or negative.
type Options struct {
	Workers int
	Dedup   bool
}

func (o Options) workerCount() int {
	if o.Workers > 0 {
		return o.Workers
	}
	return runtime.NumCPU()
}

// Stats summarizes a completed (or cancelled) scan run.
type Stats struct {
	BlobsScanned  int
	BlobsSkipped  int
	MatchesFound  int
	CommitsWalked int
}

// ScanRepository runs blobenum.Enumerate to obtain first-seen appearances,
// then dispatches every distinct blob to a bounded worker pool that matches
// it against m and records surviving matches into store. It honors
// ctx cancellation: once cancelled, no new blob is dispatched and the call
// returns after in-flight workers drain, with findings already recorded
// left intact.
func ScanRepository(ctx logContext.Context, repo *git.Repository, m *rules.Matcher, store *rules.Store, exclude blobenum.ExcludePath, opts Options) (Stats, error) {
	result, err := blobenum.Enumerate(ctx, repo, exclude)
	if err != nil {
		return Stats{}, fmt.Errorf("scanner: blob enumeration failed: %w", err)
	}

	tasks := make(chan blobTask, opts.workerCount()*2)
	observed := channelmetrics.NewObservableChan(tasks, nil)
	defer observed.Close()

	var stats Stats
	var statsMu sync.Mutex

	var wg sync.WaitGroup
	for i := 0; i < opts.workerCount(); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// A panic while matching one malformed blob must not take down
			// the whole scan; recover, log, and let the worker pool drain
			// the rest of the queue with one fewer worker.
			defer common.Recover(ctx)
			worker(ctx, repo, m, store, opts.Dedup, observed, &stats, &statsMu)
		}()
	}

	go func() {
		defer close(tasks)
		for id, appearances := range result {
			if len(appearances) == 0 {
				// A blob with no recorded appearance (e.g. unreachable from
				// any commit) is still scanned; it carries no path/commit.
				if err := observed.SendCtx(ctx, blobTask{id: id}); err != nil {
					return
				}
				continue
			}
			first := appearances[0]
			task := blobTask{id: id, path: first.Path, meta: first.Commit}
			if err := observed.SendCtx(ctx, task); err != nil {
				return
			}
		}
	}()

	wg.Wait()
	return stats, nil
}

func worker(ctx logContext.Context, repo *git.Repository, m *rules.Matcher, store *rules.Store, dedup bool, tasks *channelmetrics.ObservableChan[blobTask], stats *Stats, statsMu *sync.Mutex) {
	for {
		task, err := tasks.RecvCtx(ctx)
		if err != nil {
			return
		}

		buf := pool.GetSharedBufferPool().Get(ctx)
		err = readBlobInto(repo, task.id, buf)
		if err != nil {
			ctx.Logger().V(1).Info("scanner: failed to read blob, skipping", "blob", task.id.String(), "err", err)
			statsMu.Lock()
			stats.BlobsSkipped++
			statsMu.Unlock()
			pool.GetSharedBufferPool().Put(buf)
			continue
		}
		data := append([]byte(nil), buf.Bytes()...)
		pool.GetSharedBufferPool().Put(buf)

		matches := m.MatchBlob(task.id.String(), data)
		matches = m.ApplyDependencies(task.id.String(), matches)

		statsMu.Lock()
		stats.BlobsScanned++
		stats.MatchesFound += len(matches)
		statsMu.Unlock()

		if len(matches) == 0 {
			continue
		}
		origin := task.id.String()
		if task.meta != nil {
			origin = task.meta.CommitID.String()
		}
		store.Record(origin, task.id.String(), matches, dedup)
	}
}

// readBlobInto reads id's contents into buf, a buffer checked out from the
// shared pool so repeated scans of many small blobs don't churn the
// allocator the way a fresh io.ReadAll per blob would.
func readBlobInto(repo *git.Repository, id gitindex.ObjectID, buf *buffer.CheckoutBuffer) error {
	blob, err := repo.BlobObject(id)
	if err != nil {
		return err
	}
	reader, err := blob.Reader()
	if err != nil {
		return err
	}
	defer reader.Close()
	_, err = io.Copy(buf, reader)
	return err
}
