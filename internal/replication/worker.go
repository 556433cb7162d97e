package replication

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/sandboxcdn/pkgcdn/internal/metrics"
	"github.com/sandboxcdn/pkgcdn/internal/npmdoc"
)

// finishedDebounce mirrors FINISHED_DEBOUNCE: the sleep applied once the
// feed reports it's caught up, or after a fetch error.
const finishedDebounce = 60 * time.Second

// PackageStore is the subset of store.Store the worker needs; kept as an
// interface so tests can supply a fake without opening a real bbolt file.
type PackageStore interface {
	WritePackage(*npmdoc.MinimalPackageData) error
	DeletePackage(name string) error
	LastSyncSeq() (int64, error)
	UpdateLastSyncSeq(seq int64) error
}

// Worker runs the single long-lived replication task (C2). It is the only
// writer of the cursor key, and as one goroutine its own store writes never
// race with each other; package records are also written by the resolver's
// on-demand origin fills.
type Worker struct {
	store   PackageStore
	baseURL string
	log     *log.Logger
	metrics *metrics.Metrics
}

// NewWorker constructs a worker that will poll baseURL and persist changes
// into store.
func NewWorker(store PackageStore, baseURL string) *Worker {
	return &Worker{
		store:   store,
		baseURL: baseURL,
		log:     log.New(os.Stdout, "REPLICATION: ", log.Ldate|log.Ltime|log.Lshortfile),
	}
}

// SetMetrics attaches m so replication lag, page errors, and applied
// changes are recorded. Optional: a nil m leaves instrumentation off.
func (w *Worker) SetMetrics(m *metrics.Metrics) { w.metrics = m }

// Run drives the replication loop until ctx is cancelled. It never returns
// a non-nil error for transient feed failures — those are logged and
// retried after finishedDebounce, matching the original's "log and sleep"
// policy rather than propagating errors up to a supervisor.
func (w *Worker) Run(ctx context.Context) error {
	seq, err := w.store.LastSyncSeq()
	if err != nil {
		return err
	}
	w.log.Println("starting from sequence", seq)

	stream := NewChangesStream(w.baseURL, seq, nil)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		page, err := stream.FetchNext(ctx)
		if err != nil {
			w.log.Println("changes feed error:", err)
			if w.metrics != nil {
				w.metrics.ReplicationPageErrors.Inc()
			}
			if !w.waitOrDone(ctx, finishedDebounce) {
				return ctx.Err()
			}
			continue
		}

		for _, change := range page.Results {
			if err := w.applyChange(change); err != nil {
				w.log.Println("failed to apply change for", change.ID, ":", err)
				continue
			}
			if w.metrics != nil {
				kind := "write"
				if change.Deleted {
					kind = "delete"
				}
				w.metrics.ReplicationApplied.WithLabelValues(kind).Inc()
			}
		}

		if err := w.store.UpdateLastSyncSeq(page.LastSeq); err != nil {
			w.log.Println("failed to persist sync cursor:", err)
		} else if w.metrics != nil {
			w.metrics.ReplicationLastSeq.Set(float64(page.LastSeq))
		}

		if stream.ShouldWait(len(page.Results)) {
			if !w.waitOrDone(ctx, finishedDebounce) {
				return ctx.Err()
			}
		}
	}
}

func (w *Worker) applyChange(change Change) error {
	if change.Deleted {
		return w.store.DeletePackage(change.ID)
	}
	if change.Doc == nil {
		return nil
	}

	data, tombstoned := npmdoc.FromRegistryDocument(change.Doc)
	if tombstoned {
		return w.store.DeletePackage(change.ID)
	}
	return w.store.WritePackage(data)
}

func (w *Worker) waitOrDone(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
