// Package indexer implements the incremental knowledge-indexing
// pipeline: a periodic scan → hash → diff → delete → chunk → embed →
// upsert → advance cycle over project documents and structured context
// entries.
//
// Change detection via stored content hashes is the dominant
// optimization: unchanged sources are skipped entirely, so a cycle
// costs O(changed), not O(corpus). Embedding batches run concurrently
// up to a fixed ceiling; all store writes go through the
// write-serialization queue, one transaction per source, with the hash
// update in the same transaction as the chunk/vector upsert.
package indexer

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"github.com/HendryAvila/wrangler/internal/config"
	"github.com/HendryAvila/wrangler/internal/provider"
	"github.com/HendryAvila/wrangler/internal/queue"
	"github.com/HendryAvila/wrangler/internal/store"
)

// Indexer drives the background indexing pipeline.
type Indexer struct {
	st          *store.Store
	q           *queue.Queue
	emb         provider.Embedder
	cfg         config.IndexConfig
	projectRoot string

	nudge chan struct{}

	mu     sync.Mutex
	status Status
}

// Status is a snapshot of pipeline state for observability.
type Status struct {
	Running        bool          `json:"running"`
	LastCycleAt    string        `json:"last_cycle_at,omitempty"`
	LastCycle      CycleStats    `json:"last_cycle"`
	NextInterval   time.Duration `json:"next_interval"`
	VectorReady    bool          `json:"vector_ready"`
	TotalChunks    int           `json:"total_chunks"`
	TotalVectors   int           `json:"total_vectors"`
	CyclesComplete uint64        `json:"cycles_complete"`
}

// CycleStats summarizes one indexing cycle.
type CycleStats struct {
	Scanned   int `json:"scanned"`
	Unchanged int `json:"unchanged"`
	Indexed   int `json:"indexed"`
	Removed   int `json:"removed"`
	Failed    int `json:"failed"`
	Chunks    int `json:"chunks"`
}

// New creates an indexer. It does not start the loop; call Run.
func New(st *store.Store, q *queue.Queue, emb provider.Embedder, cfg config.IndexConfig, projectRoot string) *Indexer {
	return &Indexer{
		st:          st,
		q:           q,
		emb:         emb,
		cfg:         cfg,
		projectRoot: projectRoot,
		nudge:       make(chan struct{}, 1),
	}
}

// Nudge asks the loop to run the next cycle sooner. Never blocks.
func (ix *Indexer) Nudge() {
	select {
	case ix.nudge <- struct{}{}:
	default:
	}
}

// Status returns a snapshot of pipeline state.
func (ix *Indexer) Status() Status {
	ix.mu.Lock()
	s := ix.status
	ix.mu.Unlock()

	s.VectorReady = ix.st.VectorReady()
	if chunks, vectors, err := ix.st.ChunkCounts(); err == nil {
		s.TotalChunks = chunks
		s.TotalVectors = vectors
	}
	return s
}

// Run executes indexing cycles until ctx is cancelled. The sleep
// between cycles adapts: it shortens while the pipeline is catching up
// on changes and stretches toward the ceiling when the corpus is quiet,
// bounded below by the configured floor to avoid busy-looping.
func (ix *Indexer) Run(ctx context.Context) {
	ix.mu.Lock()
	ix.status.Running = true
	ix.mu.Unlock()
	defer func() {
		ix.mu.Lock()
		ix.status.Running = false
		ix.mu.Unlock()
	}()

	watcher := ix.startWatcher()
	if watcher != nil {
		defer func() { _ = watcher.Close() }()
	}

	interval := ix.cfg.MinInterval
	for {
		stats, err := ix.RunCycle(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("WARNING: index cycle: %v", err)
		}

		// Catch-up heuristic: activity pulls the interval back to the
		// floor, quiet cycles stretch it toward the ceiling.
		if stats.Indexed > 0 || stats.Failed > 0 || stats.Removed > 0 {
			interval = ix.cfg.MinInterval
		} else {
			interval *= 2
			if interval > ix.cfg.MaxInterval {
				interval = ix.cfg.MaxInterval
			}
		}
		if interval < ix.cfg.MinInterval {
			interval = ix.cfg.MinInterval
		}

		ix.mu.Lock()
		ix.status.NextInterval = interval
		ix.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-ix.nudge:
			// A project change was observed; keep the floor between
			// cycles so a burst of saves doesn't busy-loop the scanner.
			select {
			case <-ctx.Done():
				return
			case <-time.After(ix.cfg.MinInterval):
			}
		case <-time.After(interval):
		}
	}
}

// ─── One cycle ───────────────────────────────────────────────────────────────

type pendingSource struct {
	sourceType string
	sourceRef  string
	content    string
	hash       string
}

// RunCycle performs a single scan/diff/embed/upsert pass.
func (ix *Indexer) RunCycle(ctx context.Context) (CycleStats, error) {
	var stats CycleStats

	changed, seen, err := ix.collectSources()
	if err != nil {
		return stats, err
	}
	stats.Scanned = len(seen[store.SourceDocument]) + len(seen[store.SourceContext])
	stats.Unchanged = stats.Scanned - len(changed)

	// Vanished sources lose their chunks, vectors, and hash.
	for _, sourceType := range []string{store.SourceDocument, store.SourceContext} {
		refs, err := ix.st.IndexedSourceRefs(sourceType)
		if err != nil {
			return stats, err
		}
		for _, ref := range refs {
			if seen[sourceType][ref] {
				continue
			}
			st, sr := sourceType, ref
			if err := ix.q.Do(ctx, func() error {
				return ix.st.WithTx(func(tx *sql.Tx) error {
					return ix.st.DeleteSource(tx, st, sr)
				})
			}); err != nil {
				return stats, err
			}
			stats.Removed++
		}
	}

	for _, src := range changed {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}

		var chunks []string
		if src.sourceType == store.SourceDocument {
			chunks = chunkDocument(src.content, ix.cfg.MaxChunkRunes, ix.cfg.OverlapLines)
		} else {
			chunks = chunkSliding(src.content, ix.cfg.MaxChunkRunes/2, ix.cfg.MaxChunkRunes/8)
		}

		vectors, err := ix.embedChunks(ctx, chunks)
		if err != nil {
			// Batch failure skips the source and leaves its stored
			// hash stale, guaranteeing a retry next cycle.
			log.Printf("WARNING: embedding %s/%s: %v", src.sourceType, src.sourceRef, err)
			stats.Failed++
			continue
		}

		src := src
		if err := ix.q.Do(ctx, func() error {
			return ix.st.WithTx(func(tx *sql.Tx) error {
				return ix.st.ReplaceSource(tx, src.sourceType, src.sourceRef, chunks, vectors, src.hash)
			})
		}); err != nil {
			log.Printf("WARNING: upsert %s/%s: %v", src.sourceType, src.sourceRef, err)
			stats.Failed++
			continue
		}
		stats.Indexed++
		stats.Chunks += len(chunks)
	}

	// Advance last-scan timestamps only for fully processed types.
	if stats.Failed == 0 {
		now := store.Now()
		if err := ix.q.Do(ctx, func() error {
			return ix.st.WithTx(func(tx *sql.Tx) error {
				for _, sourceType := range []string{store.SourceDocument, store.SourceContext} {
					if err := ix.st.MetaSet(tx, store.LastScanKey(sourceType), now); err != nil {
						return err
					}
				}
				return nil
			})
		}); err != nil {
			return stats, err
		}
	}

	ix.mu.Lock()
	ix.status.LastCycleAt = store.Now()
	ix.status.LastCycle = stats
	ix.status.CyclesComplete++
	ix.mu.Unlock()

	return stats, nil
}

// collectSources enumerates all eligible sources and returns those
// whose content digest differs from the stored hash, plus the set of
// refs seen per source type.
func (ix *Indexer) collectSources() ([]pendingSource, map[string]map[string]bool, error) {
	seen := map[string]map[string]bool{
		store.SourceDocument: {},
		store.SourceContext:  {},
	}
	var changed []pendingSource

	files, err := scanDocuments(ix.projectRoot, ix.cfg.MaxFileBytes)
	if err != nil {
		return nil, nil, err
	}
	for _, f := range files {
		content, hash, err := readAndHash(f.AbsPath)
		if err != nil {
			continue // file vanished mid-scan
		}
		seen[store.SourceDocument][f.Ref] = true

		stored, err := ix.st.SourceHash(store.SourceDocument, f.Ref)
		if err != nil {
			return nil, nil, err
		}
		if stored != hash {
			changed = append(changed, pendingSource{
				sourceType: store.SourceDocument,
				sourceRef:  f.Ref,
				content:    content,
				hash:       hash,
			})
		}
	}

	entries, err := ix.st.AllContextEntries()
	if err != nil {
		return nil, nil, err
	}
	for _, e := range entries {
		content := e.Key + "\n" + e.Value
		hash := hashContent(content)
		seen[store.SourceContext][e.Key] = true

		stored, err := ix.st.SourceHash(store.SourceContext, e.Key)
		if err != nil {
			return nil, nil, err
		}
		if stored != hash {
			changed = append(changed, pendingSource{
				sourceType: store.SourceContext,
				sourceRef:  e.Key,
				content:    content,
				hash:       hash,
			})
		}
	}

	return changed, seen, nil
}

// embedChunks generates a vector per chunk. Batches are issued by a
// fixed-size worker pool so outstanding network requests stay capped
// regardless of corpus size, with a short pause between submission
// groups to respect provider rate limits. One failed batch fails the
// whole source — partial vectors never reach the store.
func (ix *Indexer) embedChunks(ctx context.Context, chunks []string) ([][]float32, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.cfg.Concurrency)

	for start := 0; start < len(chunks); start += ix.cfg.BatchSize {
		end := start + ix.cfg.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		start, end := start, end

		g.Go(func() error {
			batch, err := ix.emb.Embed(gctx, chunks[start:end])
			if err != nil {
				return fmt.Errorf("batch [%d:%d]: %w", start, end, err)
			}
			for i, v := range batch {
				if len(v) == 0 {
					return fmt.Errorf("batch [%d:%d]: empty vector at %d", start, end, i)
				}
				vectors[start+i] = v
			}
			return nil
		})

		if (start/ix.cfg.BatchSize+1)%ix.cfg.Concurrency == 0 {
			select {
			case <-gctx.Done():
			case <-time.After(ix.cfg.GroupPause):
			}
		}
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

// ─── Project watcher ─────────────────────────────────────────────────────────

// startWatcher watches the project root and nudges the cycle loop when
// files change. Best-effort: failures log a warning and the periodic
// timer still drives the pipeline.
func (ix *Indexer) startWatcher() *fsnotify.Watcher {
	if !ix.cfg.WatchProject {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("WARNING: project watcher disabled: %v", err)
		return nil
	}
	if err := watcher.Add(ix.projectRoot); err != nil {
		log.Printf("WARNING: watch %s: %v", ix.projectRoot, err)
		_ = watcher.Close()
		return nil
	}

	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					ix.Nudge()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("WARNING: project watcher: %v", err)
			}
		}
	}()
	return watcher
}
