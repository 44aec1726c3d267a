package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/sgalabs/agentflow/internal/log"
	"github.com/sgalabs/agentflow/internal/pubsub"
	"github.com/sgalabs/agentflow/internal/store"
	"github.com/sgalabs/agentflow/internal/workflow"
)

var flagWatchDir string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch a drop directory and import new files",
	Long: `Watch a directory and start an import run for every file dropped into
it. Writes are debounced so a file still being copied is picked up once,
after it settles. Files are imported one at a time, since the course episode
has a single live run at most; files with unsupported extensions are skipped.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&flagWatchDir, "dir", "", "directory to watch (defaults to watch.dir from config)")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	if err := requireUnitFlags(); err != nil {
		return err
	}
	dir := flagWatchDir
	if dir == "" {
		dir = cfg.Watch.Dir
	}
	if dir == "" {
		return fmt.Errorf("no watch directory; pass --dir or set watch.dir in config")
	}
	debounce := cfg.Watch.Debounce
	if debounce <= 0 {
		debounce = 2 * time.Second
	}

	kind, ok := workflow.KindByID("import")
	if !ok {
		return fmt.Errorf("import kind is not registered")
	}

	opened := store.Open(cfg.Store.DBPath)
	defer func() { _ = opened.Close() }()
	if opened.InMemory {
		fmt.Println("warning: persistent store unavailable; interrupted imports will not survive a restart")
	}

	// One controller for the unit: all dropped files go through it, so a
	// later file supersedes nothing mid-flight and snapshots never race.
	unit := workflow.UnitKey{Kind: kind.ID, Course: flagCourse, Episode: flagEpisode}
	bus := pubsub.NewBroker[workflow.PhaseEvent]()
	ctrl, err := workflow.NewController(workflow.Config{
		Kind:            kind,
		Unit:            unit,
		Invoker:         newAgentCoreClient(),
		Repo:            opened.Repo,
		Backoff:         workflow.Backoff(cfg.Workflow.Backoff),
		Ceiling:         cfg.Workflow.Ceiling,
		HistoryCapacity: cfg.Workflow.HistoryCapacity,
		Bus:             bus,
	})
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	queue := make(chan string, 32)
	workerDone := startImportWorker(ctx, ctrl, queue)

	fmt.Printf("Watching %s for files to import (Ctrl+C to stop)...\n", dir)
	log.Info(log.CatWatch, "watch started", "dir", dir, "debounce", debounce)

	// One timer per path collapses the burst of writes a copy produces
	// into a single import once the file settles.
	var (
		mu      sync.Mutex
		pending = make(map[string]*time.Timer)
	)
	defer func() {
		mu.Lock()
		for _, t := range pending {
			t.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			<-workerDone
			fmt.Println("\nStopped watching.")
			return nil
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.ErrorErr(log.CatWatch, "watcher error", err)
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			path := ev.Name
			mu.Lock()
			if t, exists := pending[path]; exists {
				t.Reset(debounce)
				mu.Unlock()
				continue
			}
			pending[path] = time.AfterFunc(debounce, func() {
				mu.Lock()
				delete(pending, path)
				mu.Unlock()
				select {
				case queue <- path:
				default:
					fmt.Printf("Skipped %s: too many files queued\n", filepath.Base(path))
				}
			})
			mu.Unlock()
		}
	}
}

// startImportWorker drains settled file paths through the shared controller,
// one import at a time. The returned channel closes when the worker exits.
func startImportWorker(ctx context.Context, ctrl *workflow.Controller, queue <-chan string) <-chan struct{} {
	done := make(chan struct{})
	log.SafeGo("watch-imports", func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case path, ok := <-queue:
				if !ok {
					return
				}
				runImport(ctx, ctrl, path)
			}
		}
	})
	return done
}

// runImport runs one import for a settled file and reports the outcome.
func runImport(ctx context.Context, ctrl *workflow.Controller, path string) {
	name := filepath.Base(path)
	fmt.Printf("Importing %s...\n", name)
	if err := ctrl.Start(ctx, path); err != nil {
		st := ctrl.State()
		if st.Phase == workflow.PhaseInvalid {
			fmt.Printf("Skipped %s: %s\n", name, st.ErrMsg)
			return
		}
		fmt.Printf("Import of %s did not start: %v\n", name, err)
		return
	}
	if st := ctrl.State(); st.Phase.Terminal() {
		printFinal(st)
		return
	}
	if _, err := ctrl.Wait(ctx); err != nil {
		return
	}
	printFinal(ctrl.State())
}
