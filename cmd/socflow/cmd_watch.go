package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"socflow/internal/alert"
	"socflow/internal/logging"
	"socflow/internal/pipeline"
)

var watchConcurrency int

var watchCmd = &cobra.Command{
	Use:   "watch <directory>",
	Short: "Watch a directory and investigate alert files as they arrive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := args[0]
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("cannot watch %s: %w", dir, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("%s is not a directory", dir)
		}

		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		runner := buildRunner(s)
		ctx := cmdContext()

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(watchConcurrency)

		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("failed to create watcher: %w", err)
		}
		defer watcher.Close()
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}

		// Backlog first: anything already in the directory gets investigated.
		entries, err := os.ReadDir(dir)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if entry.IsDir() || !isAlertFile(entry.Name()) {
				continue
			}
			submitAlert(g, gctx, runner, filepath.Join(dir, entry.Name()))
		}

		fmt.Printf("Watching %s (concurrency %d), ctrl+c to stop\n", dir, watchConcurrency)
		logging.Intake("watching %s", dir)

		for {
			select {
			case <-ctx.Done():
				g.Wait()
				return nil
			case ev, ok := <-watcher.Events:
				if !ok {
					g.Wait()
					return nil
				}
				if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				if !isAlertFile(ev.Name) {
					continue
				}
				submitAlert(g, gctx, runner, ev.Name)
			case err, ok := <-watcher.Errors:
				if !ok {
					g.Wait()
					return nil
				}
				logging.IntakeDebug("watcher error: %v", err)
			}
		}
	},
}

func init() {
	watchCmd.Flags().IntVar(&watchConcurrency, "concurrency", 2, "maximum concurrent investigations")
}

func isAlertFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}

// submitAlert schedules one investigation, blocking when the concurrency
// limit is reached so intake backpressures instead of piling up goroutines.
func submitAlert(g *errgroup.Group, ctx context.Context, runner *pipeline.Runner, path string) {
	g.Go(func() error {
		// Writers may still be flushing the file when the create event fires.
		time.Sleep(200 * time.Millisecond)

		a, err := alert.LoadFile(path)
		if err != nil {
			fmt.Printf("  skipped %s: %v\n", filepath.Base(path), err)
			return nil
		}

		final, err := runner.Investigate(ctx, *a)
		if err != nil {
			fmt.Printf("  %s failed: %v\n", filepath.Base(path), err)
			return nil
		}

		line := fmt.Sprintf("  %s: score %.2f %s", filepath.Base(path), final.ThreatScore, final.Severity())
		if final.CampaignInfo != nil {
			line += " campaign " + final.CampaignInfo.CampaignID
		}
		fmt.Println(line)
		return nil
	})
}
