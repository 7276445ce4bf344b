package analysis

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
)

// DirResult summarizes an AnalyzeDir run.
type DirResult struct {
	Analyzed int
	Skipped  int
	Failed   int
}

// SidecarPath returns the JSON path written next to an audio file.
func SidecarPath(audioPath string) string {
	return strings.TrimSuffix(audioPath, filepath.Ext(audioPath)) + ".json"
}

// AnalyzeDir recursively analyzes all audio files in a directory.
// For each audio file, it creates a corresponding .json sidecar file.
// If force is true, existing JSON files are overwritten. Files that fail to
// decode or analyze are logged and counted; the walk continues.
func (a *Analyzer) AnalyzeDir(ctx context.Context, dir string, force bool) (DirResult, error) {
	var (
		res DirResult
		mu  sync.Mutex
		wg  sync.WaitGroup
	)
	paths := make(chan string)

	for range max(a.cfg.Workers, 1) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range paths {
				err := a.analyzeToSidecar(path)
				mu.Lock()
				if err != nil {
					res.Failed++
				} else {
					res.Analyzed++
				}
				mu.Unlock()
			}
		}()
	}

	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		ext := strings.ToLower(filepath.Ext(path))
		if !isSupportedAudio(ext) {
			return nil
		}

		if !force {
			if _, err := os.Stat(SidecarPath(path)); err == nil {
				a.log.Info("skipping, already analyzed", "file", filepath.Base(path))
				mu.Lock()
				res.Skipped++
				mu.Unlock()
				return nil
			}
		}

		select {
		case paths <- path:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	close(paths)
	wg.Wait()

	if walkErr != nil && !errors.Is(walkErr, context.Canceled) {
		return res, fmt.Errorf("walk %s: %w", dir, walkErr)
	}
	return res, walkErr
}

func (a *Analyzer) analyzeToSidecar(path string) error {
	log := a.log.With("file", filepath.Base(path))
	if info, err := os.Stat(path); err == nil {
		log.Info("analyzing", "size", humanize.Bytes(uint64(info.Size())))
	}

	ta, err := a.AnalyzeFile(path)
	if err != nil {
		log.Error("analysis failed", "err", err)
		return err
	}
	if err := ta.WriteJSON(SidecarPath(path)); err != nil {
		log.Error("write sidecar", "err", err)
		return err
	}

	res := ta.Analysis
	log.Info("analyzed",
		"duration", fmt.Sprintf("%.1fs", ta.Duration),
		"bpm", fmt.Sprintf("%.1f", res.BPM),
		"beats", len(res.Beats),
		"downbeats", len(res.Downbeats),
	)
	return nil
}
