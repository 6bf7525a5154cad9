package harness

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// TemplateWatcher reloads a PromptComposer when its template file changes on disk.
type TemplateWatcher struct {
	path     string
	composer *PromptComposer
	watcher  *fsnotify.Watcher
	logger   zerolog.Logger
	onReload func(err error) // test hook
}

// NewTemplateWatcher watches the directory holding path, so files replaced by rename
// (as most editors save) are still picked up.
func NewTemplateWatcher(path string, composer *PromptComposer, logger zerolog.Logger) (*TemplateWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve template path: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	return &TemplateWatcher{
		path:     abs,
		composer: composer,
		watcher:  w,
		logger:   logger.With().Str("component", "template_watcher").Str("path", abs).Logger(),
	}, nil
}

// Run processes file events until ctx is done, then closes the watcher.
func (tw *TemplateWatcher) Run(ctx context.Context) error {
	defer tw.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-tw.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != tw.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			tw.reload()
		case err, ok := <-tw.watcher.Errors:
			if !ok {
				return nil
			}
			tw.logger.Warn().Err(err).Msg("Template watcher error")
		}
	}
}

func (tw *TemplateWatcher) reload() {
	template, err := LoadTemplateFile(tw.path)
	if err == nil {
		err = tw.composer.SetTemplate(template)
	}

	if err != nil {
		tw.logger.Warn().Err(err).Msg("Template reload rejected, keeping previous template")
	} else {
		tw.logger.Info().Msg("Template reloaded")
	}

	if tw.onReload != nil {
		tw.onReload(err)
	}
}
