package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// reloadDebounce склеивает серию событий от одного сохранения файла.
const reloadDebounce = 200 * time.Millisecond

// WatchRules следит за файлом правил и вызывает onChange с новыми правилами после
// каждого изменения. Правила, не прошедшие проверку, логируются, onChange не
// вызывается, и активными остаются прежние. Блокируется до отмены ctx.
func WatchRules(ctx context.Context, path string, log *logrus.Entry, onChange func(Rules)) error {
	if path == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: create watcher: %w", err)
	}
	defer watcher.Close()

	// редакторы часто заменяют файл через rename, поэтому следим за каталогом
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("config: resolve %s: %w", path, err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("config: watch %s: %w", filepath.Dir(abs), err)
	}

	log = log.WithFields(logrus.Fields{"component": "rules-watcher", "path": abs})
	log.Info("watching rules file")

	timer := time.NewTimer(reloadDebounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return errors.New("config: watcher closed")
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			log.WithField("op", event.Op.String()).Debug("rules file changed")
			timer.Reset(reloadDebounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("config: watcher closed")
			}
			log.WithError(err).Error("watcher error")
		case <-timer.C:
			rules, err := LoadRules(abs)
			if err != nil {
				rulesReloads.WithLabelValues("rejected").Inc()
				log.WithError(err).Warn("rules reload rejected, keeping active rules")
				continue
			}
			rulesReloads.WithLabelValues("applied").Inc()
			onChange(rules)
		}
	}
}
