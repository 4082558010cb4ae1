package state

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/goccy/go-yaml"
	"go.uber.org/zap"
)

type History struct {
	log     *zap.Logger
	storage billy.Filesystem
}

// Get returns the record for the task, if there is one.
func (h *History) Get(task string) (Record, bool, error) {
	log := h.log.With(zap.String("task-record", filepath.Join(h.storage.Root(), recordFile(task))))

	f, err := h.storage.Open(recordFile(task))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Debug("No record for task.")
			return Record{}, false, nil
		}
		log.Error("Unable to open task record.", zap.Error(err))
		return Record{}, false, err
	}
	defer func() { _ = f.Close() }()

	content, err := io.ReadAll(f)
	if err != nil {
		log.Error("Unable to read task record.", zap.Error(err))
		return Record{}, false, err
	}

	var r Record
	if err = yaml.Unmarshal(content, &r); err != nil {
		log.Error("Unable to unmarshal task record.", zap.Error(err))
		return Record{}, false, fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}
	if r.Task != task {
		// Two task names mapped onto the same file.
		log.Debug("Record belongs to another task.", zap.String("recorded-task", r.Task))
		return Record{}, false, nil
	}
	return r, true, nil
}

// Put replaces the record for the task.
func (h *History) Put(task string, r Record) error {
	name := recordFile(task)
	log := h.log.With(zap.String("task-record", filepath.Join(h.storage.Root(), name)))

	r.Task = task
	content, err := yaml.Marshal(&r)
	if err != nil {
		log.Error("Failed to marshal task record.", zap.Error(err))
		return err
	}

	tmp, err := util.TempFile(h.storage, ".", name+".new-")
	if err != nil {
		log.Error("Unable to create temporary task record.", zap.Error(err))
		return err
	}
	if _, err = tmp.Write(content); err != nil {
		_ = tmp.Close()
		_ = h.storage.Remove(tmp.Name())
		log.Error("Failed to write task record.", zap.Error(err))
		return err
	}
	if err = tmp.Close(); err != nil {
		_ = h.storage.Remove(tmp.Name())
		return err
	}

	if err = h.storage.Rename(tmp.Name(), name); err != nil {
		_ = h.storage.Remove(tmp.Name())
		log.Error("Unable to move temporary task record to its permanent position.", zap.Error(err))
		return err
	}
	log.Debug("Recorded task execution.", zap.String("fingerprint", r.Fingerprint))
	return nil
}

// Forget removes the record for the task. Forgetting an unknown task is not an error.
func (h *History) Forget(task string) error {
	if err := h.storage.Remove(recordFile(task)); err != nil && !errors.Is(err, os.ErrNotExist) {
		h.log.Error("Failed to remove task record.", zap.String("task", task), zap.Error(err))
		return err
	}
	return nil
}

// Tasks lists the names of all tasks with a record.
func (h *History) Tasks() ([]string, error) {
	infos, err := h.storage.ReadDir("/")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		h.log.Error("Unable to read the content of the history folder.", zap.Error(err))
		return nil, err
	}

	var tasks []string
	for _, info := range infos {
		if info.IsDir() || !strings.HasSuffix(info.Name(), recordExtension) {
			continue
		}
		f, err := h.storage.Open(info.Name())
		if err != nil {
			return nil, err
		}
		content, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			return nil, err
		}
		var r Record
		if err = yaml.Unmarshal(content, &r); err != nil || r.Task == "" {
			h.log.Warn("Skipping unreadable task record.", zap.String("file", info.Name()))
			continue
		}
		tasks = append(tasks, r.Task)
	}
	sort.Strings(tasks)
	return tasks, nil
}

// Clear forgets every task.
func (h *History) Clear() error {
	tasks, err := h.Tasks()
	if err != nil {
		return err
	}
	for _, t := range tasks {
		if err = h.Forget(t); err != nil {
			return err
		}
	}
	return nil
}
