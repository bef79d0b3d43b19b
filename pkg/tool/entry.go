package tool

import (
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	bqerrors "github.com/odvcencio/batchq/pkg/errors"
	"github.com/odvcencio/batchq/pkg/jobqueue"
)

// Entry is one interaction entry: a single tool invocation.
type Entry struct {
	ID      string            `yaml:"id,omitempty" json:"id,omitempty"`
	Tool    string            `yaml:"tool" json:"tool"`
	Command string            `yaml:"command,omitempty" json:"command,omitempty"`
	Path    string            `yaml:"path,omitempty" json:"path,omitempty"`
	Content string            `yaml:"content,omitempty" json:"content,omitempty"`
	Args    map[string]string `yaml:"args,omitempty" json:"args,omitempty"`
}

// Timeout reads the optional "timeout" argument.
func (e Entry) Timeout() (time.Duration, error) {
	raw := strings.TrimSpace(e.Args["timeout"])
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q: %w", raw, err)
	}
	return d, nil
}

// Batch is a file of entries. Either a list or a mapping is used; a mapping
// keeps the order in which its keys appear in the document.
type Batch struct {
	Entries []Entry
	Keys    []string
	Jobs    map[string]Entry
}

type batchFile struct {
	Entries []Entry   `yaml:"entries"`
	Jobs    yaml.Node `yaml:"jobs"`
}

// LoadBatch decodes a YAML (or JSON) batch document.
func LoadBatch(r io.Reader) (*Batch, error) {
	var file batchFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		if err == io.EOF {
			return &Batch{}, nil
		}
		return nil, bqerrors.Wrap(err, bqerrors.ErrCodeInvalidInput, "failed to parse batch")
	}

	batch := &Batch{Entries: file.Entries}
	if file.Jobs.Kind == 0 {
		return batch, nil
	}
	if file.Jobs.Kind != yaml.MappingNode {
		return nil, bqerrors.New(bqerrors.ErrCodeInvalidInput, "batch jobs must be a mapping")
	}
	if len(batch.Entries) > 0 {
		return nil, bqerrors.New(bqerrors.ErrCodeInvalidInput, "batch cannot have both entries and jobs")
	}

	batch.Jobs = make(map[string]Entry, len(file.Jobs.Content)/2)
	for i := 0; i+1 < len(file.Jobs.Content); i += 2 {
		key := file.Jobs.Content[i].Value
		var entry Entry
		if err := file.Jobs.Content[i+1].Decode(&entry); err != nil {
			return nil, bqerrors.Wrap(err, bqerrors.ErrCodeInvalidInput, "failed to parse job").
				WithContext("key", key)
		}
		if _, dup := batch.Jobs[key]; dup {
			return nil, bqerrors.New(bqerrors.ErrCodeInvalidInput, "duplicate job key").WithContext("key", key)
		}
		batch.Keys = append(batch.Keys, key)
		batch.Jobs[key] = entry
	}
	return batch, nil
}

// Source adapts the batch for the queue.
func (b *Batch) Source() jobqueue.Source {
	if b.Jobs != nil {
		return jobqueue.FromKeyed(b.Keys, b.Jobs)
	}
	return jobqueue.FromSlice(b.Entries)
}

// Len is the number of entries in the batch.
func (b *Batch) Len() int {
	if b.Jobs != nil {
		return len(b.Keys)
	}
	return len(b.Entries)
}

// asEntry accepts the item shapes the queue may hand a tool processor.
func asEntry(item any) (Entry, error) {
	switch v := item.(type) {
	case Entry:
		return v, nil
	case *Entry:
		if v != nil {
			return *v, nil
		}
	}
	return Entry{}, bqerrors.Newf(bqerrors.ErrCodeInvalidInput, "expected tool entry, got %T", item)
}
