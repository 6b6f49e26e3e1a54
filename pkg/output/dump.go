package output

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jdeisenh/abrplay/pkg/demux"
	"github.com/jdeisenh/abrplay/pkg/playlist"
	"github.com/rs/zerolog"
)

// The format of the meta.json we store with the data
const StorageMetaFileName = "meta.json"

type StorageMeta struct {
	ManifestUrl string    // Original manifest URL
	Session     string    // Playback session
	Started     time.Time // Start of the dump
}

// Dump writes the sample payload of every stream into its own file in
// dir and passes the samples on to next
type Dump struct {
	dir    string
	next   demux.Sink
	logger zerolog.Logger

	mu    sync.Mutex
	files map[playlist.ID]*os.File
	err   error
}

// NewDump creates dir and stores the metadata. next may be nil.
func NewDump(dir string, meta StorageMeta, next demux.Sink, logger zerolog.Logger) (*Dump, error) {
	if err := os.MkdirAll(dir, 0o777); err != nil {
		return nil, fmt.Errorf("creating dump directory: %w", err)
	}
	metaJson, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(dir, StorageMetaFileName), metaJson, 0o666); err != nil {
		return nil, err
	}
	return &Dump{
		dir:    dir,
		next:   next,
		logger: logger,
		files:  make(map[playlist.ID]*os.File),
	}, nil
}

// Path is the file receiving the samples of stream id
func (d *Dump) Path(id playlist.ID) string {
	name := strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(string(id))
	return filepath.Join(d.dir, name+".es")
}

func (d *Dump) Send(id playlist.ID, s demux.Sample) {
	d.mu.Lock()
	d.write(id, s.Data)
	d.mu.Unlock()
	if d.next != nil {
		d.next.Send(id, s)
	}
}

func (d *Dump) write(id playlist.ID, data []byte) {
	f, ok := d.files[id]
	if !ok {
		var err error
		f, err = os.Create(d.Path(id))
		if err != nil {
			d.logger.Error().Err(err).Str("stream", string(id)).Msg("Create dump file")
			d.err = errors.Join(d.err, err)
			d.files[id] = nil
			return
		}
		d.files[id] = f
	}
	if f == nil {
		return
	}
	if _, err := f.Write(data); err != nil {
		d.logger.Error().Err(err).Str("path", f.Name()).Msg("Write sample data")
		d.err = errors.Join(d.err, err)
	}
}

func (d *Dump) SetPCR(t time.Duration) {
	if d.next != nil {
		d.next.SetPCR(t)
	}
}

func (d *Dump) ResetPCR() {
	if d.next != nil {
		d.next.ResetPCR()
	}
}

// Selected passes the selection of next through
func (d *Dump) Selected(id playlist.ID) bool {
	if sel, ok := d.next.(demux.Selector); ok {
		return sel.Selected(id)
	}
	return true
}

// Close closes all files and reports the first write errors
func (d *Dump) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	err := d.err
	for id, f := range d.files {
		if f == nil {
			continue
		}
		err = errors.Join(err, f.Close())
		delete(d.files, id)
	}
	return err
}
