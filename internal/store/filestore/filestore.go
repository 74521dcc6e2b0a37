// Package filestore is a durable Store backed by compressed segment
// files on disk, grounded on the teacher's replay bundle writer: events
// stream through a snappy-compressed JSONL log, payloads stream through
// a zstd-compressed length-prefixed binary log, and control-plane state
// (members, watermarks, acknowledgements) lives in small JSON side files
// rewritten atomically on every change.
package filestore

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"

	"github.com/ledgerfabric/sequencer/internal/errs"
	"github.com/ledgerfabric/sequencer/internal/model"
	"github.com/ledgerfabric/sequencer/internal/store"
)

const (
	eventsFileName   = "events.jsonl.sz"
	payloadsFileName = "payloads.bin.zst"
	membersFileName  = "members.json"
	watermarksFile   = "watermarks.json"
	acksFileName     = "acks.json"
)

// eventRecord is the on-disk JSON shape of one event log line.
type eventRecord struct {
	Counter    uint64   `json:"counter"`
	Timestamp  string   `json:"timestamp"`
	Kind       int      `json:"kind"`
	MessageID  string   `json:"message_id"`
	Sender     string   `json:"sender"`
	Recipients []string `json:"recipients,omitempty"`
	PayloadRef uint64   `json:"payload_ref,omitempty"`
	Reason     string   `json:"reason,omitempty"`
}

// FileStore persists the sequencer's log to disk.
type FileStore struct {
	mu  sync.Mutex
	dir string

	eventFile   *os.File
	eventWriter *snappy.Writer

	payloadFile   *os.File
	payloadWriter *zstd.Encoder

	events   []model.Event
	payloads map[model.PayloadID]model.Payload

	members    map[model.Member]model.MemberID
	watermarks map[int]model.Watermark
	acked      map[model.MemberID]uint64

	closed bool
}

// Open rehydrates (or creates) a durable store rooted at dir.
func Open(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("filestore: dir must be provided")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	fs := &FileStore{
		dir:        dir,
		payloads:   make(map[model.PayloadID]model.Payload),
		members:    make(map[model.Member]model.MemberID),
		watermarks: make(map[int]model.Watermark),
		acked:      make(map[model.MemberID]uint64),
	}

	if err := fs.loadEvents(); err != nil {
		return nil, err
	}
	if err := fs.loadPayloads(); err != nil {
		return nil, err
	}
	if err := loadJSON(filepath.Join(dir, membersFileName), &fs.members); err != nil {
		return nil, err
	}
	if err := loadJSON(filepath.Join(dir, watermarksFile), &fs.watermarks); err != nil {
		return nil, err
	}
	if err := loadJSON(filepath.Join(dir, acksFileName), &fs.acked); err != nil {
		return nil, err
	}

	eventFile, err := os.OpenFile(filepath.Join(dir, eventsFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	payloadFile, err := os.OpenFile(filepath.Join(dir, payloadsFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		eventFile.Close()
		return nil, err
	}
	payloadWriter, err := zstd.NewWriter(payloadFile)
	if err != nil {
		eventFile.Close()
		payloadFile.Close()
		return nil, err
	}

	fs.eventFile = eventFile
	fs.eventWriter = snappy.NewBufferedWriter(eventFile)
	fs.payloadFile = payloadFile
	fs.payloadWriter = payloadWriter
	return fs, nil
}

func (fs *FileStore) loadEvents() error {
	path := filepath.Join(fs.dir, eventsFileName)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	reader := snappy.NewReader(f)
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var rec eventRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return fmt.Errorf("filestore: corrupt event record: %w", err)
		}
		ts, err := time.Parse(time.RFC3339Nano, rec.Timestamp)
		if err != nil {
			return fmt.Errorf("filestore: corrupt event timestamp: %w", err)
		}
		recipients := make([]model.Member, len(rec.Recipients))
		for i, r := range rec.Recipients {
			recipients[i] = model.Member(r)
		}
		fs.events = append(fs.events, model.Event{
			Counter:    rec.Counter,
			Timestamp:  ts,
			Kind:       model.EventKind(rec.Kind),
			MessageID:  rec.MessageID,
			Sender:     model.Member(rec.Sender),
			Recipients: recipients,
			PayloadRef: model.PayloadID(rec.PayloadRef),
			Reason:     rec.Reason,
		})
	}
	return scanner.Err()
}

func (fs *FileStore) loadPayloads() error {
	path := filepath.Join(fs.dir, payloadsFileName)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	reader, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer reader.Close()

	header := make([]byte, 16)
	for {
		if _, err := io.ReadFull(reader, header); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("filestore: truncated payload header: %w", err)
		}
		id := binary.LittleEndian.Uint64(header[0:8])
		size := binary.LittleEndian.Uint32(header[8:12])
		body := make([]byte, size)
		if _, err := io.ReadFull(reader, body); err != nil {
			return fmt.Errorf("filestore: truncated payload body: %w", err)
		}
		fs.payloads[model.PayloadID(id)] = model.Payload{ID: model.PayloadID(id), Bytes: body}
	}
}

// RegisterMember durably records a member identity, idempotently.
func (fs *FileStore) RegisterMember(_ context.Context, identity model.Member, id model.MemberID) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.closed {
		return store.ErrClosed
	}
	fs.members[identity] = id
	return saveJSON(filepath.Join(fs.dir, membersFileName), fs.members)
}

// SavePayloads appends payloads to the compressed payload log.
func (fs *FileStore) SavePayloads(_ context.Context, payloads []model.Payload) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.closed {
		return store.ErrClosed
	}
	for _, p := range payloads {
		header := make([]byte, 16)
		binary.LittleEndian.PutUint64(header[0:8], uint64(p.ID))
		binary.LittleEndian.PutUint32(header[8:12], uint32(len(p.Bytes)))
		if _, err := fs.payloadWriter.Write(header); err != nil {
			return err
		}
		if _, err := fs.payloadWriter.Write(p.Bytes); err != nil {
			return err
		}
		fs.payloads[p.ID] = p
	}
	return fs.payloadWriter.Flush()
}

// SaveEvents appends a contiguous batch of events to the compressed event log.
func (fs *FileStore) SaveEvents(_ context.Context, events []model.Event) error {
	if len(events) == 0 {
		return nil
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.closed {
		return store.ErrClosed
	}

	var expected uint64 = 0
	if len(fs.events) > 0 {
		expected = fs.events[len(fs.events)-1].Counter + 1
	}
	for i, e := range events {
		if e.Counter != expected+uint64(i) {
			return fmt.Errorf("filestore: %w: expected counter %d, got %d", errs.ErrCounterConflict, expected+uint64(i), e.Counter)
		}
	}

	for _, e := range events {
		recipients := make([]string, len(e.Recipients))
		for i, r := range e.Recipients {
			recipients[i] = string(r)
		}
		rec := eventRecord{
			Counter:    e.Counter,
			Timestamp:  e.Timestamp.UTC().Format(time.RFC3339Nano),
			Kind:       int(e.Kind),
			MessageID:  e.MessageID,
			Sender:     string(e.Sender),
			Recipients: recipients,
			PayloadRef: uint64(e.PayloadRef),
			Reason:     e.Reason,
		}
		line, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if _, err := fs.eventWriter.Write(line); err != nil {
			return err
		}
		if _, err := fs.eventWriter.Write([]byte("\n")); err != nil {
			return err
		}
	}
	if err := fs.eventWriter.Flush(); err != nil {
		return err
	}
	fs.events = append(fs.events, events...)
	return nil
}

// SaveWatermark durably records instance's current watermark.
func (fs *FileStore) SaveWatermark(_ context.Context, wm model.Watermark) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.closed {
		return store.ErrClosed
	}
	if prev, ok := fs.watermarks[wm.InstanceIndex]; ok && wm.Timestamp.Before(prev.Timestamp) {
		return fmt.Errorf("filestore: %w: instance %d regressed from %s to %s",
			errs.ErrWatermarkRegression, wm.InstanceIndex, prev.Timestamp, wm.Timestamp)
	}
	fs.watermarks[wm.InstanceIndex] = wm
	return saveJSON(filepath.Join(fs.dir, watermarksFile), fs.watermarks)
}

// FetchWatermark returns the last watermark saved for instanceIndex.
func (fs *FileStore) FetchWatermark(_ context.Context, instanceIndex int) (model.Watermark, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	wm, ok := fs.watermarks[instanceIndex]
	if !ok {
		return model.Watermark{}, store.ErrNotFound
	}
	return wm, nil
}

// ReadEvents returns events with counter >= from, in order, up to limit.
func (fs *FileStore) ReadEvents(_ context.Context, from uint64, limit int) ([]model.Event, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	start := 0
	for start < len(fs.events) && fs.events[start].Counter < from {
		start++
	}
	remaining := fs.events[start:]
	if limit > 0 && len(remaining) > limit {
		remaining = remaining[:limit]
	}
	out := make([]model.Event, len(remaining))
	copy(out, remaining)
	return out, nil
}

// Acknowledge durably records that member has processed every event through.
func (fs *FileStore) Acknowledge(_ context.Context, member model.MemberID, through uint64) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.closed {
		return store.ErrClosed
	}
	if prev, ok := fs.acked[member]; ok && through < prev {
		return nil
	}
	fs.acked[member] = through
	return saveJSON(filepath.Join(fs.dir, acksFileName), fs.acked)
}

// Close flushes and releases the store's file handles.
func (fs *FileStore) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.closed {
		return nil
	}
	fs.closed = true

	var firstErr error
	if err := fs.eventWriter.Flush(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := fs.eventWriter.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := fs.eventFile.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := fs.payloadWriter.Flush(); err != nil && firstErr == nil {
		firstErr = err
	}
	fs.payloadWriter.Close()
	if err := fs.payloadFile.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func saveJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func loadJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// Watermarks returns a snapshot of every instance's last saved watermark,
// for operator inspection.
func (fs *FileStore) Watermarks() map[int]model.Watermark {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	out := make(map[int]model.Watermark, len(fs.watermarks))
	for k, v := range fs.watermarks {
		out[k] = v
	}
	return out
}

// Members returns a snapshot of every registered member identity, for
// operator inspection.
func (fs *FileStore) Members() map[model.Member]model.MemberID {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	out := make(map[model.Member]model.MemberID, len(fs.members))
	for k, v := range fs.members {
		out[k] = v
	}
	return out
}

var _ store.Store = (*FileStore)(nil)
