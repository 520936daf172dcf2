package internal

import (
	"encoding/json"
	"sync"
	"time"
)

// upload accumulates the chunks of one in-progress transfer. Slots are fixed
// at file_start; a nil slot has not been received yet.
type upload struct {
	id           string
	owner        string
	room         string
	fileName     string
	declaredSize int64
	chunks       [][]byte
	received     int
	totalBytes   int64
	cryptoMeta   json.RawMessage
	lastActivity time.Time
}

// CompletedUpload is the reassembled result handed back once every chunk of an
// upload has arrived and the assembled length matches the declared size.
type CompletedUpload struct {
	ID         string
	Owner      string
	Room       string
	FileName   string
	Data       []byte
	CryptoMeta json.RawMessage
}

// UploadTable tracks every in-progress upload. Chunks may arrive out of order
// and duplicates simply overwrite their slot; the received count only moves
// when an empty slot fills, so it never exceeds the declared total.
type UploadTable struct {
	mu          sync.Mutex
	uploads     map[string]*upload
	maxFileSize int64
	maxChunks   int
}

func NewUploadTable(maxFileSize int64, maxChunks int) *UploadTable {
	return &UploadTable{
		uploads:     make(map[string]*upload),
		maxFileSize: maxFileSize,
		maxChunks:   maxChunks,
	}
}

// Start registers a new upload. Restarting an existing id discards the earlier
// chunks and begins over.
func (t *UploadTable) Start(id, owner, room, fileName string, size int64, totalChunks int, meta json.RawMessage) *ProtocolError {
	if id == "" || fileName == "" || size <= 0 || totalChunks <= 0 {
		return errBadEnvelope
	}
	if size > t.maxFileSize || totalChunks > t.maxChunks {
		return errBadEnvelope
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.uploads[id] = &upload{
		id:           id,
		owner:        owner,
		room:         room,
		fileName:     fileName,
		declaredSize: size,
		chunks:       make([][]byte, totalChunks),
		cryptoMeta:   meta,
		lastActivity: time.Now(),
	}
	return nil
}

// AddChunk writes data into the indexed slot. When the last outstanding slot
// fills, the chunks are concatenated in index order, the state is deleted, and
// the assembled blob is returned after the length check. An upload whose
// accumulated bytes exceed the declared size is discarded immediately, so a
// small declared size cannot buffer a large transfer.
func (t *UploadTable) AddChunk(id string, index int, data []byte) (*CompletedUpload, *ProtocolError) {
	t.mu.Lock()
	defer t.mu.Unlock()
	u, ok := t.uploads[id]
	if !ok {
		return nil, errInvalidUploadID
	}
	if index < 0 || index >= len(u.chunks) {
		return nil, errBadEnvelope
	}
	if u.chunks[index] == nil {
		u.received++
	}
	u.totalBytes += int64(len(data)) - int64(len(u.chunks[index]))
	u.chunks[index] = data
	u.lastActivity = time.Now()
	if u.totalBytes > u.declaredSize {
		delete(t.uploads, id)
		return nil, errSizeMismatch
	}
	if u.received < len(u.chunks) {
		return nil, nil
	}

	// complete: the upload state is gone whether assembly passes or not
	delete(t.uploads, id)
	if u.totalBytes != u.declaredSize {
		return nil, errSizeMismatch
	}
	assembled := make([]byte, 0, int(u.totalBytes))
	for _, chunk := range u.chunks {
		assembled = append(assembled, chunk...)
	}
	return &CompletedUpload{
		ID:         u.id,
		Owner:      u.owner,
		Room:       u.room,
		FileName:   u.fileName,
		Data:       assembled,
		CryptoMeta: u.cryptoMeta,
	}, nil
}

// DropOwner discards every upload owned by identity. Called on disconnect so
// upload state never outlives its session.
func (t *UploadTable) DropOwner(identity string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, u := range t.uploads {
		if u.owner == identity {
			delete(t.uploads, id)
		}
	}
}

// Evict discards uploads with no chunk activity for longer than ttl.
func (t *UploadTable) Evict(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)
	t.mu.Lock()
	defer t.mu.Unlock()
	evicted := 0
	for id, u := range t.uploads {
		if u.lastActivity.Before(cutoff) {
			delete(t.uploads, id)
			evicted++
		}
	}
	return evicted
}

// Pending reports how many uploads are currently in progress.
func (t *UploadTable) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.uploads)
}
