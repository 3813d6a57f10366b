package repository

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/m-mizutani/chatmig/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

type chatRow struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Title     string          `json:"title"`
	CreatedAt int64           `json:"created_at"`
	UpdatedAt int64           `json:"updated_at"`
	Chat      json.RawMessage `json:"chat"`
	Meta      json.RawMessage `json:"meta"`
}

type tagRow struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	UserID string `json:"user_id"`
}

type memoryRow struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"created_at"`
}

// memoryState is the whole content of a Memory store. Its JSON encoding is the
// snapshot image, so map keys keep the encoding stable.
type memoryState struct {
	Users    []*model.User        `json:"users"`
	Chats    map[string]chatRow   `json:"chats"`
	Tags     map[string]tagRow    `json:"tags"`
	Memories map[string]memoryRow `json:"memories"`
}

// Memory is an in-process target store for dry runs and tests
type Memory struct {
	mu    sync.Mutex
	state memoryState
	now   func() time.Time
}

func NewMemory(users ...*model.User) *Memory {
	return &Memory{
		state: memoryState{
			Users:    users,
			Chats:    map[string]chatRow{},
			Tags:     map[string]tagRow{},
			Memories: map[string]memoryRow{},
		},
		now: time.Now,
	}
}

// Snapshot encodes the current state
func (m *Memory) Snapshot(ctx context.Context) (*model.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := json.Marshal(m.state)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to encode memory store")
	}
	return &model.Snapshot{
		ID:        model.NewSnapshotID(),
		Data:      data,
		Size:      int64(len(data)),
		Checksum:  checksum(data),
		CreatedAt: m.now(),
	}, nil
}

// Restore replaces the state with the snapshot image
func (m *Memory) Restore(ctx context.Context, snap *model.Snapshot) error {
	if snap == nil || snap.Data == nil {
		return goerr.New("snapshot has no data")
	}
	if sum := checksum(snap.Data); sum != snap.Checksum {
		return goerr.New("snapshot checksum mismatch", goerr.V("expected", snap.Checksum), goerr.V("actual", sum))
	}

	var state memoryState
	if err := json.Unmarshal(snap.Data, &state); err != nil {
		return goerr.Wrap(err, "failed to decode snapshot")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state
	return nil
}

func (m *Memory) UpsertChat(ctx context.Context, rec *model.ChatRecord) error {
	chat, meta, err := encodeChat(rec)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.Chats[rec.ID] = chatRow{
		ID:        rec.ID,
		UserID:    rec.UserID,
		Title:     rec.Title,
		CreatedAt: rec.CreatedAt.Unix(),
		UpdatedAt: rec.UpdatedAt.Unix(),
		Chat:      chat,
		Meta:      meta,
	}
	for _, tag := range rec.Tags {
		id := TagID(tag)
		if id == "" {
			continue
		}
		m.state.Tags[id+"/"+rec.UserID] = tagRow{ID: id, Name: tag, UserID: rec.UserID}
	}
	return nil
}

func (m *Memory) MemoryExists(ctx context.Context, userID, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, row := range m.state.Memories {
		if row.UserID == userID && model.MemoryKey(row.Content) == key {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) InsertMemory(ctx context.Context, userID string, entry model.MemoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := string(model.NewMemoryID(userID, entry.Key))
	if _, ok := m.state.Memories[id]; ok {
		return nil
	}
	m.state.Memories[id] = memoryRow{
		ID:        id,
		UserID:    userID,
		Content:   entry.Text,
		CreatedAt: m.now().Unix(),
	}
	return nil
}

func (m *Memory) ListUsers(ctx context.Context) ([]*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*model.User{}, m.state.Users...), nil
}

// Chat returns the stored chat document
func (m *Memory) Chat(id string) (*model.ChatDocument, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.state.Chats[id]
	if !ok {
		return nil, false
	}
	var doc model.ChatDocument
	if err := json.Unmarshal(row.Chat, &doc); err != nil {
		return nil, false
	}
	return &doc, true
}

// ChatCount returns the number of stored chats
func (m *Memory) ChatCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.state.Chats)
}

// Memories returns the memory contents of userID in sorted order
func (m *Memory) Memories(userID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var contents []string
	for _, row := range m.state.Memories {
		if row.UserID == userID {
			contents = append(contents, row.Content)
		}
	}
	sort.Strings(contents)
	return contents
}

// TagNames returns the tag names of userID in sorted order
func (m *Memory) TagNames(userID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var names []string
	for _, row := range m.state.Tags {
		if row.UserID == userID {
			names = append(names, row.Name)
		}
	}
	sort.Strings(names)
	return names
}

// Image returns the encoded state, which compares equal for equal contents
func (m *Memory) Image() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := json.Marshal(m.state)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to encode memory store")
	}
	return data, nil
}
