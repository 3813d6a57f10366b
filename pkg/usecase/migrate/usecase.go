package migrate

import (
	"time"

	"github.com/m-mizutani/chatmig/pkg/backup"
	"github.com/m-mizutani/chatmig/pkg/content"
	"github.com/m-mizutani/chatmig/pkg/interfaces"
	"github.com/m-mizutani/chatmig/pkg/modelmap"
	"github.com/m-mizutani/chatmig/pkg/policy"
)

// DefaultWorkers is the size of the conversion pool
const DefaultWorkers = 4

// DefaultTag is attached to every migrated chat
const DefaultTag = "imported-chatgpt"

// UseCase migrates an export archive into a target store
type UseCase struct {
	store      interfaces.TargetStore
	normalizer *content.Normalizer
	models     *modelmap.Mapper
	policy     *policy.Policy
	backup     *backup.Manager
	journal    *backup.Journal
	tags       []string
	workers    int
	branches   bool
	progress   func(done, total int)
	now        func() time.Time
}

// Option is a functional option for UseCase
type Option func(*UseCase)

// WithNormalizer sets the content normalizer. The default resolves no assets.
func WithNormalizer(n *content.Normalizer) Option {
	return func(uc *UseCase) {
		uc.normalizer = n
	}
}

// WithModels sets the model mapper. The default is the embedded model map.
func WithModels(m *modelmap.Mapper) Option {
	return func(uc *UseCase) {
		uc.models = m
	}
}

// WithPolicy sets the conversation policy
func WithPolicy(p *policy.Policy) Option {
	return func(uc *UseCase) {
		uc.policy = p
	}
}

// WithBackup sets the snapshot retention manager
func WithBackup(m *backup.Manager) Option {
	return func(uc *UseCase) {
		uc.backup = m
	}
}

// WithJournal enables the interrupted-run marker
func WithJournal(j *backup.Journal) Option {
	return func(uc *UseCase) {
		uc.journal = j
	}
}

// WithTags replaces the tags attached to every chat
func WithTags(tags ...string) Option {
	return func(uc *UseCase) {
		uc.tags = tags
	}
}

// WithWorkers sets the size of the conversion pool
func WithWorkers(n int) Option {
	return func(uc *UseCase) {
		if n > 0 {
			uc.workers = n
		}
	}
}

// WithBranches keeps messages off the active path as history-only nodes
func WithBranches(enabled bool) Option {
	return func(uc *UseCase) {
		uc.branches = enabled
	}
}

// WithProgress sets a callback invoked after each converted conversation
func WithProgress(fn func(done, total int)) Option {
	return func(uc *UseCase) {
		uc.progress = fn
	}
}

// WithClock sets the clock stamped on conversations that carry no timestamp
func WithClock(now func() time.Time) Option {
	return func(uc *UseCase) {
		uc.now = now
	}
}

// New creates a new migrate UseCase instance
func New(store interfaces.TargetStore, opts ...Option) *UseCase {
	uc := &UseCase{
		store:   store,
		tags:    []string{DefaultTag},
		workers: DefaultWorkers,
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(uc)
	}

	return uc
}
