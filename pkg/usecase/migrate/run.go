package migrate

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/m-mizutani/chatmig/pkg/content"
	"github.com/m-mizutani/chatmig/pkg/convert"
	"github.com/m-mizutani/chatmig/pkg/export"
	"github.com/m-mizutani/chatmig/pkg/memory"
	"github.com/m-mizutani/chatmig/pkg/model"
	"github.com/m-mizutani/chatmig/pkg/modelmap"
	"github.com/m-mizutani/chatmig/pkg/policy"
	"github.com/m-mizutani/chatmig/pkg/tree"
	"github.com/m-mizutani/chatmig/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/sync/errgroup"
)

// Input names the sources of a run
type Input struct {
	ExportPath string
	// MemoryPath is optional; a missing file means no memories
	MemoryPath string
	UserID     string
	DryRun     bool
}

// Run migrates the export into the store. The returned report is never nil;
// the error is the fatal error of the run, also recorded in the report.
func (u *UseCase) Run(ctx context.Context, input Input) (*Report, error) {
	report := &Report{DryRun: input.DryRun}
	if err := u.run(ctx, input, report); err != nil {
		report.Fatal = err
		return report, err
	}
	return report, nil
}

func (u *UseCase) run(ctx context.Context, input Input, report *Report) error {
	logger := logging.From(ctx)

	if input.UserID == "" {
		return goerr.New("target user is required")
	}
	if err := u.prepare(); err != nil {
		return err
	}

	if !input.DryRun {
		recovered, err := u.Recover(ctx)
		if err != nil {
			return err
		}
		report.Recovered = recovered
	}

	parsed, err := export.Load(input.ExportPath)
	if err != nil {
		return err
	}
	report.Conversations = len(parsed.Conversations) + len(parsed.Failures)
	for _, failure := range parsed.Failures {
		report.Skipped = append(report.Skipped, Skip{
			Index:          failure.Index,
			File:           failure.File,
			ConversationID: failure.ConversationID,
			Reason:         failure.Reason,
		})
		logger.Warn("conversation skipped", "error", failure)
	}
	logger.Info("export parsed",
		"conversations", len(parsed.Conversations),
		"failures", len(parsed.Failures),
		"assets", u.normalizer.AssetCount(),
	)

	records, err := u.convertAll(ctx, input.UserID, parsed.Conversations, report)
	if err != nil {
		return err
	}

	memories, err := u.loadMemories(ctx, input, report)
	if err != nil {
		return err
	}

	if input.DryRun {
		report.Migrated = len(records)
		report.MemoriesInserted = len(memories)
		logger.Info("dry run, store left untouched", "chats", len(records), "memories", len(memories))
		return nil
	}

	result, err := u.write(ctx, input.UserID, records, memories)
	report.Snapshot = result.snapshot
	report.Restored = result.restored
	if err != nil {
		return err
	}
	report.Migrated = result.chats
	report.MemoriesInserted = result.memories

	logger.Info("migration committed", "chats", result.chats, "memories", result.memories)
	return nil
}

func (u *UseCase) prepare() error {
	if u.normalizer == nil {
		n, err := content.New("")
		if err != nil {
			return err
		}
		u.normalizer = n
	}
	if u.models == nil {
		m, err := modelmap.Default()
		if err != nil {
			return err
		}
		u.models = m
	}
	return nil
}

// convertAll resolves, normalizes and builds conversations on a bounded pool
func (u *UseCase) convertAll(ctx context.Context, userID string, convs []*model.Conversation, report *Report) ([]*model.ChatRecord, error) {
	runTime := u.now()
	builder := convert.NewBuilder(userID, u.models,
		convert.WithTags(u.tags...),
		convert.WithClock(func() time.Time { return runTime }),
	)
	acc := &accumulator{}
	var done atomic.Int64

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(u.workers)
	for i, conv := range convs {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			o, err := u.convert(ctx, builder, conv)
			if err != nil {
				return err
			}
			o.index = i
			acc.add(o)

			n := done.Add(1)
			if u.progress != nil {
				u.progress(int(n), len(convs))
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, goerr.Wrap(err, "failed to convert conversations")
	}

	return acc.merge(report), nil
}

func (u *UseCase) convert(ctx context.Context, builder *convert.Builder, conv *model.Conversation) (*outcome, error) {
	logger := logging.From(ctx).With("conversation_id", conv.ID)

	var opts []tree.Option
	if u.branches {
		opts = append(opts, tree.WithBranches())
	}
	path, err := tree.Resolve(conv, opts...)
	if err != nil {
		var treeErr *model.TreeIntegrityError
		if !errors.As(err, &treeErr) {
			return nil, err
		}
		logger.Warn("conversation skipped", "error", treeErr)
		return &outcome{skip: &Skip{
			Index:          conv.Index,
			ConversationID: conv.ID,
			Title:          conv.Title,
			Reason:         treeErr.Error(),
		}}, nil
	}

	decision, err := u.policy.Evaluate(ctx, policyInput(conv, path))
	if err != nil {
		return nil, err
	}
	if decision.Skip {
		logger.Debug("conversation filtered", "reason", decision.Reason)
		return &outcome{filtered: &Skip{
			Index:          conv.Index,
			ConversationID: conv.ID,
			Title:          conv.Title,
			Reason:         decision.Reason,
		}}, nil
	}

	o := &outcome{}
	normalized := make(map[string]*content.Result, len(path.Nodes)+len(path.Branches))
	for _, nodes := range [][]*model.Node{path.Nodes, path.Branches} {
		for _, node := range nodes {
			if node.Message == nil {
				continue
			}
			result := u.normalizer.Normalize(conv.ID, node.Message)
			normalized[node.Message.ID] = result
			o.notices = append(o.notices, result.Notices...)
		}
	}

	o.record = builder.Build(conv, path, normalized, decision.Tags...)
	logger.Debug("conversation converted", "messages", len(o.record.Chat.Messages))
	return o, nil
}

func policyInput(conv *model.Conversation, path *tree.Path) *policy.Input {
	input := &policy.Input{
		ID:           conv.ID,
		Title:        conv.Title,
		CreateTime:   conv.CreateTime,
		UpdateTime:   conv.UpdateTime,
		DefaultModel: conv.DefaultModel,
		MessageCount: path.Len(),
		Roles:        []string{},
	}
	seen := map[model.Role]bool{}
	for _, msg := range path.Messages {
		if msg == nil || seen[msg.Role] {
			continue
		}
		seen[msg.Role] = true
		input.Roles = append(input.Roles, string(msg.Role))
	}
	return input
}

func (u *UseCase) loadMemories(ctx context.Context, input Input, report *Report) ([]model.MemoryEntry, error) {
	if input.MemoryPath == "" {
		return nil, nil
	}

	parsed, err := memory.Load(input.MemoryPath)
	if err != nil {
		return nil, err
	}
	report.MemoriesDuplicate = len(parsed.Notices)
	report.Notices = append(report.Notices, parsed.Notices...)

	fresh, err := memory.NetNew(ctx, u.store, input.UserID, parsed.Entries)
	if err != nil {
		return nil, err
	}
	report.MemoriesExisting = len(fresh.Notices)
	report.Notices = append(report.Notices, fresh.Notices...)

	logging.From(ctx).Info("memory log parsed",
		"entries", len(parsed.Entries),
		"duplicates", len(parsed.Notices),
		"existing", len(fresh.Notices),
	)
	return fresh.Entries, nil
}
