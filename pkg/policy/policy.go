package policy

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/m-mizutani/chatmig/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/topdown/print"
)

const query = "data.migrate"

// printHook forwards Rego print() statements to the logger
type printHook struct {
	logger *slog.Logger
}

func (h *printHook) Print(_ print.Context, message string) error {
	h.logger.Debug("[rego] " + message)
	return nil
}

// Policy decides per conversation whether it is migrated and which tags it gets
type Policy struct {
	query *rego.PreparedEvalQuery
	files []string
}

// New loads all Rego files from dir. It returns nil when dir is empty or holds
// no policy files; a nil *Policy accepts every conversation.
func New(ctx context.Context, dir string) (*Policy, error) {
	if dir == "" {
		return nil, nil
	}

	if _, err := os.Stat(dir); err != nil {
		return nil, goerr.Wrap(err, "policy directory is not accessible", goerr.V("dir", dir))
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.rego"))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to glob policy files")
	}
	if len(files) == 0 {
		return nil, nil
	}
	sort.Strings(files)

	options := make([]func(*rego.Rego), 0, len(files)+2)
	options = append(options, rego.Query(query), rego.EnablePrintStatements(true))
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read policy file", goerr.V("path", file))
		}
		options = append(options, rego.Module(file, string(data)))
	}

	prepared, err := rego.New(options...).PrepareForEval(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to prepare policy query", goerr.V("query", query))
	}

	return &Policy{query: &prepared, files: files}, nil
}

// Files returns the loaded policy files
func (p *Policy) Files() []string {
	if p == nil {
		return nil
	}
	return p.files
}

// Input describes a conversation to the policy
type Input struct {
	ID           string
	Title        string
	CreateTime   time.Time
	UpdateTime   time.Time
	DefaultModel string
	MessageCount int
	Roles        []string
}

func (x *Input) value() map[string]any {
	roles := make([]any, len(x.Roles))
	for i, r := range x.Roles {
		roles[i] = r
	}
	return map[string]any{
		"id":            x.ID,
		"title":         x.Title,
		"create_time":   x.CreateTime.Unix(),
		"update_time":   x.UpdateTime.Unix(),
		"default_model": x.DefaultModel,
		"message_count": x.MessageCount,
		"roles":         roles,
	}
}

// Decision is the policy result for one conversation
type Decision struct {
	Skip   bool
	Reason string
	Tags   []string
}

// Evaluate runs the policy. A nil policy, or a policy that defines nothing
// under data.migrate, accepts the conversation without tags.
func (p *Policy) Evaluate(ctx context.Context, input *Input) (*Decision, error) {
	decision := &Decision{}
	if p == nil {
		return decision, nil
	}

	hook := &printHook{logger: logging.From(ctx)}
	rs, err := p.query.Eval(ctx, rego.EvalInput(input.value()), rego.EvalPrintHook(hook))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to evaluate policy", goerr.V("conversation_id", input.ID))
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return decision, nil
	}

	data, ok := rs[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return nil, goerr.New("policy result is not an object", goerr.V("conversation_id", input.ID))
	}

	if v, ok := data["skip"]; ok {
		skip, ok := v.(bool)
		if !ok {
			return nil, goerr.New("policy skip is not a boolean", goerr.V("value", v))
		}
		decision.Skip = skip
	}
	if v, ok := data["reason"]; ok {
		reason, ok := v.(string)
		if !ok {
			return nil, goerr.New("policy reason is not a string", goerr.V("value", v))
		}
		decision.Reason = reason
	}
	if v, ok := data["tags"]; ok {
		tags, ok := v.([]any)
		if !ok {
			return nil, goerr.New("policy tags is not a collection", goerr.V("value", v))
		}
		for _, t := range tags {
			tag, ok := t.(string)
			if !ok {
				return nil, goerr.New("policy tag is not a string", goerr.V("value", t))
			}
			decision.Tags = append(decision.Tags, tag)
		}
		sort.Strings(decision.Tags)
	}

	if decision.Skip && decision.Reason == "" {
		decision.Reason = "skipped by policy"
	}

	return decision, nil
}
