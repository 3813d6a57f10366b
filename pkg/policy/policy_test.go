package policy_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/m-mizutani/chatmig/pkg/policy"
	"github.com/m-mizutani/gt"
)

func writePolicy(t *testing.T, dir, name, body string) {
	t.Helper()
	gt.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0644))
}

func newInput() *policy.Input {
	return &policy.Input{
		ID:           "conv-1",
		Title:        "Weekly sync",
		CreateTime:   time.Unix(1716200000, 0),
		UpdateTime:   time.Unix(1716200300, 0),
		DefaultModel: "gpt-4o",
		MessageCount: 4,
		Roles:        []string{"user", "assistant"},
	}
}

func TestEvaluate(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writePolicy(t, dir, "migrate.rego", `package migrate

default skip := false

skip if {
	input.message_count == 0
}

skip if {
	startswith(input.title, "scratch")
}

reason := "scratch conversation" if {
	startswith(input.title, "scratch")
}

tags contains "model-gpt-4o" if {
	input.default_model == "gpt-4o"
}

tags contains "before-2025" if {
	input.create_time < 1735689600
}
`)

	p, err := policy.New(ctx, dir)
	gt.NoError(t, err)
	gt.NotNil(t, p)
	gt.A(t, p.Files()).Length(1)

	t.Run("accepted with tags", func(t *testing.T) {
		d, err := p.Evaluate(ctx, newInput())
		gt.NoError(t, err)
		gt.False(t, d.Skip)
		gt.Equal(t, d.Tags, []string{"before-2025", "model-gpt-4o"})
	})

	t.Run("skipped with reason", func(t *testing.T) {
		input := newInput()
		input.Title = "scratch pad"
		d, err := p.Evaluate(ctx, input)
		gt.NoError(t, err)
		gt.True(t, d.Skip)
		gt.Equal(t, d.Reason, "scratch conversation")
	})

	t.Run("skipped with default reason", func(t *testing.T) {
		input := newInput()
		input.MessageCount = 0
		d, err := p.Evaluate(ctx, input)
		gt.NoError(t, err)
		gt.True(t, d.Skip)
		gt.Equal(t, d.Reason, "skipped by policy")
	})
}

func TestNoPolicy(t *testing.T) {
	ctx := context.Background()

	p, err := policy.New(ctx, "")
	gt.NoError(t, err)
	gt.Nil(t, p)

	p, err = policy.New(ctx, t.TempDir())
	gt.NoError(t, err)
	gt.Nil(t, p)

	// a nil policy accepts everything
	d, err := p.Evaluate(ctx, newInput())
	gt.NoError(t, err)
	gt.False(t, d.Skip)
	gt.A(t, d.Tags).Length(0)
}

func TestOtherPackageOnly(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writePolicy(t, dir, "other.rego", `package other

allow := true
`)

	p, err := policy.New(ctx, dir)
	gt.NoError(t, err)

	d, err := p.Evaluate(ctx, newInput())
	gt.NoError(t, err)
	gt.False(t, d.Skip)
}

func TestInvalidPolicy(t *testing.T) {
	ctx := context.Background()

	t.Run("syntax error", func(t *testing.T) {
		dir := t.TempDir()
		writePolicy(t, dir, "broken.rego", "package migrate\n\nskip if {\n")
		_, err := policy.New(ctx, dir)
		gt.Error(t, err)
	})

	t.Run("wrong type", func(t *testing.T) {
		dir := t.TempDir()
		writePolicy(t, dir, "migrate.rego", "package migrate\n\nskip := \"yes\"\n")
		p, err := policy.New(ctx, dir)
		gt.NoError(t, err)
		_, err = p.Evaluate(ctx, newInput())
		gt.Error(t, err)
	})

	t.Run("missing directory", func(t *testing.T) {
		_, err := policy.New(ctx, filepath.Join(t.TempDir(), "none"))
		gt.Error(t, err)
	})
}
