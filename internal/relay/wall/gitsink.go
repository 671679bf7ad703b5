package wall

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"wall/internal/relay"
	"wall/internal/relay/metrics"
	"wall/internal/validator"
)

// SinkConfig holds commit sink knobs. Push is optional: a deployment without
// a remote still gets local commit durability.
type SinkConfig struct {
	Enabled bool          `env:"WALL_GIT_ENABLED" envDefault:"false"`
	Remote  string        `env:"WALL_GIT_REMOTE" envDefault:"origin"`
	Branch  string        `env:"WALL_GIT_BRANCH" envDefault:"main"`
	Push    bool          `env:"WALL_GIT_PUSH" envDefault:"false"`
	Timeout time.Duration `env:"WALL_GIT_TIMEOUT" envDefault:"30s"`
}

// GitSink implements relay.Sink by shelling out to git in the wall
// repository. Callers run it on the worker pool; it must not be invoked from
// latency-sensitive goroutines.
type GitSink struct {
	cfg      SinkConfig
	dir      string
	registry *metrics.Registry
	logger   *zap.Logger
}

// NewGitSink creates a sink rooted at the wall repository directory.
func NewGitSink(cfg SinkConfig, dir string, registry *metrics.Registry, logger *zap.Logger) (*GitSink, error) {
	s := GitSink{
		cfg:      cfg,
		dir:      dir,
		registry: registry,
		logger:   logger,
	}

	if err := validator.Validate("git-sink", s.dir, s.registry, s.logger, s.cfg.Timeout); err != nil {
		return nil, fmt.Errorf("failed to validate git sink deps: %w", err)
	}

	return &s, nil
}

// Commit implements relay.Sink.Commit: stage the thread directory, commit,
// and optionally push. The failing stage is identified on the returned
// *relay.PersistenceError.
func (s *GitSink) Commit(ctx context.Context, threadID, message string) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	err := s.commit(ctx, threadID, message)
	s.registry.RecordSinkOperation(relay.StageCommit, err)
	if err != nil {
		return &relay.PersistenceError{Stage: relay.StageCommit, Thread: threadID, Err: err}
	}

	if !s.cfg.Push {
		return nil
	}

	err = s.run(ctx, "push", s.cfg.Remote, s.cfg.Branch)
	s.registry.RecordSinkOperation(relay.StagePush, err)
	if err != nil {
		return &relay.PersistenceError{Stage: relay.StagePush, Thread: threadID, Err: err}
	}

	return nil
}

func (s *GitSink) commit(ctx context.Context, threadID, message string) error {
	if err := s.run(ctx, "add", "--", threadID); err != nil {
		return err
	}

	err := s.run(ctx, "commit", "-m", message)
	if err != nil && strings.Contains(err.Error(), "nothing to commit") {
		// the note was already committed by an earlier, interrupted attempt
		return nil
	}
	return err
}

func (s *GitSink) run(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = s.dir

	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git %s: %v: %s", args[0], err, strings.TrimSpace(string(out)))
	}

	s.logger.Debug("git command succeeded", zap.Strings("args", args))
	return nil
}

// NopSink implements relay.Sink for deployments without version-control
// durability.
type NopSink struct{}

func (NopSink) Commit(context.Context, string, string) error { return nil }
