// Package subscription resolves plugin/subagent-configuration sources and
// keeps their git checkouts in sync.
package subscription

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dylanbstorey/arawn/internal/subagent"
)

// defaultGitTimeout bounds each git operation per repository.
const defaultGitTimeout = 30 * time.Second

// Subscription is one remote source of subagent configurations.
type Subscription struct {
	ID  string `yaml:"id" json:"id"`
	URL string `yaml:"url" json:"url"`
	// Ref is the branch or tag to track. Empty tracks the default branch.
	Ref string `yaml:"ref" json:"ref"`
	// Timeout bounds git operations for this source.
	Timeout time.Duration `yaml:"-" json:"-"`
}

// SyncResult reports one subscription's sync outcome.
type SyncResult struct {
	ID      string `json:"id"`
	Path    string `json:"path"`
	Commit  string `json:"commit,omitempty"`
	Updated bool   `json:"updated"`
	Error   string `json:"error,omitempty"`
}

// IsSuccess reports whether the sync completed without error.
func (r SyncResult) IsSuccess() bool {
	return r.Error == ""
}

// Manager syncs subscriptions into a cache directory and loads the agent
// configurations they provide.
type Manager struct {
	cacheDir      string
	subscriptions []Subscription
}

// NewManager creates a manager caching checkouts under cacheDir.
func NewManager(cacheDir string, subscriptions []Subscription) *Manager {
	return &Manager{cacheDir: cacheDir, subscriptions: subscriptions}
}

// CacheDirFor returns the checkout directory for a subscription.
func (m *Manager) CacheDirFor(sub Subscription) string {
	return filepath.Join(m.cacheDir, sub.ID)
}

// SyncAll clones or updates every subscription, one result per source. A
// failing source never blocks the others.
func (m *Manager) SyncAll(ctx context.Context) []SyncResult {
	results := make([]SyncResult, 0, len(m.subscriptions))
	for _, sub := range m.subscriptions {
		results = append(results, m.Sync(ctx, sub))
	}
	return results
}

// Sync clones the subscription on first use and pulls thereafter.
func (m *Manager) Sync(ctx context.Context, sub Subscription) SyncResult {
	result := SyncResult{ID: sub.ID, Path: m.CacheDirFor(sub)}

	timeout := sub.Timeout
	if timeout <= 0 {
		timeout = defaultGitTimeout
	}
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if _, err := os.Stat(filepath.Join(result.Path, ".git")); os.IsNotExist(err) {
		if err := gitClone(opCtx, sub.URL, result.Path, sub.Ref); err != nil {
			result.Error = err.Error()
			return result
		}
		result.Updated = true
	} else {
		updated, err := gitPull(opCtx, result.Path, sub.Ref)
		if err != nil {
			result.Error = err.Error()
			return result
		}
		result.Updated = updated
	}

	if commit, err := currentCommit(opCtx, result.Path); err == nil {
		result.Commit = commit
	}
	slog.Debug("subscription synced", "id", sub.ID, "commit", result.Commit, "updated", result.Updated)
	return result
}

// LoadAgentConfigs walks every synced checkout for agents/*.yaml files and
// decodes them as subagent configurations.
func (m *Manager) LoadAgentConfigs() ([]subagent.AgentConfig, error) {
	var configs []subagent.AgentConfig
	for _, sub := range m.subscriptions {
		agentsDir := filepath.Join(m.CacheDirFor(sub), "agents")
		entries, err := os.ReadDir(agentsDir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("subscription %s: %w", sub.ID, err)
		}
		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() || (!strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml")) {
				continue
			}
			data, err := os.ReadFile(filepath.Join(agentsDir, name))
			if err != nil {
				return nil, fmt.Errorf("subscription %s: read %s: %w", sub.ID, name, err)
			}
			var cfg subagent.AgentConfig
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				slog.Warn("skipping malformed agent config", "subscription", sub.ID, "file", name, "error", err)
				continue
			}
			if cfg.Name == "" {
				cfg.Name = strings.TrimSuffix(strings.TrimSuffix(name, ".yaml"), ".yml")
			}
			configs = append(configs, cfg)
		}
	}
	return configs, nil
}

func gitClone(ctx context.Context, url, dest, ref string) error {
	args := []string{"clone", "--depth", "1"}
	if ref != "" {
		args = append(args, "--branch", ref)
	}
	args = append(args, "--", url, dest)

	out, err := exec.CommandContext(ctx, "git", args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("git clone failed: %s", strings.TrimSpace(string(out)))
	}
	return nil
}

func gitPull(ctx context.Context, repoDir, ref string) (bool, error) {
	before, _ := currentCommitNoCtx(repoDir)

	args := []string{"pull", "--ff-only"}
	if ref != "" {
		args = []string{"pull", "--ff-only", "origin", ref}
	}
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = repoDir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return false, fmt.Errorf("git pull failed: %s", strings.TrimSpace(string(out)))
	}

	after, _ := currentCommitNoCtx(repoDir)
	return before != after, nil
}

func currentCommit(ctx context.Context, repoDir string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "HEAD")
	cmd.Dir = repoDir
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func currentCommitNoCtx(repoDir string) (string, error) {
	cmd := exec.Command("git", "rev-parse", "HEAD")
	cmd.Dir = repoDir
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
