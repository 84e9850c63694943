package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// Marker records what was last installed for one (project, language) pair.
type Marker struct {
	Fingerprint string `json:"fingerprint"`
	// Dependencies is the full installed set, kept so later submissions can
	// merge with it instead of discarding earlier installs.
	Dependencies map[string]string `json:"dependencies"`
}

// MarkerStore persists dependency-cache markers keyed by project and
// language. It is read-before-write and deliberately not transactional:
// two concurrent installs for one project may race and the last writer wins.
type MarkerStore interface {
	Get(ctx context.Context, projectID, language string) (*Marker, error)
	Put(ctx context.Context, projectID, language string, m Marker) error
}

// Fingerprint computes a deterministic hash over a dependency set. Names
// are sorted lexicographically first, so equivalent maps hash identically
// regardless of insertion order. Extra artifact identifiers extend the hash
// the same way.
func Fingerprint(deps map[string]string, extra ...string) string {
	parts := make([]string, 0, len(deps)+len(extra))
	for name, version := range deps {
		parts = append(parts, name+"@"+version)
	}
	sort.Strings(parts)
	if len(extra) > 0 {
		tail := append([]string(nil), extra...)
		sort.Strings(tail)
		parts = append(parts, tail...)
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "\n")))
	return hex.EncodeToString(sum[:])
}

// InstallReport describes what the dependency step did.
type InstallReport struct {
	// Skipped is true when the cache fingerprint matched and no install ran.
	Skipped bool
	// Log is the combined output of the install command, or an explanatory
	// message for no-op cases.
	Log string
}

// DepInstaller materializes dependency manifests and runs package installs
// inside the language container, skipping work when the project's last
// installed fingerprint already covers the requested set.
type DepInstaller struct {
	api   ContainerAPI
	store MarkerStore
	ws    *WorkspaceManager
	log   *slog.Logger

	// alwaysInstall disables the fingerprint shortcut. The marker only
	// proves the packages were installed into the persistent container;
	// under the ephemeral policy every run starts from a blank container,
	// so the install must happen every time. Markers are still read for
	// merging and written afterwards.
	alwaysInstall bool
}

func NewDepInstaller(api ContainerAPI, store MarkerStore, ws *WorkspaceManager, log *slog.Logger) *DepInstaller {
	if log == nil {
		log = slog.Default()
	}
	return &DepInstaller{api: api, store: store, ws: ws, log: log}
}

// Ensure installs the requested dependencies unless the cache says they are
// already present. A language without a manifest convention is a successful
// no-op: dependency persistence is best effort and must not sink the run.
func (d *DepInstaller) Ensure(ctx context.Context, rt *LanguageRuntime, containerRef, workspace, projectID string, deps map[string]string) (InstallReport, error) {
	if len(deps) == 0 {
		return InstallReport{Skipped: true}, nil
	}
	if rt.Manifest == ManifestNone {
		msg := fmt.Sprintf("dependency installation is not supported for %s; continuing without it", rt.ID)
		d.log.Info(msg, "language", rt.ID)
		return InstallReport{Skipped: true, Log: msg}, nil
	}

	merged := d.mergedSet(ctx, projectID, rt.ID, deps)
	hash := Fingerprint(merged)

	if projectID != "" && !d.alwaysInstall {
		marker, err := d.store.Get(ctx, projectID, rt.ID)
		if err != nil {
			d.log.Warn("dependency marker read failed", "project", projectID, "error", err)
		} else if marker != nil && marker.Fingerprint == hash {
			d.log.Debug("dependency set unchanged, skipping install",
				"project", projectID, "language", rt.ID)
			return InstallReport{Skipped: true, Log: "dependencies already installed"}, nil
		}
	}

	manifestName, manifestBody, err := renderManifest(rt.Manifest, merged)
	if err != nil {
		return InstallReport{}, fmt.Errorf("render manifest: %w", err)
	}
	if err := d.ws.WriteFile(ctx, containerRef, workspace, manifestName, manifestBody); err != nil {
		return InstallReport{}, fmt.Errorf("write manifest: %w", err)
	}

	stdout, stderr, exit, err := runCommand(ctx, d.api, containerRef, rt.InstallCommand(workspace))
	combined := strings.TrimSpace(stdout + stderr)
	if err != nil {
		return InstallReport{Log: combined}, fmt.Errorf("install command: %w", err)
	}
	if exit != 0 {
		return InstallReport{Log: combined}, fmt.Errorf("install command exited with status %d", exit)
	}

	if projectID != "" {
		if err := d.store.Put(ctx, projectID, rt.ID, Marker{Fingerprint: hash, Dependencies: merged}); err != nil {
			d.log.Warn("dependency marker write failed", "project", projectID, "error", err)
		}
	}
	return InstallReport{Log: combined}, nil
}

// mergedSet folds the project's previously installed dependencies into the
// requested ones; newly requested versions win.
func (d *DepInstaller) mergedSet(ctx context.Context, projectID, language string, deps map[string]string) map[string]string {
	merged := make(map[string]string, len(deps))
	if projectID != "" {
		if marker, err := d.store.Get(ctx, projectID, language); err == nil && marker != nil {
			for name, version := range marker.Dependencies {
				merged[name] = version
			}
		}
	}
	for name, version := range deps {
		merged[name] = version
	}
	return merged
}

// renderManifest produces the on-disk manifest in the exact format the
// language's standard install tool expects.
func renderManifest(kind ManifestKind, deps map[string]string) (name, body string, err error) {
	names := make([]string, 0, len(deps))
	for n := range deps {
		names = append(names, n)
	}
	sort.Strings(names)

	switch kind {
	case ManifestPip:
		var b strings.Builder
		for _, n := range names {
			v := deps[n]
			if v == "" || v == "*" || v == "latest" {
				b.WriteString(n + "\n")
			} else {
				b.WriteString(fmt.Sprintf("%s==%s\n", n, v))
			}
		}
		return "requirements.txt", b.String(), nil
	case ManifestNpm:
		pkgDeps := make(map[string]string, len(deps))
		for _, n := range names {
			v := deps[n]
			if v == "" || v == "latest" {
				v = "*"
			}
			pkgDeps[n] = v
		}
		body, err := json.MarshalIndent(map[string]any{
			"name":         "execbox-project",
			"version":      "1.0.0",
			"private":      true,
			"dependencies": pkgDeps,
		}, "", "  ")
		if err != nil {
			return "", "", err
		}
		return "package.json", string(body) + "\n", nil
	default:
		return "", "", fmt.Errorf("no manifest format for kind %d", kind)
	}
}
