// Package autocoder provides a reference implementation of ports.AutoCoder
// (spec.md §6): pick a milestone, attempt it, verify with tests, commit.
// Grounded on internal/diff/generator.go's diffmatchpatch-based unified diff
// computation (DiffMain -> DiffCleanupSemantic -> PatchMake -> PatchToText),
// adapted so the diff itself is computed in-process and testable instead of
// shelling out to `git diff` (spec.md §4.10.7's "unstaged -> staged -> last
// commit -> new file" baseline order).
package autocoder

import (
	"context"
	"fmt"

	"github.com/sergi/go-diff/diffmatchpatch"

	"agentloop/internal/cyclestate"
)

// BaselineSource fetches path's content at one diff baseline (unstaged
// working tree, staged index, or last commit). found is false when that
// baseline has no record of the file.
type BaselineSource func(ctx context.Context, path string) (content string, found bool, err error)

// ComputeFileDiff tries each source in order and returns a unified diff
// against the first baseline that has the file; if none do, path is
// reported as a new file (spec.md §4.10.7).
func ComputeFileDiff(ctx context.Context, path, newContent string, sources ...BaselineSource) cyclestate.FileDiff {
	for _, src := range sources {
		if src == nil {
			continue
		}
		old, found, err := src(ctx, path)
		if err != nil || !found {
			continue
		}
		return cyclestate.FileDiff{Path: path, Diff: unifiedDiff(old, newContent, path)}
	}
	return cyclestate.FileDiff{Path: path, Diff: newFileMarker(path, newContent)}
}

func unifiedDiff(oldContent, newContent, path string) string {
	if oldContent == newContent {
		return ""
	}
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(oldContent, newContent, false)
	diffs = dmp.DiffCleanupSemantic(diffs)
	patches := dmp.PatchMake(oldContent, diffs)
	patchText := dmp.PatchToText(patches)
	if patchText == "" {
		return ""
	}
	return fmt.Sprintf("--- a/%s\n+++ b/%s\n%s", path, path, patchText)
}

func newFileMarker(path, content string) string {
	return fmt.Sprintf("--- /dev/null\n+++ b/%s\n@@ new file, %d bytes @@", path, len(content))
}
