package autocoder

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func source(content string, found bool, err error) BaselineSource {
	return func(ctx context.Context, path string) (string, bool, error) {
		return content, found, err
	}
}

func TestComputeFileDiff_UsesFirstFoundBaseline(t *testing.T) {
	diff := ComputeFileDiff(context.Background(), "lib/foo.go", "new content",
		source("", false, nil),
		source("old content", true, nil),
		source("should not reach", true, nil),
	)
	assert.Contains(t, diff.Diff, "foo.go")
	assert.NotEmpty(t, diff.Diff)
}

func TestComputeFileDiff_SkipsSourceOnError(t *testing.T) {
	diff := ComputeFileDiff(context.Background(), "lib/foo.go", "new content",
		source("", false, errors.New("unstaged unavailable")),
		source("staged content", true, nil),
	)
	assert.NotEmpty(t, diff.Diff)
}

func TestComputeFileDiff_NoBaselineFoundIsNewFile(t *testing.T) {
	diff := ComputeFileDiff(context.Background(), "lib/new.go", "brand new content")
	assert.Contains(t, diff.Diff, "new file")
	assert.Contains(t, diff.Diff, "/dev/null")
}

func TestComputeFileDiff_IdenticalContentYieldsEmptyDiff(t *testing.T) {
	diff := ComputeFileDiff(context.Background(), "lib/foo.go", "same",
		source("same", true, nil),
	)
	assert.Empty(t, diff.Diff)
}

func TestComputeFileDiff_NilSourcesAreSkipped(t *testing.T) {
	diff := ComputeFileDiff(context.Background(), "lib/foo.go", "new", nil, source("old", true, nil))
	assert.NotEmpty(t, diff.Diff)
}

func TestUnifiedDiff_ProducesGitStyleHeaders(t *testing.T) {
	result := unifiedDiff("line one\nline two\n", "line one\nline three\n", "a.txt")
	require.NotEmpty(t, result)
	assert.Contains(t, result, "--- a/a.txt")
	assert.Contains(t, result, "+++ b/a.txt")
}
