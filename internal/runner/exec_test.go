package runner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// expiredContext reports a passed deadline but never closes Done, so the
// process is not killed: it models a step finishing as the deadline lands.
type expiredContext struct{ context.Context }

func (expiredContext) Err() error { return context.DeadlineExceeded }

func TestExecute_CleanExitWinsOverLateDeadline(t *testing.T) {
	ctx := expiredContext{context.Background()}

	code, err := execute(ctx, procSpec{Argv: []string{"bash", "-c", "exit 0"}})
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	code, err = execute(ctx, procSpec{Argv: []string{"bash", "-c", "exit 3"}})
	require.Error(t, err)
	assert.Equal(t, ExitTimeout, code)
}

func TestExecute_ExitCodes(t *testing.T) {
	code, err := execute(context.Background(), procSpec{Argv: []string{"bash", "-c", "exit 7"}})
	require.Error(t, err)
	assert.Equal(t, 7, code)

	code, err = execute(context.Background(), procSpec{Argv: []string{"definitely-not-a-command-xyz"}})
	require.Error(t, err)
	assert.Equal(t, ExitNotFound, code)

	var lines []string
	code, err = execute(context.Background(), procSpec{
		Argv:   []string{"bash", "-c", "echo one; echo two >&2"},
		OnLine: func(l string) { lines = append(lines, l) },
	})
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.ElementsMatch(t, []string{"one", "two"}, lines)
}
