package hostcmd

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javanstorm/vmhost/internal/testutil"
)

func TestExecRunner(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name      string
		body      string
		wantLine  string
		wantExit  int
		wantError bool
	}{
		{
			name:     "success",
			body:     "echo '/dev/disk4  \tGUID_partition_scheme'\necho '/dev/disk4s1 EFI'",
			wantLine: "/dev/disk4  \tGUID_partition_scheme",
		},
		{
			name:      "stderr with zero exit",
			body:      "echo '/dev/disk4'\necho 'hdiutil: attach failed' >&2",
			wantLine:  "/dev/disk4",
			wantError: true,
		},
		{
			name:      "non-zero exit",
			body:      "exit 3",
			wantExit:  3,
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			script := testutil.WriteScript(t, dir, "tool-"+tt.name[:3], tt.body)

			res, err := ExecRunner{}.Run(context.Background(), script, "attach")
			require.NoError(t, err)

			assert.Equal(t, tt.wantLine, res.FirstLine())
			assert.Equal(t, tt.wantExit, res.ExitCode)
			if tt.wantError {
				assert.True(t, errors.Is(res.Err(), ErrFailed), "Err() = %v", res.Err())
			} else {
				assert.NoError(t, res.Err())
			}
		})
	}
}

func TestExecRunnerMissingBinary(t *testing.T) {
	_, err := ExecRunner{}.Run(context.Background(), "/nonexistent/vmhost-tool")
	assert.Error(t, err)
}

func TestFirstLineSkipsBlank(t *testing.T) {
	res := &Result{Stdout: []byte("\n\n  /dev/disk2  \n/dev/disk3\n")}
	assert.Equal(t, "/dev/disk2", res.FirstLine())

	empty := &Result{}
	assert.Equal(t, "", empty.FirstLine())
}
