package fleet_cli

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/fleet_err"
	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/fleet_io"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrap_RecoversPanic(t *testing.T) {
	cmd := &cobra.Command{Use: "boom"}
	run := Wrap(func(rc *fleet_io.RuntimeContext, cmd *cobra.Command, args []string) error {
		panic("kaboom")
	})

	err := run(cmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
}

func TestWrap_PassesContext(t *testing.T) {
	cmd := &cobra.Command{Use: "ok"}
	var seen *fleet_io.RuntimeContext
	run := Wrap(func(rc *fleet_io.RuntimeContext, cmd *cobra.Command, args []string) error {
		seen = rc
		return nil
	})

	require.NoError(t, run(cmd, []string{"a"}))
	require.NotNil(t, seen)
	assert.NotNil(t, seen.Ctx)
	assert.Equal(t, "ok", seen.Command)
}

func TestWrap_KeepsErrorIdentity(t *testing.T) {
	sentinel := errors.New("sentinel")
	cmd := &cobra.Command{Use: "fail"}

	err := Wrap(func(*fleet_io.RuntimeContext, *cobra.Command, []string) error {
		return sentinel
	})(cmd, nil)
	assert.True(t, errors.Is(err, sentinel))

	err = Wrap(func(*fleet_io.RuntimeContext, *cobra.Command, []string) error {
		return fleet_err.NewExpectedError(sentinel)
	})(cmd, nil)
	assert.True(t, fleet_err.IsExpectedUserError(err))
	assert.Equal(t, 0, fleet_err.GetExitCode(err))
}

func TestRender(t *testing.T) {
	type row struct {
		ID   uint   `yaml:"id"`
		Name string `yaml:"name"`
	}
	data := []row{{1, "png"}, {2, "jpeg"}}
	tbl := Table{Header: []string{"ID", "NAME"}, Rows: [][]string{{"1", "png"}, {"2", "jpeg"}}}

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, FormatTable, data, tbl))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "ID  NAME", lines[0])
	assert.Equal(t, "1   png", lines[1])

	buf.Reset()
	require.NoError(t, Render(&buf, FormatYAML, data, tbl))
	assert.Equal(t, "- id: 1\n  name: png\n- id: 2\n  name: jpeg\n", buf.String())

	err := Render(&buf, "json", data, tbl)
	assert.Equal(t, fleet_err.CategoryValidation, fleet_err.CategoryOf(err))
}
