package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCmd(t *testing.T) {
	buf := new(bytes.Buffer)
	cmd := newVersionCmd()
	cmd.SetOut(buf)

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "phyopt")
	assert.Contains(t, buf.String(), Version)
}

func TestOptimizeCmdFlags(t *testing.T) {
	cmd := newOptimizeCmd()

	treeFlag := cmd.Flags().Lookup("tree")
	require.NotNil(t, treeFlag, "optimize must expose --tree")
	assert.Equal(t, "", treeFlag.DefValue)

	verifyFlag := cmd.Flags().Lookup("verify")
	require.NotNil(t, verifyFlag, "optimize must expose --verify")
	assert.Equal(t, "false", verifyFlag.DefValue)
}
