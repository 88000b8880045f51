package pgmcfg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAndExtract(t *testing.T) {
	ps, err := Parse("baud=115200,port=/dev/ttyUSB0")
	require.NoError(t, err)

	v, ok := ps.Extract("baud")
	assert.True(t, ok)
	assert.Equal(t, "115200", v)

	assert.Equal(t, []string{"port"}, ps.Unhandled())

	_, ok = ps.Extract("port")
	assert.True(t, ok)
	assert.Empty(t, ps.Unhandled())
}

func TestParseEmpty(t *testing.T) {
	ps, err := Parse("")
	require.NoError(t, err)
	assert.Empty(t, ps.Unhandled())
	_, ok := ps.Extract("anything")
	assert.False(t, ok)
}

func TestParseMalformed(t *testing.T) {
	_, err := Parse("noequalsign")
	assert.Error(t, err)
}

func TestSplitProgrammerSpec(t *testing.T) {
	name, params := SplitProgrammerSpec("serprog:port=/dev/ttyUSB0,baud=115200")
	assert.Equal(t, "serprog", name)
	assert.Equal(t, "port=/dev/ttyUSB0,baud=115200", params)

	name, params = SplitProgrammerSpec("dummy")
	assert.Equal(t, "dummy", name)
	assert.Equal(t, "", params)
}
