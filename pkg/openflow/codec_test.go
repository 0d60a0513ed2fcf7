package openflow

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONCodec_FlowMod(t *testing.T) {
	c := JSONCodec{}
	fm := FlowMod{
		Command: CommandAdd,
		Match: Match{
			InPort:  1,
			EthType: EthTypeIPv4,
			EthSrc:  MAC{0x22, 1, 0, 0, 0, 0x0b},
			IPSrc:   Host(netip.MustParseAddr("10.0.0.1")),
			IPDst:   Host(netip.MustParseAddr("10.0.0.2")),
		},
		Priority: 0x8000 + 1 + 2,
		Actions:  []Action{SetEthDst(MAC{0x22, 1, 0, 0, 0, 0x0c}), Output(2)},
	}

	b1, err := c.Encode(fm)
	require.NoError(t, err)
	b2, err := c.Encode(fm)
	require.NoError(t, err)
	assert.Equal(t, b1, b2, "encoding is deterministic")

	msg, err := c.Decode(b1)
	require.NoError(t, err)
	assert.Equal(t, fm, msg)

	del, err := c.Decode(mustEncode(t, c, fm.Strict()))
	require.NoError(t, err)
	assert.Equal(t, CommandDeleteStrict, del.(FlowMod).Command)
	assert.Empty(t, del.(FlowMod).Actions)
}

func TestJSONCodec_Barrier(t *testing.T) {
	c := JSONCodec{}
	msg, err := c.Decode(mustEncode(t, c, Barrier{XID: "abc"}))
	require.NoError(t, err)
	assert.Equal(t, Barrier{XID: "abc"}, msg)
}

func TestJSONCodec_Errors(t *testing.T) {
	c := JSONCodec{}
	_, err := c.Decode([]byte(`{"type":"hello","body":{}}`))
	assert.Error(t, err)
	_, err = c.Decode([]byte(`not json`))
	assert.Error(t, err)
	_, err = c.Decode([]byte(`{"type":"flow_mod","body":{"command":"explode"}}`))
	assert.Error(t, err)
}

func mustEncode(t *testing.T, c Codec, m Message) []byte {
	t.Helper()
	b, err := c.Encode(m)
	require.NoError(t, err)
	return b
}
