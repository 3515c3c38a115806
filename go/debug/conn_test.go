package debug

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

type MockServer struct {
	input  bytes.Buffer
	output *bytes.Buffer
}

func (s *MockServer) Read(data []byte) (int, error) {
	return s.input.Read(data)
}

func (s *MockServer) Write(data []byte) (int, error) {
	return s.output.Write(data)
}

func (s *MockServer) Append(data string) {
	s.input.WriteString(data)
}

var recvTests = []struct {
	input    string
	want     string
	hasError bool
	hasACK   bool
	wantOut  []byte
}{
	{
		input: "$test#c0",
		want:  "test",
	},
	{
		input:    "$test#XX",
		hasError: true,
	},
	{
		input:    "$test#c1",
		hasError: true,
	},
	{
		input: "%Stop:T05#99$test#c0",
		want:  "test",
	},
	{
		input:   "$test#c0",
		want:    "test",
		wantOut: []byte{'+'},
		hasACK:  true,
	},
	{
		input:   "$test#c1$test#c0",
		want:    "test",
		wantOut: []byte("-+"),
		hasACK:  true,
	},
	{
		input: "$test}]}\x03#1a",
		want:  "test}#",
	},
	{
		input: "$0* #7a",
		want:  "0000",
	},
}

func TestConnRecv(t *testing.T) {
	ms := &MockServer{}
	c := newConn(ms)

	for i, test := range recvTests {
		ms.input.Reset()
		ms.Append(test.input)
		c.ack = test.hasACK

		ms.output = &bytes.Buffer{}
		resp, err := c.recv()

		assert.Equal(t, test.want, resp, "test #%d", i)
		assert.Equal(t, test.wantOut, ms.output.Bytes(), "test #%d", i)
		if test.hasError {
			assert.NotNil(t, err, "test #%d", i)
		} else {
			assert.Nil(t, err, "test #%d", i)
		}
	}
}

func TestConnSend(t *testing.T) {
	ms := &MockServer{output: &bytes.Buffer{}}
	c := newConn(ms)
	c.ack = true
	ms.Append("-+")
	assert.NoError(t, c.send("m8001c28,4"))
	assert.Equal(t, "$m8001c28,4#63$m8001c28,4#63", ms.output.String())

	ms.output.Reset()
	c.ack = false
	assert.NoError(t, c.send("X#"))
	assert.Equal(t, "$X}\x03#d8", ms.output.String())
}

func TestEscape(t *testing.T) {
	raw := []byte("a$b#c}d*e")
	assert.Equal(t, raw, unescape(escape(raw)))
}

func TestParseStopReply(t *testing.T) {
	s, err := ParseStopReply("T05thread:1;0f:281c0008;hwbreak:;")
	assert.NoError(t, err)
	assert.Equal(t, byte('T'), s.Kind)
	assert.Equal(t, uint8(5), s.Signal)
	pc, ok := s.PC(15)
	assert.True(t, ok)
	assert.Equal(t, uint64(0x08001c28), pc)
	assert.Equal(t, "hwbreak", s.Reason)
	assert.False(t, s.Exited())

	s, err = ParseStopReply("W00")
	assert.NoError(t, err)
	assert.True(t, s.Exited())

	_, err = ParseStopReply("OK")
	assert.Error(t, err)
	_, err = ParseStopReply("Q05")
	assert.Error(t, err)
}

func TestPackLE(t *testing.T) {
	assert.Equal(t, "281c0008", packLE(0x08001c28, 4))
	val, err := unpackLE("281c0008")
	assert.NoError(t, err)
	assert.Equal(t, uint64(0x08001c28), val)
	_, err = unpackLE("xxxxxxxx")
	assert.Error(t, err)
}

func TestRemoteError(t *testing.T) {
	err := remoteError("m0,4", "E14")
	if assert.Error(t, err) {
		assert.Equal(t, uint8(0x14), err.(*RemoteError).Code)
	}
	assert.NoError(t, remoteError("m0,4", "e14f"))
}
