package dap

import (
	"encoding/json"
	"errors"
	"net"
	"testing"

	godap "github.com/google/go-dap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestDecodeStandardRequest(t *testing.T) {
	msg, err := Decode([]byte(`{"seq":3,"type":"request","command":"next","arguments":{"threadId":1}}`))
	require.NoError(t, err)

	req, ok := msg.(*godap.NextRequest)
	require.True(t, ok)
	assert.Equal(t, 3, req.Seq)
	assert.Equal(t, 1, req.Arguments.ThreadId)
}

func TestDecodeCustomRequests(t *testing.T) {
	msg, err := Decode([]byte(`{"seq":7,"type":"request","command":"getInstructions"}`))
	require.NoError(t, err)
	req, ok := msg.(*GetInstructionsRequest)
	require.True(t, ok)
	assert.Equal(t, 7, req.Seq)

	msg, err = Decode([]byte(`{"seq":8,"type":"request","command":"getCurrentInstruction"}`))
	require.NoError(t, err)
	_, ok = msg.(*GetCurrentInstructionRequest)
	assert.True(t, ok)
}

func TestDecodeUnknownCommand(t *testing.T) {
	_, err := Decode([]byte(`{"seq":9,"type":"request","command":"frobnicate"}`))
	require.Error(t, err)

	var de *DecodeError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, 9, de.Seq)
	assert.Equal(t, "frobnicate", de.Command)
	assert.True(t, de.IsRequest())
}

func TestDecodeGarbage(t *testing.T) {
	_, err := Decode([]byte(`not json`))
	var de *DecodeError
	require.True(t, errors.As(err, &de))
	assert.False(t, de.IsRequest())
}

func TestEncodeStampsSeq(t *testing.T) {
	data, err := Encode(NewLaunchedEvent(), 42)
	require.NoError(t, err)

	assert.Equal(t, int64(42), gjson.GetBytes(data, "seq").Int())
	assert.Equal(t, "event", gjson.GetBytes(data, "type").String())
	assert.Equal(t, EventLaunched, gjson.GetBytes(data, "event").String())
}

func TestNewErrorResponse(t *testing.T) {
	resp := NewErrorResponse(5, "stackTrace", "no debug session attached")
	data, err := Encode(resp, 1)
	require.NoError(t, err)

	assert.False(t, gjson.GetBytes(data, "success").Bool())
	assert.Equal(t, int64(5), gjson.GetBytes(data, "request_seq").Int())
	assert.Equal(t, "no debug session attached", gjson.GetBytes(data, "message").String())
	assert.Equal(t, "no debug session attached", gjson.GetBytes(data, "body.error.format").String())
}

func TestLaunchArgumentsJSON(t *testing.T) {
	var args LaunchArguments
	require.NoError(t, json.Unmarshal([]byte(`{
		"txHash": "0xabc",
		"workingDirectory": "/work",
		"providerUrl": "http://localhost:8545",
		"files": ["a.sol"],
		"stopOnEntry": false
	}`), &args))

	assert.Equal(t, "0xabc", args.TxHash)
	assert.Equal(t, "http://localhost:8545", args.ProviderURL)
	require.NotNil(t, args.StopOnEntry)
	assert.False(t, *args.StopOnEntry)
}

func TestStreamTransport(t *testing.T) {
	a, b := net.Pipe()
	left, right := NewRawTransport(a), NewRawTransport(b)
	defer left.Close()
	defer right.Close()

	go func() {
		_ = left.Send(&Message{Content: []byte(`{"seq":1,"type":"event","event":"initialized"}`)})
	}()

	msg, err := right.Receive()
	require.NoError(t, err)
	assert.JSONEq(t, `{"seq":1,"type":"event","event":"initialized"}`, string(msg.Content))
}

func TestStreamTransportClosed(t *testing.T) {
	a, b := net.Pipe()
	tr := NewRawTransport(b)
	require.NoError(t, a.Close())

	_, err := tr.Receive()
	assert.Error(t, err)
}
