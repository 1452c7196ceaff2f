package jsonrpc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequest(t *testing.T) {
	req, err := NewRequest(MethodCall, []any{CallArgs{To: "0x01", Data: "0x02"}, "latest"}, NewIDInt(7))
	require.NoError(t, err)
	require.NoError(t, req.Validate())

	data, err := req.Bytes()
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","method":"eth_call","params":[{"to":"0x01","data":"0x02"},"latest"],"id":7}`, string(data))
}

func TestRequest_Validate(t *testing.T) {
	assert.Error(t, (&Request{JSONRPC: "1.0", Method: "x"}).Validate())
	assert.Error(t, (&Request{JSONRPC: Version}).Validate())
}

func TestResponse_GetResultAs(t *testing.T) {
	resp, err := ParseResponse([]byte(`{"jsonrpc":"2.0","id":1,"result":"0x10"}`))
	require.NoError(t, err)

	var out string
	require.NoError(t, resp.GetResultAs(&out))
	assert.Equal(t, "0x10", out)

	resp, err = ParseResponse([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":3,"message":"execution reverted"}}`))
	require.NoError(t, err)
	err = resp.GetResultAs(&out)
	var rpcErr *Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, 3, rpcErr.Code)
	assert.False(t, resp.IsRetryableError())

	resp, err = ParseResponse([]byte(`{"jsonrpc":"2.0","id":1,"result":null}`))
	require.NoError(t, err)
	assert.True(t, resp.ResultIsNull())
	assert.Error(t, resp.GetResultAs(&out))
}

func TestResponse_IsRetryableError(t *testing.T) {
	tests := []struct {
		err  *Error
		want bool
	}{
		{nil, false},
		{NewError(CodeInvalidParams, "bad params"), false},
		{NewError(CodeServerError, "header not found"), true},
		{NewError(CodeInternalError, "Execution Reverted: nope"), false},
		{NewError(-32005, "rate limited"), true},
	}
	for _, tt := range tests {
		resp := &Response{Error: tt.err}
		assert.Equal(t, tt.want, resp.IsRetryableError(), "%v", tt.err)
	}
}

func TestBlockHeader_BlockNumber(t *testing.T) {
	var n Notification
	require.NoError(t, json.Unmarshal([]byte(`{"jsonrpc":"2.0","method":"eth_subscription","params":{"subscription":"0xabc","result":{"number":"0x1b4","hash":"0x01"}}}`), &n))
	assert.Equal(t, "0xabc", n.Params.Subscription)

	var header BlockHeader
	require.NoError(t, json.Unmarshal(n.Params.Result, &header))
	number, err := header.BlockNumber()
	require.NoError(t, err)
	assert.Equal(t, uint64(436), number)

	_, err = (&BlockHeader{Number: "zz"}).BlockNumber()
	assert.Error(t, err)
}

func TestID(t *testing.T) {
	var id ID
	require.NoError(t, json.Unmarshal([]byte(`"abc"`), &id))
	assert.Equal(t, "abc", id.String())
	assert.True(t, ID{}.IsNull())
	assert.Equal(t, "null", ID{}.String())
}
