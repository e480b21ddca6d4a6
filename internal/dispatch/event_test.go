package dispatch

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Event
	}{
		{
			name: "connect with quota",
			raw:  `{"eventType":0,"userToken":"tok1","connectionTime":3600,"allowedBW":1000}`,
			want: Connect{Token: "tok1", Seconds: 3600, BandwidthKbps: 1000},
		},
		{
			name: "connect without quota",
			raw:  `{"eventType":0,"userToken":"tok1"}`,
			want: Connect{Token: "tok1"},
		},
		{
			name: "disconnect",
			raw:  `{"eventType":1,"userToken":"tok1","connectionTime":null}`,
			want: Disconnect{Token: "tok1"},
		},
		{
			name: "upgrade",
			raw:  `{"eventType":2,"upgradeUrl":"https://fw.example/img.bin"}`,
			want: Upgrade{URL: "https://fw.example/img.bin"},
		},
		{
			name: "command",
			raw:  `{"eventType":3,"userToken":"","remoteCommand":"uptime"}`,
			want: Command{Command: "uptime"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(json.RawMessage(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want.Kind(), got.Kind())
		})
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		kind  string
		field string
	}{
		{name: "not an object", raw: `[1,2]`},
		{name: "null", raw: `null`},
		{name: "missing type", raw: `{"userToken":"x"}`, field: "eventType"},
		{name: "string type", raw: `{"eventType":"0","userToken":"x"}`, field: "eventType"},
		{name: "unknown type", raw: `{"eventType":9,"userToken":"x"}`, field: "eventType"},
		{name: "connect without token", raw: `{"eventType":0}`, kind: "connect", field: "userToken"},
		{name: "connect numeric token", raw: `{"eventType":0,"userToken":5}`, kind: "connect", field: "userToken"},
		{name: "connect fractional time", raw: `{"eventType":0,"userToken":"x","connectionTime":1.5}`, kind: "connect", field: "connectionTime"},
		{name: "connect negative bw", raw: `{"eventType":0,"userToken":"x","allowedBW":-1}`, kind: "connect", field: "allowedBW"},
		{name: "disconnect blank token", raw: `{"eventType":1,"userToken":"  "}`, kind: "disconnect", field: "userToken"},
		{name: "upgrade without url", raw: `{"eventType":2}`, kind: "upgrade", field: "upgradeUrl"},
		{name: "upgrade file url", raw: `{"eventType":2,"upgradeUrl":"file:///etc/passwd"}`, kind: "upgrade", field: "upgradeUrl"},
		{name: "command without command", raw: `{"eventType":3,"userToken":"x"}`, kind: "command", field: "remoteCommand"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := Decode(json.RawMessage(tt.raw))
			assert.Nil(t, ev)
			var de *DecodeError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, tt.kind, de.Kind)
			assert.Equal(t, tt.field, de.Field)
		})
	}
}

func TestDecodeError_Message(t *testing.T) {
	err := &DecodeError{Index: 2, Kind: "connect", Field: "userToken", Reason: "missing"}
	assert.Equal(t, "event 2 (connect): field userToken: missing", err.Error())
	assert.Equal(t, "event 0: not a JSON object", (&DecodeError{Reason: "not a JSON object"}).Error())
}
