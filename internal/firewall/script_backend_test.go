package firewall

import (
	"errors"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testOptions() Options {
	return Options{
		Table:      "lazoosplash",
		Interface:  "br-lan",
		GatewayIP:  net.ParseIP("192.168.1.1"),
		PortalPort: 2050,
	}
}

func TestScriptBackend_Init(t *testing.T) {
	runner := &MockCommandRunner{}
	var script string
	runner.On("RunInput", mock.Anything, "nft", "-f", "-").
		Run(func(args mock.Arguments) { script = args.String(0) }).
		Return(nil).Once()

	b, err := NewScriptBackend(runner, "", testOptions())
	require.NoError(t, err)
	require.NoError(t, b.Init())

	assert.True(t, strings.HasPrefix(script, "table inet lazoosplash\ndelete table inet lazoosplash\n"))
	assert.Contains(t, script, `iifname "br-lan" ip saddr != @authorized ip daddr != @whitelist tcp dport 80 dnat ip to 192.168.1.1:2050`)
	assert.Contains(t, script, "set authorized { type ipv4_addr; }")
	runner.AssertExpectations(t)
}

func TestScriptBackend_Elements(t *testing.T) {
	runner := &MockCommandRunner{}
	runner.On("RunInput", "add element inet lazoosplash authorized { 10.0.0.5 }\n", "/usr/sbin/nft", "-f", "-").Return(nil).Once()
	runner.On("RunInput", "delete element inet lazoosplash authorized { 10.0.0.5 }\n", "/usr/sbin/nft", "-f", "-").Return(nil).Once()
	runner.On("RunInput", "add element inet lazoosplash whitelist { 1.1.1.1 }\n", "/usr/sbin/nft", "-f", "-").Return(nil).Once()

	b, err := NewScriptBackend(runner, "/usr/sbin/nft", testOptions())
	require.NoError(t, err)

	require.NoError(t, b.Allow(net.ParseIP("10.0.0.5")))
	require.NoError(t, b.Disallow(net.ParseIP("10.0.0.5")))
	require.NoError(t, b.AllowPassthrough(net.ParseIP("1.1.1.1")))
	assert.ErrorIs(t, b.Allow(net.ParseIP("2001:db8::1")), ErrNotIPv4)
	runner.AssertExpectations(t)
}

func TestScriptBackend_CommandFailure(t *testing.T) {
	runner := &MockCommandRunner{}
	runner.On("RunInput", mock.Anything, "nft", "-f", "-").Return(errors.New("exit status 1")).Once()

	b, err := NewScriptBackend(runner, "", testOptions())
	require.NoError(t, err)
	err = b.Teardown()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "delete portal table")
}

func TestOptionsValidate(t *testing.T) {
	opts := testOptions()
	opts.GatewayIP = nil
	_, err := NewScriptBackend(&MockCommandRunner{}, "", opts)
	assert.ErrorIs(t, err, ErrNotIPv4)

	opts = testOptions()
	opts.Interface = ""
	_, err = NewScriptBackend(&MockCommandRunner{}, "", opts)
	assert.Error(t, err)
}
