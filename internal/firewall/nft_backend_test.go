//go:build linux

package firewall

import (
	"errors"
	"net"
	"testing"

	"github.com/google/nftables"
	"github.com/google/nftables/expr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestNftBackend_InitBuildsPortalTable(t *testing.T) {
	conn := NewMockConn().Permissive()
	b, err := NewNftBackend(conn, testOptions())
	require.NoError(t, err)
	require.NoError(t, b.Init())

	assert.Equal(t, []string{"lazoosplash"}, conn.TableNames())
	assert.Equal(t, []string{
		"lazoosplash/forward",
		"lazoosplash/input",
		"lazoosplash/prerouting",
	}, conn.ChainNames())
	assert.Equal(t, 1, conn.RuleCount("lazoosplash", "prerouting"))
	assert.Equal(t, 3, conn.RuleCount("lazoosplash", "forward"))
	assert.Equal(t, 7, conn.RuleCount("lazoosplash", "input"))
	assert.Equal(t, 1, conn.Flushes(), "table is installed in one batch")
}

func TestNftBackend_InitReplacesStaleTable(t *testing.T) {
	conn := NewMockConn().Permissive()
	b, err := NewNftBackend(conn, testOptions())
	require.NoError(t, err)

	require.NoError(t, b.Init())
	require.NoError(t, b.Allow(net.ParseIP("10.0.0.5")))
	require.NoError(t, b.Init())

	conn.AssertCalled(t, "DelTable", mock.MatchedBy(func(tbl *nftables.Table) bool {
		return tbl.Name == "lazoosplash"
	}))
	assert.Empty(t, conn.Elements(SetAuthorized))
	assert.Equal(t, 3, conn.RuleCount("lazoosplash", "forward"), "rules are not duplicated")
}

func TestNftBackend_PreroutingRedirectsToPortal(t *testing.T) {
	conn := NewMockConn().Permissive()
	b, err := NewNftBackend(conn, testOptions())
	require.NoError(t, err)
	require.NoError(t, b.Init())

	var rule *nftables.Rule
	for _, c := range conn.Calls {
		if c.Method != "AddRule" {
			continue
		}
		r := c.Arguments.Get(0).(*nftables.Rule)
		if r.Chain.Name == "prerouting" {
			rule = r
		}
	}
	require.NotNil(t, rule)

	var lookups []*expr.Lookup
	var nat *expr.NAT
	for _, e := range rule.Exprs {
		switch v := e.(type) {
		case *expr.Lookup:
			lookups = append(lookups, v)
		case *expr.NAT:
			nat = v
		}
	}
	require.Len(t, lookups, 2)
	assert.Equal(t, SetAuthorized, lookups[0].SetName)
	assert.True(t, lookups[0].Invert)
	assert.Equal(t, SetWhitelist, lookups[1].SetName)
	assert.True(t, lookups[1].Invert)
	require.NotNil(t, nat)
	assert.Equal(t, expr.NATTypeDestNAT, nat.Type)
}

func TestNftBackend_SetElements(t *testing.T) {
	conn := NewMockConn().Permissive()
	b, err := NewNftBackend(conn, testOptions())
	require.NoError(t, err)

	assert.Error(t, b.Allow(net.ParseIP("10.0.0.5")), "table must be initialized first")

	require.NoError(t, b.Init())
	require.NoError(t, b.Allow(net.ParseIP("10.0.0.5")))
	require.NoError(t, b.Allow(net.ParseIP("10.0.0.6")))
	require.NoError(t, b.Disallow(net.ParseIP("10.0.0.5")))
	require.NoError(t, b.AllowPassthrough(net.ParseIP("1.1.1.1")))

	assert.Equal(t, []string{"10.0.0.6"}, conn.Elements(SetAuthorized))
	assert.Equal(t, []string{"1.1.1.1"}, conn.Elements(SetWhitelist))

	ips, err := b.Elements(SetAuthorized)
	require.NoError(t, err)
	require.Len(t, ips, 1)
	assert.Equal(t, "10.0.0.6", ips[0].String())
}

func TestNftBackend_FlushFailure(t *testing.T) {
	conn := NewMockConn()
	conn.On("Flush").Return(errors.New("operation not permitted")).Once()
	conn.Permissive()

	b, err := NewNftBackend(conn, testOptions())
	require.NoError(t, err)
	err = b.Init()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "install portal table")

	assert.Error(t, b.Allow(net.ParseIP("10.0.0.5")), "failed init leaves no sets")
}

func TestNftBackend_Teardown(t *testing.T) {
	conn := NewMockConn().Permissive()
	b, err := NewNftBackend(conn, testOptions())
	require.NoError(t, err)

	require.NoError(t, b.Teardown(), "teardown without a table is fine")
	conn.AssertNotCalled(t, "DelTable", mock.Anything)

	require.NoError(t, b.Init())
	require.NoError(t, b.Teardown())
	assert.Empty(t, conn.TableNames())
}
