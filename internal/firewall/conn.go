//go:build linux

package firewall

import (
	"github.com/google/nftables"
)

// Conn is the subset of nftables.Conn the portal backend uses.
type Conn interface {
	AddTable(t *nftables.Table) *nftables.Table
	DelTable(t *nftables.Table)
	ListTablesOfFamily(family nftables.TableFamily) ([]*nftables.Table, error)

	AddChain(c *nftables.Chain) *nftables.Chain
	AddRule(r *nftables.Rule) *nftables.Rule

	AddSet(s *nftables.Set, vals []nftables.SetElement) error
	GetSetElements(s *nftables.Set) ([]nftables.SetElement, error)
	SetAddElements(s *nftables.Set, vals []nftables.SetElement) error
	SetDeleteElements(s *nftables.Set, vals []nftables.SetElement) error

	Flush() error
}

// RealConn wraps the actual nftables.Conn.
type RealConn struct {
	conn *nftables.Conn
}

// NewRealConn opens a lasting netlink connection to nf_tables.
func NewRealConn() (*RealConn, error) {
	conn, err := nftables.New(nftables.AsLasting())
	if err != nil {
		return nil, err
	}
	return &RealConn{conn: conn}, nil
}

func (r *RealConn) AddTable(t *nftables.Table) *nftables.Table { return r.conn.AddTable(t) }

func (r *RealConn) DelTable(t *nftables.Table) { r.conn.DelTable(t) }

func (r *RealConn) ListTablesOfFamily(family nftables.TableFamily) ([]*nftables.Table, error) {
	return r.conn.ListTablesOfFamily(family)
}

func (r *RealConn) AddChain(c *nftables.Chain) *nftables.Chain { return r.conn.AddChain(c) }

func (r *RealConn) AddRule(rule *nftables.Rule) *nftables.Rule { return r.conn.AddRule(rule) }

func (r *RealConn) AddSet(s *nftables.Set, vals []nftables.SetElement) error {
	return r.conn.AddSet(s, vals)
}

func (r *RealConn) GetSetElements(s *nftables.Set) ([]nftables.SetElement, error) {
	return r.conn.GetSetElements(s)
}

func (r *RealConn) SetAddElements(s *nftables.Set, vals []nftables.SetElement) error {
	return r.conn.SetAddElements(s, vals)
}

func (r *RealConn) SetDeleteElements(s *nftables.Set, vals []nftables.SetElement) error {
	return r.conn.SetDeleteElements(s, vals)
}

func (r *RealConn) Flush() error { return r.conn.Flush() }

// Close releases the netlink socket.
func (r *RealConn) Close() error { return r.conn.CloseLasting() }
