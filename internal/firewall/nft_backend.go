//go:build linux

package firewall

import (
	"fmt"
	"net"
	"sync"

	"github.com/google/nftables"
	"github.com/google/nftables/binaryutil"
	"github.com/google/nftables/expr"
	"golang.org/x/sys/unix"
)

// IPv4 header offsets
const (
	ipv4SrcOffset = 12
	ipv4DstOffset = 16
	ipv4AddrLen   = 4
)

// NftBackend manages the portal table over netlink.
type NftBackend struct {
	conn Conn
	opts Options

	mu         sync.Mutex
	table      *nftables.Table
	authorized *nftables.Set
	whitelist  *nftables.Set
}

// NewNftBackend creates a backend on conn.
func NewNftBackend(conn Conn, opts Options) (*NftBackend, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &NftBackend{conn: conn, opts: opts}, nil
}

// OpenNftBackend creates a backend on a fresh kernel connection.
func OpenNftBackend(opts Options) (*NftBackend, error) {
	conn, err := NewRealConn()
	if err != nil {
		return nil, fmt.Errorf("open nftables connection: %w", err)
	}
	return NewNftBackend(conn, opts)
}

func (b *NftBackend) tableRef() *nftables.Table {
	return &nftables.Table{Family: nftables.TableFamilyINet, Name: b.opts.Table}
}

// Init removes any table left by a previous run and installs a fresh one,
// in a single netlink batch.
func (b *NftBackend) Init() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.queueDeleteTable(); err != nil {
		return err
	}

	table := b.conn.AddTable(b.tableRef())
	authorized := &nftables.Set{Table: table, Name: SetAuthorized, KeyType: nftables.TypeIPAddr}
	whitelist := &nftables.Set{Table: table, Name: SetWhitelist, KeyType: nftables.TypeIPAddr}
	if err := b.conn.AddSet(authorized, nil); err != nil {
		return fmt.Errorf("add set %s: %w", SetAuthorized, err)
	}
	if err := b.conn.AddSet(whitelist, nil); err != nil {
		return fmt.Errorf("add set %s: %w", SetWhitelist, err)
	}

	b.addPrerouting(table, authorized, whitelist)
	b.addInput(table, authorized)
	b.addForward(table, authorized, whitelist)

	if err := b.conn.Flush(); err != nil {
		return fmt.Errorf("install portal table: %w", err)
	}
	b.table, b.authorized, b.whitelist = table, authorized, whitelist
	return nil
}

// Teardown deletes the portal table if present.
func (b *NftBackend) Teardown() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.queueDeleteTable(); err != nil {
		return err
	}
	if err := b.conn.Flush(); err != nil {
		return fmt.Errorf("delete portal table: %w", err)
	}
	b.table, b.authorized, b.whitelist = nil, nil, nil
	return nil
}

func (b *NftBackend) queueDeleteTable() error {
	tables, err := b.conn.ListTablesOfFamily(nftables.TableFamilyINet)
	if err != nil {
		return fmt.Errorf("list tables: %w", err)
	}
	for _, t := range tables {
		if t.Name == b.opts.Table {
			b.conn.DelTable(t)
		}
	}
	return nil
}

// Allow adds ip to the authorized set.
func (b *NftBackend) Allow(ip net.IP) error {
	return b.setOp(func() *nftables.Set { return b.authorized }, ip, true)
}

// Disallow removes ip from the authorized set.
func (b *NftBackend) Disallow(ip net.IP) error {
	return b.setOp(func() *nftables.Set { return b.authorized }, ip, false)
}

// AllowPassthrough adds ip to the whitelist set.
func (b *NftBackend) AllowPassthrough(ip net.IP) error {
	return b.setOp(func() *nftables.Set { return b.whitelist }, ip, true)
}

// DisallowPassthrough removes ip from the whitelist set.
func (b *NftBackend) DisallowPassthrough(ip net.IP) error {
	return b.setOp(func() *nftables.Set { return b.whitelist }, ip, false)
}

func (b *NftBackend) setOp(get func() *nftables.Set, ip net.IP, add bool) error {
	v4 := ip.To4()
	if v4 == nil {
		return fmt.Errorf("%v: %w", ip, ErrNotIPv4)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	set := get()
	if set == nil {
		return fmt.Errorf("portal table not initialized")
	}
	elems := []nftables.SetElement{{Key: v4}}

	var err error
	if add {
		err = b.conn.SetAddElements(set, elems)
	} else {
		err = b.conn.SetDeleteElements(set, elems)
	}
	if err != nil {
		return fmt.Errorf("update set %s: %w", set.Name, err)
	}
	if err := b.conn.Flush(); err != nil {
		return fmt.Errorf("update set %s for %v: %w", set.Name, v4, err)
	}
	return nil
}

// Elements lists the addresses currently in the named set.
func (b *NftBackend) Elements(setName string) ([]net.IP, error) {
	b.mu.Lock()
	var set *nftables.Set
	switch setName {
	case SetAuthorized:
		set = b.authorized
	case SetWhitelist:
		set = b.whitelist
	}
	b.mu.Unlock()
	if set == nil {
		return nil, fmt.Errorf("unknown or uninitialized set %q", setName)
	}

	elems, err := b.conn.GetSetElements(set)
	if err != nil {
		return nil, err
	}
	ips := make([]net.IP, 0, len(elems))
	for _, e := range elems {
		ips = append(ips, net.IP(e.Key))
	}
	return ips, nil
}

// prerouting: unauthorized clients' HTTP to non-whitelisted hosts is
// redirected to the portal.
func (b *NftBackend) addPrerouting(table *nftables.Table, authorized, whitelist *nftables.Set) {
	policy := nftables.ChainPolicyAccept
	chain := b.conn.AddChain(&nftables.Chain{
		Name:     "prerouting",
		Table:    table,
		Type:     nftables.ChainTypeNAT,
		Hooknum:  nftables.ChainHookPrerouting,
		Priority: nftables.ChainPriorityNATDest,
		Policy:   &policy,
	})

	exprs := b.matchIface()
	exprs = append(exprs, matchIPv4()...)
	exprs = append(exprs, matchSet(authorized, ipv4SrcOffset, true)...)
	exprs = append(exprs, matchSet(whitelist, ipv4DstOffset, true)...)
	exprs = append(exprs, matchTCPPort(80)...)
	exprs = append(exprs,
		&expr.Immediate{Register: 1, Data: b.opts.GatewayIP.To4()},
		&expr.Immediate{Register: 2, Data: binaryutil.BigEndian.PutUint16(b.opts.PortalPort)},
		&expr.NAT{
			Type:        expr.NATTypeDestNAT,
			Family:      unix.NFPROTO_IPV4,
			RegAddrMin:  1,
			RegProtoMin: 2,
		},
	)
	b.conn.AddRule(&nftables.Rule{Table: table, Chain: chain, Exprs: exprs})
}

// input: clients may reach the portal, DNS and DHCP; authorized clients and
// replies are accepted; everything else from the LAN interface is dropped.
func (b *NftBackend) addInput(table *nftables.Table, authorized *nftables.Set) {
	policy := nftables.ChainPolicyAccept
	chain := b.conn.AddChain(&nftables.Chain{
		Name:     "input",
		Table:    table,
		Type:     nftables.ChainTypeFilter,
		Hooknum:  nftables.ChainHookInput,
		Priority: nftables.ChainPriorityFilter,
		Policy:   &policy,
	})

	accept := func(match ...expr.Any) {
		exprs := append(b.matchIface(), match...)
		exprs = append(exprs, &expr.Verdict{Kind: expr.VerdictAccept})
		b.conn.AddRule(&nftables.Rule{Table: table, Chain: chain, Exprs: exprs})
	}

	accept(matchTCPPort(b.opts.PortalPort)...)
	accept(matchTCPPort(53)...)
	accept(matchUDPPort(53)...)
	accept(matchUDPPort(67)...)
	accept(append(matchIPv4(), matchSet(authorized, ipv4SrcOffset, false)...)...)
	accept(matchEstablished()...)

	drop := append(b.matchIface(), &expr.Verdict{Kind: expr.VerdictDrop})
	b.conn.AddRule(&nftables.Rule{Table: table, Chain: chain, Exprs: drop})
}

// forward: only authorized sources or whitelisted destinations leave the LAN.
func (b *NftBackend) addForward(table *nftables.Table, authorized, whitelist *nftables.Set) {
	policy := nftables.ChainPolicyAccept
	chain := b.conn.AddChain(&nftables.Chain{
		Name:     "forward",
		Table:    table,
		Type:     nftables.ChainTypeFilter,
		Hooknum:  nftables.ChainHookForward,
		Priority: nftables.ChainPriorityFilter,
		Policy:   &policy,
	})

	for _, m := range [][]expr.Any{
		matchSet(authorized, ipv4SrcOffset, false),
		matchSet(whitelist, ipv4DstOffset, false),
	} {
		exprs := b.matchIface()
		exprs = append(exprs, matchIPv4()...)
		exprs = append(exprs, m...)
		exprs = append(exprs, &expr.Verdict{Kind: expr.VerdictAccept})
		b.conn.AddRule(&nftables.Rule{Table: table, Chain: chain, Exprs: exprs})
	}

	drop := append(b.matchIface(), &expr.Verdict{Kind: expr.VerdictDrop})
	b.conn.AddRule(&nftables.Rule{Table: table, Chain: chain, Exprs: drop})
}

func (b *NftBackend) matchIface() []expr.Any {
	return []expr.Any{
		&expr.Meta{Key: expr.MetaKeyIIFNAME, Register: 1},
		&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: ifname(b.opts.Interface)},
	}
}

func matchIPv4() []expr.Any {
	return []expr.Any{
		&expr.Meta{Key: expr.MetaKeyNFPROTO, Register: 1},
		&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: []byte{unix.NFPROTO_IPV4}},
	}
}

func matchSet(set *nftables.Set, offset uint32, invert bool) []expr.Any {
	return []expr.Any{
		&expr.Payload{
			DestRegister: 1,
			Base:         expr.PayloadBaseNetworkHeader,
			Offset:       offset,
			Len:          ipv4AddrLen,
		},
		&expr.Lookup{
			SourceRegister: 1,
			SetName:        set.Name,
			SetID:          set.ID,
			Invert:         invert,
		},
	}
}

func matchTCPPort(port uint16) []expr.Any { return matchPort(unix.IPPROTO_TCP, port) }

func matchUDPPort(port uint16) []expr.Any { return matchPort(unix.IPPROTO_UDP, port) }

func matchPort(proto byte, port uint16) []expr.Any {
	return []expr.Any{
		&expr.Meta{Key: expr.MetaKeyL4PROTO, Register: 1},
		&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: []byte{proto}},
		&expr.Payload{
			DestRegister: 1,
			Base:         expr.PayloadBaseTransportHeader,
			Offset:       2, // Destination port offset
			Len:          2,
		},
		&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: binaryutil.BigEndian.PutUint16(port)},
	}
}

func matchEstablished() []expr.Any {
	mask := binaryutil.NativeEndian.PutUint32(expr.CtStateBitESTABLISHED | expr.CtStateBitRELATED)
	return []expr.Any{
		&expr.Ct{Key: expr.CtKeySTATE, Register: 1},
		&expr.Bitwise{
			SourceRegister: 1,
			DestRegister:   1,
			Len:            4,
			Mask:           mask,
			Xor:            binaryutil.NativeEndian.PutUint32(0),
		},
		&expr.Cmp{Op: expr.CmpOpNeq, Register: 1, Data: binaryutil.NativeEndian.PutUint32(0)},
	}
}

// ifname pads an interface name to IFNAMSIZ the way the kernel compares it.
func ifname(n string) []byte {
	b := make([]byte, unix.IFNAMSIZ)
	copy(b, n)
	return b
}
