//go:build linux

package firewall

import (
	"net"
	"sort"
	"sync"

	"github.com/google/nftables"
	"github.com/stretchr/testify/mock"
)

// MockConn is a mock implementation of Conn that keeps tables, chains, rules
// and set elements in memory. Changes apply immediately rather than on Flush.
type MockConn struct {
	mock.Mock
	mu sync.Mutex

	tables   map[string]*nftables.Table
	chains   map[string]*nftables.Chain
	rules    map[string][]*nftables.Rule
	elements map[string]map[string]bool // set name -> key
	flushes  int
}

// NewMockConn creates a new mock nftables connection.
func NewMockConn() *MockConn {
	m := &MockConn{}
	m.reset()
	return m
}

func (m *MockConn) reset() {
	m.tables = make(map[string]*nftables.Table)
	m.chains = make(map[string]*nftables.Chain)
	m.rules = make(map[string][]*nftables.Rule)
	m.elements = make(map[string]map[string]bool)
}

// Permissive makes every call succeed unless a more specific expectation was
// registered first.
func (m *MockConn) Permissive() *MockConn {
	m.On("AddTable", mock.Anything).Return().Maybe()
	m.On("DelTable", mock.Anything).Return().Maybe()
	m.On("ListTablesOfFamily", mock.Anything).Return(nil, nil).Maybe()
	m.On("AddChain", mock.Anything).Return().Maybe()
	m.On("AddRule", mock.Anything).Return().Maybe()
	m.On("AddSet", mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("GetSetElements", mock.Anything).Return(nil, nil).Maybe()
	m.On("SetAddElements", mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("SetDeleteElements", mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("Flush").Return(nil).Maybe()
	return m
}

func (m *MockConn) AddTable(t *nftables.Table) *nftables.Table {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Called(t)
	m.tables[t.Name] = t
	return t
}

func (m *MockConn) DelTable(t *nftables.Table) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Called(t)
	delete(m.tables, t.Name)
	for key, c := range m.chains {
		if c.Table.Name == t.Name {
			delete(m.chains, key)
			delete(m.rules, key)
		}
	}
	for _, set := range []string{SetAuthorized, SetWhitelist} {
		delete(m.elements, set)
	}
}

func (m *MockConn) ListTablesOfFamily(family nftables.TableFamily) ([]*nftables.Table, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	args := m.Called(family)
	if args.Get(0) != nil {
		return args.Get(0).([]*nftables.Table), args.Error(1)
	}
	tables := make([]*nftables.Table, 0, len(m.tables))
	for _, t := range m.tables {
		if t.Family == family {
			tables = append(tables, t)
		}
	}
	return tables, args.Error(1)
}

func (m *MockConn) AddChain(c *nftables.Chain) *nftables.Chain {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Called(c)
	m.chains[c.Table.Name+"/"+c.Name] = c
	return c
}

func (m *MockConn) AddRule(r *nftables.Rule) *nftables.Rule {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Called(r)
	key := r.Table.Name + "/" + r.Chain.Name
	m.rules[key] = append(m.rules[key], r)
	return r
}

func (m *MockConn) AddSet(s *nftables.Set, vals []nftables.SetElement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	args := m.Called(s, vals)
	if err := args.Error(0); err != nil {
		return err
	}
	m.elements[s.Name] = make(map[string]bool)
	for _, v := range vals {
		m.elements[s.Name][net.IP(v.Key).String()] = true
	}
	return nil
}

func (m *MockConn) GetSetElements(s *nftables.Set) ([]nftables.SetElement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	args := m.Called(s)
	if args.Get(0) != nil {
		return args.Get(0).([]nftables.SetElement), args.Error(1)
	}
	var out []nftables.SetElement
	for _, k := range sortedBoolKeys(m.elements[s.Name]) {
		out = append(out, nftables.SetElement{Key: net.ParseIP(k).To4()})
	}
	return out, args.Error(1)
}

func (m *MockConn) SetAddElements(s *nftables.Set, vals []nftables.SetElement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.Called(s, vals).Error(0); err != nil {
		return err
	}
	if m.elements[s.Name] == nil {
		m.elements[s.Name] = make(map[string]bool)
	}
	for _, v := range vals {
		m.elements[s.Name][net.IP(v.Key).String()] = true
	}
	return nil
}

func (m *MockConn) SetDeleteElements(s *nftables.Set, vals []nftables.SetElement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.Called(s, vals).Error(0); err != nil {
		return err
	}
	for _, v := range vals {
		delete(m.elements[s.Name], net.IP(v.Key).String())
	}
	return nil
}

func (m *MockConn) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.Called().Error(0); err != nil {
		return err
	}
	m.flushes++
	return nil
}

// Helper methods for test assertions

// TableNames returns the names of existing tables, sorted.
func (m *MockConn) TableNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.tables))
	for n := range m.tables {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ChainNames returns "table/chain" keys, sorted.
func (m *MockConn) ChainNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.chains))
	for n := range m.chains {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// RuleCount returns the number of rules in table/chain.
func (m *MockConn) RuleCount(table, chain string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rules[table+"/"+chain])
}

// Elements returns the members of a set, sorted.
func (m *MockConn) Elements(set string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedBoolKeys(m.elements[set])
}

// Flushes returns how many batches were committed.
func (m *MockConn) Flushes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushes
}
