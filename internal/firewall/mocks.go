package firewall

import (
	"net"
	"sort"
	"sync"

	"github.com/stretchr/testify/mock"
)

// MockBackend records calls and keeps the resulting address sets in memory.
// Every method consults the mock expectations for its error, so tests set
// them up with On(...).Return(nil) or Maybe().
type MockBackend struct {
	mock.Mock
	mu          sync.Mutex
	authorized  map[string]bool
	passthrough map[string]bool
}

// NewMockBackend creates a MockBackend.
func NewMockBackend() *MockBackend {
	return &MockBackend{
		authorized:  make(map[string]bool),
		passthrough: make(map[string]bool),
	}
}

// Permissive makes every call succeed unless a more specific expectation was
// registered first.
func (m *MockBackend) Permissive() *MockBackend {
	for _, method := range []string{"Init", "Teardown"} {
		m.On(method).Return(nil).Maybe()
	}
	for _, method := range []string{"Allow", "Disallow", "AllowPassthrough", "DisallowPassthrough"} {
		m.On(method, mock.Anything).Return(nil).Maybe()
	}
	return m
}

func (m *MockBackend) Init() error {
	err := m.Called().Error(0)
	if err == nil {
		m.mu.Lock()
		m.authorized = make(map[string]bool)
		m.passthrough = make(map[string]bool)
		m.mu.Unlock()
	}
	return err
}

func (m *MockBackend) Teardown() error {
	err := m.Called().Error(0)
	if err == nil {
		m.mu.Lock()
		m.authorized = make(map[string]bool)
		m.passthrough = make(map[string]bool)
		m.mu.Unlock()
	}
	return err
}

func (m *MockBackend) Allow(ip net.IP) error {
	return m.apply("Allow", m.authorized, ip, true)
}

func (m *MockBackend) Disallow(ip net.IP) error {
	return m.apply("Disallow", m.authorized, ip, false)
}

func (m *MockBackend) AllowPassthrough(ip net.IP) error {
	return m.apply("AllowPassthrough", m.passthrough, ip, true)
}

func (m *MockBackend) DisallowPassthrough(ip net.IP) error {
	return m.apply("DisallowPassthrough", m.passthrough, ip, false)
}

func (m *MockBackend) apply(method string, set map[string]bool, ip net.IP, add bool) error {
	err := m.MethodCalled(method, ip.String()).Error(0)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if add {
		set[ip.String()] = true
	} else {
		delete(set, ip.String())
	}
	return nil
}

// Authorized returns the addresses the backend currently allows, sorted.
func (m *MockBackend) Authorized() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedBoolKeys(m.authorized)
}

// Whitelisted returns the passthrough destinations, sorted.
func (m *MockBackend) Whitelisted() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedBoolKeys(m.passthrough)
}

func sortedBoolKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// MockCommandRunner is a mock implementation of CommandRunner for testing.
type MockCommandRunner struct {
	mock.Mock
}

func (m *MockCommandRunner) Run(name string, args ...string) error {
	callArgs := make([]interface{}, 0, len(args)+1)
	callArgs = append(callArgs, name)
	for _, a := range args {
		callArgs = append(callArgs, a)
	}
	return m.Called(callArgs...).Error(0)
}

func (m *MockCommandRunner) RunInput(input string, name string, args ...string) error {
	callArgs := make([]interface{}, 0, len(args)+2)
	callArgs = append(callArgs, input, name)
	for _, a := range args {
		callArgs = append(callArgs, a)
	}
	return m.Called(callArgs...).Error(0)
}
