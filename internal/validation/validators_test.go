package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateInterfaceName(t *testing.T) {
	for _, name := range []string{"br-lan", "eth0", "wlan0.10", "phy0-ap0"} {
		assert.NoError(t, ValidateInterfaceName(name), name)
	}
	for _, name := range []string{"", "averyveryverylongname", "eth0;ls", "br lan"} {
		assert.Error(t, ValidateInterfaceName(name), name)
	}
}

func TestValidateIdentifier(t *testing.T) {
	assert.NoError(t, ValidateIdentifier("lazoosplash"))
	assert.NoError(t, ValidateIdentifier("captive_v2"))
	assert.Error(t, ValidateIdentifier(""))
	assert.Error(t, ValidateIdentifier("with space"))
	assert.Error(t, ValidateIdentifier("dot.ted"))
}

func TestValidatePortNumber(t *testing.T) {
	assert.NoError(t, ValidatePortNumber(1))
	assert.NoError(t, ValidatePortNumber(65535))
	assert.Error(t, ValidatePortNumber(0))
	assert.Error(t, ValidatePortNumber(65536))
}

func TestValidateHostPort(t *testing.T) {
	assert.NoError(t, ValidateHostPort("127.0.0.1:6379"))
	assert.NoError(t, ValidateHostPort(":9100"))
	assert.NoError(t, ValidateHostPort("[::1]:9100"))
	assert.Error(t, ValidateHostPort("localhost"))
	assert.Error(t, ValidateHostPort("host:http"))
	assert.Error(t, ValidateHostPort("host:0"))
}

func TestValidateCommand(t *testing.T) {
	assert.NoError(t, ValidateCommand("/bin/sh"))
	assert.NoError(t, ValidateCommand("sysupgrade -n"))
	assert.Error(t, ValidateCommand(""))
	assert.Error(t, ValidateCommand("sysupgrade | sh"))
	assert.Error(t, ValidateCommand("rm `x`"))
}
