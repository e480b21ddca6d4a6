// Package system performs the host-level actions the remote authority can
// request: firmware upgrades and trusted shell commands.
//
// Both are security sensitive. Every invocation is written to the audit
// log, and remote commands sit behind the [TrustedExecutor] interface so
// they can be disabled with remote_commands.enabled = false.
package system
