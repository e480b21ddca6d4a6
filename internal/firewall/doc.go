// Package firewall owns the packet-filter state of the gateway.
//
// A Backend installs the captive-portal table and toggles per-address
// access. Two backends exist:
//   - NftBackend talks to the kernel over netlink with google/nftables
//   - ScriptBackend renders rule templates and feeds them to the nft CLI
//
// The Synchronizer sits in front of a Backend and makes Grant and Revoke
// idempotent by tracking installed addresses itself, so repeated calls never
// grow the ruleset. Callers serialize per-client changes through the session
// registry lock; the Synchronizer only guards its own bookkeeping.
package firewall
