// Package spoof runs ARP cache poisoning sessions between a target and its
// gateway. A session moves through created, resolving, active, stopping and
// stopped exactly once; the registry guarantees a single active session per
// target and interface.
package spoof
