// Package arp discovers hosts on the local IPv4 segment and resolves single
// addresses to hardware addresses by sending ARP requests through a link
// handle and reading the answers from a reply dispatcher.
//
// A sweep registers a collector for every candidate before the first request
// leaves, sends requests in bursts ordered by prescan priority, and collects
// for the full sweep window regardless of when the requests complete.
// Optionally the operating system's ARP cache is merged into the result.
package arp
