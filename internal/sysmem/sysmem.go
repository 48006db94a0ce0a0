// Package sysmem reports the total physical memory of the host.
//
// The query is platform-specific (sysinfo on Linux, sysctl on Darwin) and is
// consulted exactly once at startup to size the anonymous-page budget. The
// result is advisory; there is no fallback if the probe fails.
package sysmem
