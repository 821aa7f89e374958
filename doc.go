// Copyright (c) 2025-2026 The wescan developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
wescan scans Cloudflare WARP endpoints for reachability and latency.

It registers a throwaway WARP account (or reuses supplied credentials),
samples candidate endpoints from the known WARP address blocks, routes a
proxy core process through each candidate, measures diagnostic request
latency through the resulting local proxy, and writes a ranked report of the
healthy endpoints.

Usage:

	wescan [OPTIONS]

Application Options:

	-V, --version         Display version information and exit
	-C, --configfile=     Path to configuration file
	-A, --appdata=        Path to application home directory
	    --logdir=         Directory to log output
	    --nofilelogging   Disable file logging
	-d, --debuglevel=     Logging level for all subsystems {trace, debug,
	                      info, warn, error, critical} -- You may also
	                      specify <subsystem>=<level>,... to set the log
	                      level for individual subsystems
	    --corebin=        Path to the proxy core executable
	    --workdir=        Directory for per-probe core work directories
	    --keepworkdirs    Do not remove per-probe work directories on
	                      teardown
	    --workers=        Maximum number of candidates probed concurrently
	    --baseport=       First local port assigned to core inbound
	                      listeners
	    --inbound=        Local proxy protocol the core exposes (http or
	                      socks)
	    --readytimeout=   Maximum time to wait for a core inbound listener
	                      to become ready
	    --stoptimeout=    Maximum time to wait for a core process to exit
	                      gracefully before killing it
	    --probebudget=    Wall-clock budget covering one candidate's full
	                      launch, probe, and teardown cycle
	    --testurl=        Diagnostic URL requested through each candidate
	    --tries=          Number of diagnostic requests issued per candidate
	    --requesttimeout= Timeout for each individual diagnostic request
	    --latency=        Latency aggregation policy (mean, min, or median)
	    --numipv4=        Number of IPv4 candidates to sample
	    --numipv6=        Number of IPv6 candidates to sample
	    --range=          Additional CIDR range to sample candidates from
	    --seed=           Fixed host:port endpoint that is always probed
	    --maxcandidates=  Cap on the total number of candidates probed in
	                      one run
	    --apiurl=         WARP registration API endpoint
	    --privatekey=     Base64 WireGuard private key of an existing WARP
	                      account
	    --peerpublickey=  Base64 WireGuard public key of the WARP peer
	    --clientipv6=     IPv6 interface address assigned to the WARP
	                      account
	    --clientid=       Base64 client ID assigned to the WARP account
	-o, --output=         Path the report is written to
	    --format=         Report format (markdown or text)
	    --topn=           Maximum number of endpoints per address family in
	                      the report
	    --profile=        Enable HTTP profiling on given [addr:]port
	    --cpuprofile=     Write CPU profile to the specified file
	    --memprofile=     Write mem profile to the specified file

Help Options:

	-h, --help            Show this help message
*/
package main
