// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

/*
Package flagger runs the end-to-end pipeline of reading a packet capture,
reducing it to the distinct addresses observed, flagging the blacklisted
ones, enriching the flagged addresses with geographic metadata and finally
writing an audit record for each flagged address.

A run passes through the states Init, Loading, Capturing, Matching,
Enriching, Logging and finally Done. Only problems with the essential
resources while Loading abort a run (state Aborted); any later problems with
individual packets, lookups or audit records are absorbed and show up in the
run's [Report] instead.

Lookups run concurrently on a worker pool, while audit records get written in
the order the flagged addresses were first observed. Writing the audit record
for one address thus overlaps with the lookups of later addresses.
*/
package flagger
