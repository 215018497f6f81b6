// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

/*
Package geo enriches flagged addresses with geographic metadata from an
ipinfo.io-style lookup service.

A [Client] issues exactly one bounded-time lookup per address and never
returns errors: any kind of failure becomes the Failure variant of the
returned [types.EnrichmentResult].

Clients can optionally be wrapped:
  - [Retrying] repeats lookups failing with transient errors, using
    exponential backoff.
  - [Cached] serves lookups from a [Cache], such as the cache shared across
    runs returned by [NewRedisCache].

An [Enricher] finally runs lookups on a goroutine-limited worker pool, handing
out a future per lookup so that results can be consumed in any desired order.
*/
package geo
