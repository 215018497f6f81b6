/*
Package types defines blackdig's information model. It revolves around the
[Address] observed in captured traffic, the [EnrichmentResult] of looking up a
flagged address at a geolocation service, and the [AuditRecord] finally written
to the audit trail.

# Addresses

Addresses are plain strings in normalized form, so that equality and hashing
simply work on the string value: IP addresses get parsed and rendered again in
their canonical textual form, so "::ffff:10.0.0.1" and "10.0.0.1" are the same
address, and so are "2001:DB8::1" and "2001:db8::1". Anything not looking like
an IP address is kept as is, minus surrounding white space. The zero Address is
the “no address” sentinel and never part of any address set.

# Enrichment Results

An [EnrichmentResult] is a tagged variant: either it carries [Geo] information
(where each of the individual fields might be missing), or it carries a
[Failure] describing why the lookup failed. Failures are values, not errors
that get propagated: a failed lookup still results in an audit record.
*/
package types
