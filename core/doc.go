// Package core contains the dataspace protocol domain: contract negotiation
// and transfer process records, their transition tables, the inbound message
// handler and the process manager that drives outbound delivery. Adapters
// (HTTP transport, SQL stores, credential verification) depend on this
// package; core must not depend on them.
package core
