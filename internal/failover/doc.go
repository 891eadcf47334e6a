// Package failover runs caller operations against an ordered list of RPC
// endpoints, moving to the next endpoint when one is given up on.
package failover
