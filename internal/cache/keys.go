package cache

import "time"

// Key builders for the call snapshot cache. Snapshots are short-lived: the
// live engine is authoritative and the cache only absorbs dashboard reads.
const (
	CallSnapshotTTL = 30 * time.Second
	CallListTTL     = 10 * time.Second
)

func CallKey(callID string) string { return "call:" + callID }

func CallListKey() string { return "calls:recent" }
