package cardlink

import "sort"

// ============================================================================
// Message Reconciliation
// ============================================================================

// ReconcileMessages merges the REST-fetched message list for a room with the
// buffer of push-delivered messages into one deduplicated, time-ordered
// sequence. REST and push are independent, unordered delivery paths; without
// a canonical identity and a stable merge, messages would double-render or
// jump order on reconnect.
//
// The function is pure: it never mutates its inputs and is recomputed from
// scratch on every change to either source, which is what makes lock-free
// merging of the two event streams safe.
//
// Rules:
//  1. Every message resolves to one identity: server id if present, else
//     the client idempotency id.
//  2. A record carrying both ids supersedes the optimistic local record that
//     is still keyed by the client id alone.
//  3. Duplicates keep the most complete record, preferring one that has a
//     server id (push delivery may arrive before or after the REST echo).
//  4. Output is ascending by sent timestamp, ties broken by resolved
//     identity so the order is deterministic.
func ReconcileMessages(rest, pushed []Message) []Message {
	byID := make(map[string]Message, len(rest)+len(pushed))
	// client id -> server id, for records observed with both
	alias := make(map[string]string)

	add := func(m Message) {
		id := m.ResolvedID()
		if id == "" {
			return
		}
		if m.ID != "" && m.ClientID != "" {
			if prev, ok := byID[m.ClientID]; ok && prev.ID == "" {
				// The acknowledged copy absorbs the optimistic local echo.
				delete(byID, m.ClientID)
				m = mergeRecords(m, prev)
			}
			alias[m.ClientID] = m.ID
		}
		if canonical, ok := alias[id]; ok {
			id = canonical
		}
		if cur, ok := byID[id]; ok {
			byID[id] = preferComplete(cur, m)
		} else {
			byID[id] = m
		}
	}

	for _, m := range rest {
		add(m)
	}
	for _, m := range pushed {
		add(m)
	}

	out := make([]Message, 0, len(byID))
	for _, m := range byID {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SentAt.Equal(out[j].SentAt) {
			return out[i].SentAt.Before(out[j].SentAt)
		}
		return out[i].ResolvedID() < out[j].ResolvedID()
	})
	return out
}

// preferComplete picks the better of two records for the same identity: one
// with a server id wins over one without; otherwise blanks are filled from
// the other copy.
func preferComplete(a, b Message) Message {
	if a.ID == "" && b.ID != "" {
		return mergeRecords(b, a)
	}
	return mergeRecords(a, b)
}

// mergeRecords fills empty fields of the kept record from the other copy.
func mergeRecords(keep, other Message) Message {
	if keep.ClientID == "" {
		keep.ClientID = other.ClientID
	}
	if keep.Sender == "" {
		keep.Sender = other.Sender
	}
	if keep.Content == "" {
		keep.Content = other.Content
	}
	if keep.SentAt.IsZero() {
		keep.SentAt = other.SentAt
	}
	if keep.RoomID == "" {
		keep.RoomID = other.RoomID
	}
	return keep
}
