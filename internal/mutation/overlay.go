package mutation

import "github.com/trailpack/trailpack/internal/lists"

type opKind int

const (
	opCreate opKind = iota
	opRename
	opAppend
	opCheck
	opReplace
	opDelete
)

// overlay is one pending intent layered over the latest snapshot.
type overlay struct {
	seq    uint64
	listID string
	kind   opKind

	list    lists.EquipmentList
	title   string
	item    lists.EquipmentItem
	index   int
	checked bool
	items   []lists.EquipmentItem

	// baseVersion is the list's snapshot version when the intent was made.
	baseVersion int64
	// knownIDs are the snapshot's list ids when a create was made.
	knownIDs    map[string]struct{}
	acked       bool
	version     int64
}

// reflectedIn reports whether a snapshot already contains this write.
func (o *overlay) reflectedIn(snapshot map[string]lists.EquipmentList) bool {
	l, ok := snapshot[o.listID]
	switch o.kind {
	case opDelete:
		return !ok
	case opCreate:
		return ok && l.Version >= o.version
	default:
		// A list that disappeared was deleted elsewhere; nothing left to show.
		return !ok || l.Version >= o.version
	}
}

// maybeInSnapshot reports whether an unacknowledged write could already be in
// base, where applying it again would show it twice. Only appends and creates
// are affected; the other writes set absolute values.
func (o *overlay) maybeInSnapshot(base []lists.EquipmentList) bool {
	if o.acked {
		return false
	}
	switch o.kind {
	case opAppend:
		for _, l := range base {
			if l.ID == o.listID {
				return l.Version > o.baseVersion
			}
		}
	case opCreate:
		for _, l := range base {
			if _, known := o.knownIDs[l.ID]; !known && l.Title == o.list.Title {
				return true
			}
		}
	}
	return false
}

func (o *overlay) apply(view []lists.EquipmentList) []lists.EquipmentList {
	if o.kind == opCreate {
		for _, l := range view {
			if l.ID == o.listID {
				return view
			}
		}
		return append(view, o.list.Clone())
	}

	for i := range view {
		if view[i].ID != o.listID {
			continue
		}
		l := &view[i]
		switch o.kind {
		case opRename:
			l.Title = o.title
		case opAppend:
			l.Items = append(l.Items, o.item)
		case opCheck:
			if o.index >= 0 && o.index < len(l.Items) {
				l.Items[o.index].Checked = o.checked
			}
		case opReplace:
			l.Items = append([]lists.EquipmentItem(nil), o.items...)
		case opDelete:
			return append(view[:i:i], view[i+1:]...)
		}
		return view
	}
	return view
}
