package trace

import "sort"

// RelatedItem is one edge seen from a given identifier.
type RelatedItem struct {
	ID         string     `json:"id"`
	Namespace  string     `json:"namespace"`
	Kind       Kind       `json:"kind"`
	Direction  string     `json:"direction"`
	Confidence Confidence `json:"confidence"`
	Source     Location   `json:"source"`
}

// Related lists every edge touching id, mentions included.
func Related(ids map[string]*Identifier, rels []Relationship, id string) []RelatedItem {
	var out []RelatedItem
	for _, r := range rels {
		var other, dir string
		switch id {
		case r.FromID:
			other, dir = r.ToID, "outgoing"
		case r.ToID:
			other, dir = r.FromID, "incoming"
		default:
			continue
		}
		ns := ""
		if ident := ids[other]; ident != nil {
			ns = ident.Namespace
		}
		out = append(out, RelatedItem{
			ID:         other,
			Namespace:  ns,
			Kind:       r.Kind,
			Direction:  dir,
			Confidence: r.Confidence,
			Source:     r.SourceLocation,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ID != out[j].ID {
			return out[i].ID < out[j].ID
		}
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Direction < out[j].Direction
	})
	return out
}
