package canvas

// palette holds the colors assigned to users. Two users may share a
// color once more than len(palette) identities hash to it; that's
// acceptable.
var palette = []string{
	"#e74c3c", "#9b59b6", "#3498db", "#1abc9c",
	"#f39c12", "#2ecc71", "#e84393", "#00b894",
	"#0984e3", "#fd79a8", "#fdcb6e", "#636e72",
}

// ColorFor maps an identity string to a palette color. It is a pure
// function of the id, so a user keeps the same color across
// reconnects and across rooms.
func ColorFor(id string) string {
	var hash int32
	for _, c := range id {
		hash = int32(c) + (hash << 5) - hash
	}

	idx := int(hash)
	if idx < 0 {
		idx = -idx
	}

	return palette[idx%len(palette)]
}
