// Package bias decides which interactions feed the bias pipeline and computes
// exposure metrics from the accumulated interaction log.
package bias

// DefaultKinds is the built-in allow-list of interaction kinds that trigger
// metric recomputation. It can be overridden through the study config file.
var DefaultKinds = []string{
	"mouseout_item",
	"mouseout_group",
	"click_group",
	"click_add_item",
	"click_remove_item",
	"mouseover_item",
}

// Classifier tests interaction kinds against the configured allow-list.
type Classifier struct {
	kinds map[string]struct{}
}

// NewClassifier builds a classifier from the given allow-list. An empty list
// falls back to DefaultKinds.
func NewClassifier(kinds []string) *Classifier {
	if len(kinds) == 0 {
		kinds = DefaultKinds
	}
	set := make(map[string]struct{}, len(kinds))
	for _, k := range kinds {
		set[k] = struct{}{}
	}
	return &Classifier{kinds: set}
}

// Relevant reports whether the interaction kind is bias-relevant.
func (c *Classifier) Relevant(kind string) bool {
	_, ok := c.kinds[kind]
	return ok
}
