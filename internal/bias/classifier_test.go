package bias

import "testing"

func TestClassifierDefaults(t *testing.T) {
	c := NewClassifier(nil)

	cases := []struct {
		kind string
		want bool
	}{
		{"click_group", true},
		{"mouseout_item", true},
		{"mouseover_item", true},
		{"click_add_item", true},
		{"click_remove_item", true},
		{"mouseout_group", true},
		{"scroll", false},
		{"mouseover_item_irrelevant", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := c.Relevant(tc.kind); got != tc.want {
			t.Errorf("Relevant(%q) = %v, want %v", tc.kind, got, tc.want)
		}
	}
}

func TestClassifierConfiguredList(t *testing.T) {
	c := NewClassifier([]string{"drag_item"})

	if !c.Relevant("drag_item") {
		t.Fatalf("configured kind must be relevant")
	}
	if c.Relevant("click_group") {
		t.Fatalf("default kinds must not apply when a list is configured")
	}
}
