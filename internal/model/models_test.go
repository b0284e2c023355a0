package model

import (
	"reflect"
	"testing"
)

func TestNewsTagRoundtrip(t *testing.T) {
	n := &News{}
	n.SetTagList([]string{" breaking ", "", "politics", "  "})
	if n.Tags != "breaking,politics" {
		t.Fatalf("expected normalized tags, got %q", n.Tags)
	}
	if got := n.TagList(); !reflect.DeepEqual(got, []string{"breaking", "politics"}) {
		t.Fatalf("unexpected tag list: %v", got)
	}
}

func TestNewsTagListEmpty(t *testing.T) {
	n := &News{Tags: "  "}
	if got := n.TagList(); len(got) != 0 {
		t.Fatalf("expected empty list, got %v", got)
	}

	n.Tags = " , ,"
	if got := n.TagList(); len(got) != 0 {
		t.Fatalf("expected empty list for separators only, got %v", got)
	}
}
