package agent

import (
	"strings"
	"testing"

	"github.com/nugget/talentscout/internal/mcp"
)

func TestToolbox_Collisions(t *testing.T) {
	tb := NewToolbox(quietLogger(),
		staticFunction("search", "sixtyfour", "a"),
		staticFunction("get_company", "mixrank", "b"),
		staticFunction("search", "Mix Rank", "c"),
		staticFunction("search", "Mix-Rank", "d"), // same namespaced name, dropped
		nil,
	)

	want := []string{"search", "get_company", "mcp_mix_rank_search"}
	if got := tb.Names(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("Names() = %v, want %v", got, want)
	}
	if fn := tb.Lookup("search"); fn == nil || fn.Server != "sixtyfour" {
		t.Errorf("search resolves to %+v, want the first server's", fn)
	}
	if fn := tb.Lookup("mcp_mix_rank_search"); fn == nil || fn.Server != "Mix Rank" {
		t.Errorf("namespaced lookup = %+v", fn)
	}
	if tb.Lookup("missing") != nil {
		t.Error("Lookup(missing) should be nil")
	}
}

func TestToolbox_Definitions(t *testing.T) {
	schema := map[string]any{"type": "object", "properties": map[string]any{"company": map[string]any{"type": "string"}}}
	fn := mcp.NewFunction("get_recent_layoffs_from", "Recent layoffs", schema, "mixrank", nil)

	defs := NewToolbox(nil, fn).Definitions()
	if len(defs) != 1 {
		t.Fatalf("defs = %v", defs)
	}
	f, _ := defs[0]["function"].(map[string]any)
	if f["name"] != "get_recent_layoffs_from" || f["description"] != "Recent layoffs" {
		t.Errorf("function = %v", f)
	}
	if p, _ := f["parameters"].(map[string]any); p["type"] != "object" {
		t.Errorf("parameters = %v", f["parameters"])
	}
}
