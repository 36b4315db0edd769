package catalog

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func sampleCatalogue() []Process {
	return []Process{
		{ID: "1", Name: "market for barley grain", Category: "A:Agriculture, forestry and fishing/011:Growing of non-perennial crops", Unit: "kg"},
		{ID: "2", Name: "beer production", Category: "C:Manufacturing/11:Manufacture of beverages/110:Manufacture of beverages", Unit: "l"},
		{ID: "3", Name: "passenger car production, petrol", Category: "C:Manufacturing/29:Manufacture of motor vehicles", Unit: "unit"},
		{ID: "4", Name: "cement production, Portland", Category: "C:Manufacturing/23:Manufacture of other non-metallic mineral products", Unit: "kg"},
		{ID: "5", Name: "packaging glass production, green", Category: "C:Manufacturing/23:Manufacture of other non-metallic mineral products", Unit: "kg"},
		{ID: "6", Name: "treatment of municipal solid waste, incineration", Category: "E:Water supply; sewerage, waste management/38:Waste collection", Unit: "kg"},
		{ID: "7", Name: "electricity, low voltage", Category: "D:Electricity, gas, steam and air conditioning supply/351:Electric power", Unit: "kWh"},
		{ID: "8", Name: "printed wiring board, mounted", Category: "C:Manufacturing/26:Manufacture of computer, electronic and optical products", Unit: "kg"},
		{ID: "9", Name: "beverage carton production", Category: "C:Manufacturing/29:Manufacture of motor vehicles", Unit: "kg"},
		{ID: "10", Name: "polyethylene terephthalate, granulate, bottle grade", Category: "C:Manufacturing/20:Manufacture of chemicals and chemical products", Unit: "kg"},
	}
}

func ids(records []Process) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.ID)
	}
	return out
}

func TestClassifyDefaultRules(t *testing.T) {
	got := ids(Classify(sampleCatalogue(), DefaultRules()))
	want := []string{"1", "2", "5", "7", "10"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Classify ids = %v, want %v", got, want)
	}
}

func TestClassifyIdempotent(t *testing.T) {
	rules := DefaultRules()
	once := Classify(sampleCatalogue(), rules)
	twice := Classify(once, rules)
	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("second pass changed result:\n once:  %v\n twice: %v", ids(once), ids(twice))
	}
}

func TestKeepPatternOverridesExclusionOnly(t *testing.T) {
	rules := Rules{
		Prefixes: []string{"c:manufacturing/"},
		Keep:     []string{"bottle"},
		Exclude:  []string{"incineration"},
	}
	tests := []struct {
		name   string
		rec    Process
		keep   bool
		reason Reason
	}{
		{"keep and exclude", Process{Name: "bottle incineration residue", Category: "C:Manufacturing/22:x"}, true, ReasonKeep},
		{"keep outside prefix", Process{Name: "Bottle washing", Category: "X:Other"}, false, ReasonNoPrefix},
		{"exclude only", Process{Name: "incineration plant", Category: "C:Manufacturing/22:x"}, false, ReasonExcluded},
		{"no prefix", Process{Name: "steel sheet", Category: "B:Mining"}, false, ReasonNoPrefix},
		{"prefix", Process{Name: "steel sheet", Category: "c:MANUFACTURING/24:x"}, true, ReasonPrefix},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keep, reason := rules.Explain(tt.rec)
			if keep != tt.keep || reason != tt.reason {
				t.Fatalf("Explain = (%v, %q), want (%v, %q)", keep, reason, tt.keep, tt.reason)
			}
		})
	}
}

func TestDefaultRulesGateBeforeKeep(t *testing.T) {
	carton := Process{Name: "beverage carton production", Category: "C:Manufacturing/29:Manufacture of motor vehicles"}
	if keep, reason := DefaultRules().Explain(carton); keep || reason != ReasonNoPrefix {
		t.Fatalf("Explain = (%v, %q), want (false, %q)", keep, reason, ReasonNoPrefix)
	}
	carton.Category = "C:Manufacturing/17:Manufacture of paper and paper products"
	if keep, reason := DefaultRules().Explain(carton); !keep || reason != ReasonKeep {
		t.Fatalf("Explain in paper = (%v, %q), want (true, %q)", keep, reason, ReasonKeep)
	}
}

func TestClassifyEmptyRulesDropsEverything(t *testing.T) {
	if got := Classify(sampleCatalogue(), Rules{}); len(got) != 0 {
		t.Fatalf("expected empty result with no prefixes, got %v", ids(got))
	}
}

func TestLoadFileCSV(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.csv")
	content := "ID,Name,Category,Unit\n" +
		"p1,market for barley grain,A:Agriculture/011,kg\n" +
		",missing id,A:Agriculture,kg\n" +
		"p2,\"electricity, low voltage\",D:Electricity,kWh\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := LoadFile(path, InventoryA)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d: %+v", len(got), got)
	}
	if got[1].Name != "electricity, low voltage" || got[1].Unit != "kWh" {
		t.Errorf("quoted field parsed wrong: %+v", got[1])
	}
	for _, p := range got {
		if p.Inventory != InventoryA {
			t.Errorf("record %s inventory = %q", p.ID, p.Inventory)
		}
	}
}

func TestLoadFileTSVAndJSON(t *testing.T) {
	dir := t.TempDir()
	tsv := filepath.Join(dir, "b.tsv")
	if err := os.WriteFile(tsv, []byte("id\tname\tcategory\tunit\nb1\tOrge, grain\tA:Agriculture\tkg\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	js := filepath.Join(dir, "b.json")
	if err := os.WriteFile(js, []byte(`[{"id":"b2","name":"Milk, cow","category":"A:Agriculture","unit":"kg"},{"id":"","name":"skip"}]`), 0o644); err != nil {
		t.Fatal(err)
	}

	fromTSV, err := LoadFile(tsv, InventoryB)
	if err != nil {
		t.Fatalf("LoadFile tsv: %v", err)
	}
	if len(fromTSV) != 1 || fromTSV[0].Name != "Orge, grain" {
		t.Fatalf("tsv records = %+v", fromTSV)
	}

	fromJSON, err := LoadFile(js, InventoryB)
	if err != nil {
		t.Fatalf("LoadFile json: %v", err)
	}
	if len(fromJSON) != 1 || fromJSON[0].ID != "b2" || fromJSON[0].Inventory != InventoryB {
		t.Fatalf("json records = %+v", fromJSON)
	}
}

func TestLoadFileRejectsUnknownFormat(t *testing.T) {
	if _, err := LoadFile("catalogue.xml", InventoryA); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestLoadFileMissingColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.csv")
	if err := os.WriteFile(path, []byte("code,label\nx,y\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(path, InventoryA); err == nil {
		t.Fatal("expected error for missing id column")
	}
}
