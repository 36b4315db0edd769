package allocation

import (
	"errors"
	"math"
	"math/rand"
	"testing"
)

func near(a, b float64) bool { return math.Abs(a-b) <= ShareTolerance }

func TestShares(t *testing.T) {
	got := Shares([]float64{300, 100})
	if !near(got[0], 75) || !near(got[1], 25) {
		t.Fatalf("Shares = %v, want [75 25]", got)
	}
	zero := Shares([]float64{0, 0})
	if zero[0] != 0 || zero[1] != 0 {
		t.Fatalf("zero total should give zero shares, got %v", zero)
	}
	if len(Shares(nil)) != 0 {
		t.Fatal("empty input should give empty output")
	}
}

func TestShareInvariantRandom(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 200; trial++ {
		n := 1 + rng.Intn(12)
		sites := make([]Site, n)
		for i := range sites {
			sites[i] = Site{FacilityID: string(rune('a' + i)), ProductionVolume: rng.Float64() * 1e6}
		}
		sites[0].ProductionVolume += 1 // total > 0
		got := Recompute(sites, nil)
		if total := ShareTotal(got); math.Abs(total-100) > 1e-9 {
			t.Fatalf("trial %d: Σshare = %v", trial, total)
		}
	}
}

func TestRecomputeCopiesFacilityIntensity(t *testing.T) {
	sites := []Site{
		{ID: "s2", ProductID: "p", FacilityID: "f2", ProductionVolume: 1000},
		{ID: "s1", ProductID: "p", FacilityID: "f1", ProductionVolume: 3000, FacilityIntensity: 9},
		{ID: "s3", ProductID: "p", FacilityID: "f3", ProductionVolume: 0, FacilityIntensity: 4, DataSource: Verified},
	}
	facilities := map[string]Facility{
		"f1": {ID: "f1", Intensity: 0.5, PrimaryMetered: true},
		"f2": {ID: "f2", Intensity: 1.5},
	}
	got := Recompute(sites, facilities)

	if got[0].FacilityID != "f1" || got[1].FacilityID != "f2" || got[2].FacilityID != "f3" {
		t.Fatalf("order = %v %v %v", got[0].FacilityID, got[1].FacilityID, got[2].FacilityID)
	}
	if !near(got[0].ShareOfProduction, 75) || !near(got[1].ShareOfProduction, 25) || got[2].ShareOfProduction != 0 {
		t.Fatalf("shares = %v %v %v", got[0].ShareOfProduction, got[1].ShareOfProduction, got[2].ShareOfProduction)
	}
	if got[0].FacilityIntensity != 0.5 || got[0].DataSource != Verified || got[0].AttributableEmissionsPerUnit != 0.5 {
		t.Errorf("f1 = %+v", got[0])
	}
	if got[1].DataSource != IndustryAverage {
		t.Errorf("f2 source = %q", got[1].DataSource)
	}
	// unknown facility keeps its cached values
	if got[2].FacilityIntensity != 4 || got[2].DataSource != Verified {
		t.Errorf("f3 = %+v", got[2])
	}
	// input untouched
	if sites[0].ShareOfProduction != 0 {
		t.Error("Recompute mutated its input")
	}

	if pi := ProductIntensity(got); !near(pi, 0.75*0.5+0.25*1.5) {
		t.Errorf("ProductIntensity = %v", pi)
	}
}

func TestSummarize(t *testing.T) {
	sites := Recompute([]Site{
		{FacilityID: "f1", ProductionVolume: 60},
		{FacilityID: "f2", ProductionVolume: 40},
	}, map[string]Facility{"f1": {Intensity: 2, PrimaryMetered: true}, "f2": {Intensity: 1}})
	sum := Summarize("p", sites)
	if sum.TotalVolume != 100 || !near(sum.ShareTotal, 100) || !near(sum.VerifiedShare, 60) {
		t.Fatalf("summary = %+v", sum)
	}
	if !near(sum.ProductIntensity, 1.6) {
		t.Errorf("product intensity = %v", sum.ProductIntensity)
	}
	if empty := Summarize("p", nil); empty.Sites == nil || empty.ShareTotal != 0 {
		t.Errorf("empty summary = %+v", empty)
	}
}

func TestValidateVolume(t *testing.T) {
	for _, v := range []float64{-1, math.NaN(), math.Inf(1)} {
		if err := ValidateVolume(v); !errors.Is(err, ErrInvalidVolume) {
			t.Errorf("ValidateVolume(%v) = %v", v, err)
		}
	}
	if err := ValidateVolume(0); err != nil {
		t.Errorf("zero volume should be valid: %v", err)
	}
}
