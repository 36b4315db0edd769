package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/hurttlocker/impact/internal/allocation"
	"github.com/hurttlocker/impact/internal/engine"
	"github.com/hurttlocker/impact/internal/impact"
	prn "github.com/hurttlocker/impact/internal/recovery"
	"github.com/hurttlocker/impact/internal/search"
	"github.com/hurttlocker/impact/internal/suggest"
)

// cmdFlags are the per-command flags; each command reads the ones it needs.
type cmdFlags struct {
	JSON    bool
	Org     string
	Type    string
	Context string
	Metered bool
	Addr    string
}

// splitArgs separates positional arguments from command flags.
func splitArgs(args []string) ([]string, cmdFlags, error) {
	var pos []string
	var f cmdFlags
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "--json":
			f.JSON = true
		case a == "--metered":
			f.Metered = true
		case a == "--org" && i+1 < len(args):
			i++
			f.Org = args[i]
		case strings.HasPrefix(a, "--org="):
			f.Org = strings.TrimPrefix(a, "--org=")
		case a == "--type" && i+1 < len(args):
			i++
			f.Type = args[i]
		case strings.HasPrefix(a, "--type="):
			f.Type = strings.TrimPrefix(a, "--type=")
		case a == "--context" && i+1 < len(args):
			i++
			f.Context = args[i]
		case strings.HasPrefix(a, "--context="):
			f.Context = strings.TrimPrefix(a, "--context=")
		case a == "--addr" && i+1 < len(args):
			i++
			f.Addr = args[i]
		case strings.HasPrefix(a, "--addr="):
			f.Addr = strings.TrimPrefix(a, "--addr=")
		case a == "-":
			pos = append(pos, a)
		case strings.HasPrefix(a, "-") && !isNumber(a):
			return nil, f, fmt.Errorf("unknown flag: %s", a)
		default:
			pos = append(pos, a)
		}
	}
	return pos, f, nil
}

func isNumber(s string) bool {
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ==================== search / suggest ====================

func runSearch(args []string) error {
	pos, f, err := splitArgs(args)
	if err != nil {
		return err
	}
	if len(pos) == 0 {
		return fmt.Errorf("usage: impact search <query> [--org <id>] [--json]")
	}
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	resp, err := a.engine.SearchProcesses(context.Background(), search.Request{
		Query:          strings.Join(pos, " "),
		OrganizationID: f.Org,
	})
	if err != nil {
		return err
	}
	if f.JSON {
		return printJSON(resp)
	}
	outputSearch(resp)
	return nil
}

func outputSearch(resp *search.Response) {
	if len(resp.Results) == 0 && len(resp.Secondary) == 0 {
		fmt.Printf("No processes match %q.\n", resp.Query)
		return
	}
	fmt.Printf("Preferred: %s (%d results)\n", resp.PreferredDatabase, len(resp.Results))
	for i, r := range resp.Results {
		fmt.Printf("  %2d. [%3d] %s  (%s, %s)\n", i+1, r.Score, r.Name, r.Unit, r.ID)
	}
	if len(resp.Secondary) > 0 {
		fmt.Printf("Secondary: %s (%d results)\n", resp.SecondaryDatabase, len(resp.Secondary))
		for i, r := range resp.Secondary {
			fmt.Printf("  %2d. [%3d] %s  (%s, %s)\n", i+1, r.Score, r.Name, r.Unit, r.ID)
		}
	}
	if resp.Cached {
		fmt.Println("(cached)")
	}
}

func runSuggest(args []string) error {
	pos, f, err := splitArgs(args)
	if err != nil {
		return err
	}
	if len(pos) == 0 {
		return fmt.Errorf("usage: impact suggest <name> [--type ingredient|packaging] [--context <text>] [--org <id>] [--json]")
	}
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	resp, err := a.engine.SuggestProxies(context.Background(), suggest.Request{
		IngredientName: strings.Join(pos, " "),
		IngredientType: suggest.ItemType(f.Type),
		ProductContext: f.Context,
		OrganizationID: f.Org,
	})
	if err != nil {
		return err
	}
	if f.JSON {
		return printJSON(resp)
	}
	outputSuggest(resp)
	return nil
}

func outputSuggest(resp *suggest.Response) {
	source := "llm"
	if resp.FromFallback {
		source = "rules"
	}
	if resp.Cached {
		source += ", cached"
	}
	fmt.Printf("%d suggestions (%s), %d requests remaining\n", len(resp.Suggestions), source, resp.Remaining)
	for i, s := range resp.Suggestions {
		mark := " "
		if s.Validated {
			mark = "✓"
		}
		fmt.Printf("  %s %d. %-30s %-6s %d results", mark, i+1, s.SearchQuery, s.Confidence, s.ResultCount)
		if s.TopMatchName != "" {
			fmt.Printf("  → %s", s.TopMatchName)
		}
		fmt.Println()
	}
}

// ==================== aggregate ====================

func runAggregate(args []string) error {
	pos, f, err := splitArgs(args)
	if err != nil {
		return err
	}
	if len(pos) != 1 {
		return fmt.Errorf("usage: impact aggregate <items.json|-> [--json]")
	}
	items, err := readItems(pos[0])
	if err != nil {
		return err
	}
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.engine.Aggregate(context.Background(), items)
	if err != nil {
		return err
	}
	if f.JSON {
		return printJSON(res)
	}
	outputAggregate(res)
	return nil
}

// readItems accepts either a bare array of items or {"items": [...]}.
func readItems(path string) ([]impact.Item, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening items: %w", err)
		}
		defer file.Close()
		r = file
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading items: %w", err)
	}
	var items []impact.Item
	if err := json.Unmarshal(data, &items); err == nil {
		return items, nil
	}
	var wrapped struct {
		Items []impact.Item `json:"items"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("parsing items: %w", err)
	}
	return wrapped.Items, nil
}

func outputAggregate(res *engine.AggregateResult) {
	t := res.Totals
	fmt.Printf("Climate %.4f  Water %.4f  Land %.4f  Waste %.4f\n", t.Climate, t.Water, t.Land, t.Waste)
	for _, l := range res.Lines {
		mock := ""
		if l.Mock {
			mock = " (placeholder)"
		}
		fmt.Printf("  %-24s %10.4f  climate %.4f  %s%s\n", l.Material, l.Quantity, l.Impacts.Climate, l.Quality, mock)
	}
	for _, q := range res.Quality {
		fmt.Printf("  %-18s %d lines, %.1f%% of climate\n", q.Quality, q.Lines, q.ClimateShare)
	}
	if len(res.MockTerms) > 0 {
		fmt.Printf("Placeholder factors used for: %s\n", strings.Join(res.MockTerms, ", "))
	}
}

// ==================== facility / site ====================

func runFacility(args []string) error {
	pos, f, err := splitArgs(args)
	if err != nil {
		return err
	}
	if len(pos) != 3 || pos[0] != "set" {
		return fmt.Errorf("usage: impact facility set <id> <intensity> [--metered] [--json]")
	}
	intensity, err := strconv.ParseFloat(pos[2], 64)
	if err != nil {
		return fmt.Errorf("invalid intensity %q", pos[2])
	}
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	fac := allocation.Facility{ID: pos[1], Intensity: intensity, PrimaryMetered: f.Metered}
	if err := a.engine.SetFacility(context.Background(), fac); err != nil {
		return err
	}
	if f.JSON {
		return printJSON(map[string]any{"facility_id": fac.ID, "intensity": fac.Intensity, "data_source": fac.Source()})
	}
	fmt.Printf("Facility %s: intensity %.4f (%s)\n", fac.ID, fac.Intensity, fac.Source())
	return nil
}

func runSite(args []string) error {
	pos, f, err := splitArgs(args)
	if err != nil {
		return err
	}
	usage := fmt.Errorf("usage: impact site set <product> <facility> <volume> | rm <product> <facility> | ls <product> [--json]")
	if len(pos) < 2 {
		return usage
	}

	var volume float64
	switch {
	case pos[0] == "set" && len(pos) == 4:
		if volume, err = strconv.ParseFloat(pos[3], 64); err != nil {
			return fmt.Errorf("invalid volume %q", pos[3])
		}
	case pos[0] == "rm" && len(pos) == 3, pos[0] == "ls" && len(pos) == 2:
	default:
		return usage
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := context.Background()

	var sum *allocation.Summary
	switch pos[0] {
	case "set":
		sum, err = a.engine.SetSite(ctx, pos[1], pos[2], volume)
	case "rm":
		sum, err = a.engine.RemoveSite(ctx, pos[1], pos[2])
	default:
		sum, err = a.engine.Allocation(ctx, pos[1])
	}
	if err != nil {
		return err
	}
	if f.JSON {
		return printJSON(sum)
	}
	outputAllocation(sum)
	return nil
}

func outputAllocation(sum *allocation.Summary) {
	if len(sum.Sites) == 0 {
		fmt.Printf("Product %s has no linked facilities.\n", sum.ProductID)
		return
	}
	fmt.Printf("Product %s: %d sites, volume %.2f, intensity %.4f, %.1f%% verified\n",
		sum.ProductID, len(sum.Sites), sum.TotalVolume, sum.ProductIntensity, sum.VerifiedShare)
	for _, s := range sum.Sites {
		fmt.Printf("  %-20s %10.2f  %6.2f%%  %.4f/unit  %s\n",
			s.FacilityID, s.ProductionVolume, s.ShareOfProduction, s.AttributableEmissionsPerUnit, s.DataSource)
	}
}

// ==================== prn ====================

func runPRN(args []string) error {
	pos, f, err := splitArgs(args)
	if err != nil {
		return err
	}
	usage := fmt.Errorf("usage: impact prn build <org> <year> CODE=tonnes... | buy <org> <year> <code> <tonnes> <cost> | status <org> <year> [--json]")
	if len(pos) < 3 {
		return usage
	}
	year, err := strconv.Atoi(pos[2])
	if err != nil || year < 1 {
		return fmt.Errorf("invalid year %q", pos[2])
	}

	var (
		tonnage              map[string]float64
		tonnes, costPerTonne float64
	)
	switch {
	case pos[0] == "build" && len(pos) > 3:
		if tonnage, err = parseTonnage(pos[3:]); err != nil {
			return err
		}
	case pos[0] == "buy" && len(pos) == 6:
		if tonnes, err = strconv.ParseFloat(pos[4], 64); err != nil {
			return fmt.Errorf("invalid tonnes %q", pos[4])
		}
		if costPerTonne, err = strconv.ParseFloat(pos[5], 64); err != nil {
			return fmt.Errorf("invalid cost %q", pos[5])
		}
	case pos[0] == "status" && len(pos) == 3:
	default:
		return usage
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := context.Background()
	org := pos[1]

	if pos[0] == "buy" {
		o, err := a.engine.RecordPurchase(ctx, org, year, pos[3], tonnes, costPerTonne)
		if err != nil {
			return err
		}
		if f.JSON {
			return printJSON(o)
		}
		outputObligation(*o)
		return nil
	}

	var rep *engine.ObligationReport
	if pos[0] == "build" {
		rep, err = a.engine.BuildObligations(ctx, org, year, tonnage)
	} else {
		rep, err = a.engine.Obligations(ctx, org, year)
	}
	if err != nil {
		return err
	}
	if f.JSON {
		return printJSON(rep)
	}
	outputObligations(rep)
	return nil
}

// parseTonnage reads CODE=tonnes pairs such as GL=120.5.
func parseTonnage(pairs []string) (map[string]float64, error) {
	out := make(map[string]float64, len(pairs))
	for _, p := range pairs {
		code, val, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(code) == "" {
			return nil, fmt.Errorf("invalid tonnage %q: expected CODE=tonnes", p)
		}
		t, err := strconv.ParseFloat(val, 64)
		if err != nil || t < 0 {
			return nil, fmt.Errorf("invalid tonnage %q: tonnes must be a number >= 0", p)
		}
		out[strings.ToUpper(strings.TrimSpace(code))] += t
	}
	return out, nil
}

func outputObligation(o prn.Obligation) {
	name := prn.MaterialNames[o.MaterialCode]
	if name == "" {
		name = o.MaterialCode
	}
	fmt.Printf("  %-3s %-10s obligation %8.2f t  purchased %8.2f t  remaining %8.2f t  £%.2f  %s\n",
		o.MaterialCode, name, o.ObligationTonnage, o.PurchasedTonnage, o.Remaining(), o.TotalCost, o.Status)
}

func outputObligations(rep *engine.ObligationReport) {
	if len(rep.Obligations) == 0 {
		fmt.Printf("No obligations for %s in %d.\n", rep.OrganizationID, rep.Year)
		return
	}
	fmt.Printf("%s %d: %d%% fulfilled, %.2f t remaining, £%.2f spent\n",
		rep.OrganizationID, rep.Year, rep.Summary.FulfilmentPct, rep.Summary.TotalRemaining, rep.Summary.TotalCost)
	for _, o := range rep.Obligations {
		outputObligation(o)
	}
}

// ==================== stats / config ====================

func runStats(args []string) error {
	_, f, err := splitArgs(args)
	if err != nil {
		return err
	}
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	st, err := a.store.Stats(context.Background())
	if err != nil {
		return err
	}
	if f.JSON {
		return printJSON(st)
	}
	fmt.Printf("Database:     %s (%s)\n", a.cfg.DBPath.Value, formatBytes(st.DBSizeBytes))
	fmt.Printf("Facilities:   %d\n", st.Facilities)
	fmt.Printf("Sites:        %d\n", st.Sites)
	fmt.Printf("Obligations:  %d\n", st.Obligations)
	fmt.Printf("Cache:        %d entries\n", st.CacheEntries)
	fmt.Printf("Rate events:  %d\n", st.RateEvents)
	return nil
}

func runConfig(args []string) error {
	if _, _, err := splitArgs(args); err != nil {
		return err
	}
	cfg, err := resolveConfig()
	if err != nil {
		return err
	}
	return printJSON(cfg.Redacted())
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
