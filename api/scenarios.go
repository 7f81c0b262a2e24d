/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for demos. Each scenario creates employees and, where relevant,
	advances that show a specific part of the engine.

AVAILABLE SCENARIOS:

	hybrid-team:    Three jurisdictions, mixed fiat/crypto splits
	early-access:   Employee with an advance outstanding before the run
	international:  Employees in UK, India, Germany and an unconfigured country
	broken-data:    One valid employee next to an unknown asset and an
	                out-of-table salary, to show per-employee isolation

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create employees through the service (same validation as the API)
 3. Optionally draw advances for the current pay period

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "hybrid-team"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler
  - factory/tax_tables.yaml: Jurisdiction labels used below
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/payroll"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "hybrid-team",
		Name:        "Hybrid Team",
		Description: "California, Ontario and Tamil Nadu employees with fiat/crypto splits",
		Category:    "payroll",
	},
	{
		ID:          "early-access",
		Name:        "Early Wage Access",
		Description: "Half-period worker who drew an advance before payday",
		Category:    "early-access",
	},
	{
		ID:          "international",
		Name:        "International Payroll",
		Description: "Local-currency payroll for UK, India, Germany and a default-rule country",
		Category:    "international",
	},
	{
		ID:          "broken-data",
		Name:        "Per-Employee Failures",
		Description: "Unknown crypto asset and an out-of-table salary next to a valid employee",
		Category:    "payroll",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	current := h.currentScenario
	h.mu.RUnlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the database and loads a scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var load func(context.Context) error
	switch req.ScenarioID {
	case "hybrid-team":
		load = h.loadHybridTeamScenario
	case "early-access":
		load = h.loadEarlyAccessScenario
	case "international":
		load = h.loadInternationalScenario
	case "broken-data":
		load = h.loadBrokenDataScenario
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	ctx := r.Context()
	if err := h.Store.Reset(ctx); err != nil {
		h.fail(w, r, "Failed to reset database", err)
		return
	}
	h.setScenario("")

	if err := load(ctx); err != nil {
		h.fail(w, r, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}
	h.setScenario(req.ScenarioID)
	h.Logger.Info("scenario loaded", zap.String("scenario", req.ScenarioID))

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		h.fail(w, r, "Failed to reset database", err)
		return
	}
	h.setScenario("")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) setScenario(id string) {
	h.mu.Lock()
	h.currentScenario = id
	h.mu.Unlock()
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

type seed struct {
	id, first, last, dept, role string
	country, jurisdiction       string
	salary                      int64
	fiat, crypto                int64
	asset                       generic.Asset
	wallet                      string
	hours                       int64
}

func (s seed) employee() payroll.Employee {
	return payroll.Employee{
		ID:           s.id,
		FirstName:    s.first,
		LastName:     s.last,
		Email:        fmt.Sprintf("%s@example.com", s.id),
		Department:   s.dept,
		JobRole:      s.role,
		Status:       payroll.StatusActive,
		Country:      s.country,
		Jurisdiction: s.jurisdiction,
		Salary:       decimal.NewFromInt(s.salary),
		Allocation: payroll.Allocation{
			FiatPercent:   decimal.NewFromInt(s.fiat),
			CryptoPercent: decimal.NewFromInt(s.crypto),
			CryptoAsset:   s.asset,
		},
		WalletAddress:  s.wallet,
		HoursWorked:    decimal.NewFromInt(s.hours),
		PayPeriodHours: DefaultPayPeriodHours,
	}
}

func (h *Handler) createSeeds(ctx context.Context, seeds []seed) error {
	for _, s := range seeds {
		if _, err := h.Service.CreateEmployee(ctx, s.employee()); err != nil {
			return fmt.Errorf("employee %s: %w", s.id, err)
		}
	}
	return nil
}

func (h *Handler) loadHybridTeamScenario(ctx context.Context) error {
	return h.createSeeds(ctx, []seed{
		{id: "emp-ada", first: "Ada", last: "Lovelace", dept: "Engineering", role: "Staff Engineer",
			country: "US", jurisdiction: "USA - California", salary: 70000, fiat: 70, crypto: 30,
			asset: generic.AssetBTC, wallet: "bc1qada0000000000000000000000000000000000", hours: 160},
		{id: "emp-grace", first: "Grace", last: "Hopper", dept: "Engineering", role: "Engineering Manager",
			country: "CA", jurisdiction: "Canada - Ontario", salary: 120000, fiat: 90, crypto: 10,
			asset: generic.AssetETH, wallet: "0x00000000000000000000000000000000000grace", hours: 160},
		{id: "emp-ramanujan", first: "Srinivasa", last: "Ramanujan", dept: "Research", role: "Analyst",
			country: "IN", jurisdiction: "India - Tamil Nadu", salary: 12000, fiat: 100, hours: 160},
	})
}

func (h *Handler) loadEarlyAccessScenario(ctx context.Context) error {
	err := h.createSeeds(ctx, []seed{
		{id: "emp-linus", first: "Linus", last: "Torvalds", dept: "Platform", role: "Engineer",
			country: "US", jurisdiction: "USA - California", salary: 96000, fiat: 80, crypto: 20,
			asset: generic.AssetUSDC, wallet: "0x0000000000000000000000000000000000linus", hours: 80},
	})
	if err != nil {
		return err
	}
	period := generic.PeriodFor(generic.PeriodMonthly, h.Service.Clock.Now())
	_, err = h.Service.RequestAdvance(ctx, payroll.AdvanceRequest{
		EmployeeID:     "emp-linus",
		Amount:         decimal.NewFromInt(5000),
		Period:         period,
		IdempotencyKey: "scenario:early-access:" + period.Key(),
	})
	return err
}

func (h *Handler) loadInternationalScenario(ctx context.Context) error {
	return h.createSeeds(ctx, []seed{
		{id: "emp-alan", first: "Alan", last: "Turing", dept: "Research", role: "Scientist",
			country: "UK", salary: 90000, fiat: 100, hours: 160},
		{id: "emp-kalpana", first: "Kalpana", last: "Chawla", dept: "Operations", role: "Engineer",
			country: "IN", salary: 40000, fiat: 100, hours: 160},
		{id: "emp-emmy", first: "Emmy", last: "Noether", dept: "Research", role: "Mathematician",
			country: "DE", salary: 85000, fiat: 100, hours: 160},
		{id: "emp-cesar", first: "Cesar", last: "Lattes", dept: "Research", role: "Physicist",
			country: "BR", salary: 60000, fiat: 100, hours: 160},
	})
}

func (h *Handler) loadBrokenDataScenario(ctx context.Context) error {
	return h.createSeeds(ctx, []seed{
		{id: "emp-ok", first: "Margaret", last: "Hamilton", dept: "Engineering", role: "Engineer",
			country: "US", jurisdiction: "USA - California", salary: 70000, fiat: 50, crypto: 50,
			asset: generic.AssetBTC, wallet: "bc1qok00000000000000000000000000000000000", hours: 160},
		{id: "emp-doge", first: "Shiba", last: "Inu", dept: "Marketing", role: "Mascot",
			country: "US", jurisdiction: "USA - California", salary: 50000, fiat: 50, crypto: 50,
			asset: generic.Asset("DOGE"), wallet: "D000000000000000000000000000000000", hours: 160},
		{id: "emp-ceo", first: "Big", last: "Boss", dept: "Executive", role: "CEO",
			country: "US", jurisdiction: "USA - California", salary: 400000, fiat: 100, hours: 160},
	})
}
