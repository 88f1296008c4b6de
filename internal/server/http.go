package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"OptionLedger/internal/core"
	"OptionLedger/internal/event"
	"OptionLedger/internal/ledger"
	fpmath "OptionLedger/internal/math"
	"OptionLedger/internal/pool"
	"OptionLedger/internal/settlement"
	"OptionLedger/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const maxBodyBytes = 1 << 20

type api struct {
	*ServerDeps
}

func newAPI(deps *ServerDeps) *api {
	return &api{ServerDeps: deps}
}

type route struct {
	method  string
	pattern string
	name    string
	handler func(r *http.Request, params map[string]string) (any, error)
}

func registerRoutes(mux *runtime.ServeMux, a *api) error {
	routes := []route{
		// live state, served by the engine
		{"GET", "/v1/pool/liquidity", "liquidity", a.getLiquidity},
		{"GET", "/v1/pool/token-price", "token_price", a.getTokenPrice},
		{"GET", "/v1/pool/circuit-breaker", "circuit_breaker", a.getCircuitBreaker},
		{"GET", "/v1/pool/params", "params", a.getParams},
		{"GET", "/v1/pool/queues", "queues", a.getQueues},
		{"GET", "/v1/pool/deposits/{id}", "deposit_ticket", a.getDepositTicket},
		{"GET", "/v1/pool/withdrawals/{id}", "withdrawal_ticket", a.getWithdrawalTicket},
		{"GET", "/v1/vault/insolvency", "insolvency", a.getInsolvency},
		{"GET", "/v1/positions", "positions", a.getPositions},
		{"GET", "/v1/holders/{address}/balances", "balances", a.getBalances},

		// history, served from projections
		{"GET", "/v1/holders/{address}/journal", "journal_history", a.getJournalHistory},
		{"GET", "/v1/history/liquidity", "liquidity_history", a.getLiquidityHistory},
		{"GET", "/v1/history/deposits", "deposit_history", a.getDepositHistory},
		{"GET", "/v1/history/withdrawals", "withdrawal_history", a.getWithdrawalHistory},

		// commands
		{"POST", "/v1/commands/{name}", "submit_command", a.submitCommand},
		{"POST", "/v1/admin/fund", "fund", a.fund},
		{"POST", "/v1/admin/process-queues", "process_queues", a.processQueues},

		// admin
		{"POST", "/v1/admin/snapshot", "snapshot", a.snapshot},
		{"POST", "/v1/admin/rebuild-projections", "rebuild_projections", a.rebuildProjections},
		{"GET", "/v1/admin/integrity", "integrity", a.integrity},
		{"GET", "/v1/admin/event-log", "event_log", a.eventLog},
	}

	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.pattern, a.wrap(rt)); err != nil {
			return fmt.Errorf("register %s %s: %w", rt.method, rt.pattern, err)
		}
	}
	return nil
}

func (a *api) wrap(rt route) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		start := time.Now()
		resp, err := rt.handler(r, params)
		code := CodeOf(err)

		if a.Metrics != nil {
			a.Metrics.QueryRequests.WithLabelValues(rt.name, code.String()).Inc()
			a.Metrics.QueryDuration.WithLabelValues(rt.name).Observe(time.Since(start).Seconds())
		}

		if err != nil {
			if code == codes.Internal {
				a.Log.Error().Err(err).Str("route", rt.name).Msg("request failed")
			}
			writeError(w, code, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func writeJSON(w http.ResponseWriter, httpStatus int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(v)
}

// writeError uses the gateway's error body shape: {"code", "message"}.
func writeError(w http.ResponseWriter, code codes.Code, err error) {
	st := status.New(code, err.Error())
	writeJSON(w, runtime.HTTPStatusFromCode(code), map[string]any{
		"code":    int32(st.Code()),
		"status":  st.Code().String(),
		"message": st.Message(),
	})
}

// --- live state ---

type liquidityResponse struct {
	AsOfSequence int64          `json:"as_of_sequence"`
	Liquidity    pool.Liquidity `json:"liquidity"`
}

func (a *api) getLiquidity(r *http.Request, _ map[string]string) (any, error) {
	var resp liquidityResponse
	var lerr error
	if err := a.Engine.Query(r.Context(), func(v *core.View) {
		resp.AsOfSequence = v.Sequence()
		resp.Liquidity, lerr = v.Liquidity()
	}); err != nil {
		return nil, err
	}
	return resp, lerr
}

type tokenPriceResponse struct {
	AsOfSequence int64 `json:"as_of_sequence"`
	pool.TokenPriceCheck
}

func (a *api) getTokenPrice(r *http.Request, _ map[string]string) (any, error) {
	var resp tokenPriceResponse
	var perr error
	if err := a.Engine.Query(r.Context(), func(v *core.View) {
		resp.AsOfSequence = v.Sequence()
		resp.TokenPriceCheck, perr = v.TokenPriceWithCheck()
	}); err != nil {
		return nil, err
	}
	return resp, perr
}

type circuitBreakerResponse struct {
	AsOfSequence int64     `json:"as_of_sequence"`
	Until        time.Time `json:"until"`
	Active       bool      `json:"active"`
}

func (a *api) getCircuitBreaker(r *http.Request, _ map[string]string) (any, error) {
	var resp circuitBreakerResponse
	now := a.Now()
	err := a.Engine.Query(r.Context(), func(v *core.View) {
		cb := v.Pool().CircuitBreaker
		resp.AsOfSequence = v.Sequence()
		resp.Until = cb.Until
		resp.Active = cb.Active(now)
	})
	return resp, err
}

func (a *api) getParams(r *http.Request, _ map[string]string) (any, error) {
	var params state.PoolParameters
	err := a.Engine.Query(r.Context(), func(v *core.View) { params = v.Params() })
	return params, err
}

type queueSummary[T any] struct {
	Head        uint64         `json:"head"`
	TotalQueued fpmath.Decimal `json:"total_queued"`
	Pending     []T            `json:"pending"`
}

type queuesResponse struct {
	AsOfSequence int64                                  `json:"as_of_sequence"`
	Deposits     queueSummary[state.QueuedDeposit]    `json:"deposits"`
	Withdrawals  queueSummary[state.QueuedWithdrawal] `json:"withdrawals"`
}

func (a *api) getQueues(r *http.Request, _ map[string]string) (any, error) {
	var resp queuesResponse
	err := a.Engine.Query(r.Context(), func(v *core.View) {
		st := v.Pool()
		resp.AsOfSequence = v.Sequence()
		resp.Deposits = queueSummary[state.QueuedDeposit]{
			Head:        st.Deposits.Head,
			TotalQueued: st.Deposits.TotalQueued,
			Pending:     st.Deposits.Pending(),
		}
		resp.Withdrawals = queueSummary[state.QueuedWithdrawal]{
			Head:        st.Withdrawals.Head,
			TotalQueued: st.Withdrawals.TotalQueued,
			Pending:     st.Withdrawals.Pending(),
		}
	})
	return resp, err
}

func (a *api) getDepositTicket(r *http.Request, params map[string]string) (any, error) {
	id, err := parseUint(params["id"])
	if err != nil {
		return nil, err
	}
	var ticket state.QueuedDeposit
	var found bool
	if err := a.Engine.Query(r.Context(), func(v *core.View) {
		ticket, found = v.Pool().Deposits.Get(id)
	}); err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: deposit ticket %d", errNotFound, id)
	}
	return ticket, nil
}

func (a *api) getWithdrawalTicket(r *http.Request, params map[string]string) (any, error) {
	id, err := parseUint(params["id"])
	if err != nil {
		return nil, err
	}
	var ticket state.QueuedWithdrawal
	var found bool
	if err := a.Engine.Query(r.Context(), func(v *core.View) {
		ticket, found = v.Pool().Withdrawals.Get(id)
	}); err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: withdrawal ticket %d", errNotFound, id)
	}
	return ticket, nil
}

type insolvencyResponse struct {
	AsOfSequence                int64          `json:"as_of_sequence"`
	ExcessBase                  fpmath.Decimal `json:"excess_base"`
	ExcessQuote                 fpmath.Decimal `json:"excess_quote"`
	InsolventSettlementAmount   fpmath.Decimal `json:"insolvent_settlement_amount"`
	TotalOutstandingSettlements fpmath.Decimal `json:"total_outstanding_settlements"`
	ShortCollateralBase         fpmath.Decimal `json:"short_collateral_base"`
	ShortCollateralQuote        fpmath.Decimal `json:"short_collateral_quote"`
}

func (a *api) getInsolvency(r *http.Request, _ map[string]string) (any, error) {
	var resp insolvencyResponse
	err := a.Engine.Query(r.Context(), func(v *core.View) {
		ps, vs := v.Pool(), v.Vault()
		resp.AsOfSequence = v.Sequence()
		resp.ExcessBase = vs.Insolvency.ExcessBase
		resp.ExcessQuote = vs.Insolvency.ExcessQuote
		resp.InsolventSettlementAmount = ps.InsolventSettlementAmount
		resp.TotalOutstandingSettlements = ps.TotalOutstandingSettlements
		resp.ShortCollateralBase, resp.ShortCollateralQuote = v.ShortCollateral()
	})
	return resp, err
}

func (a *api) getPositions(r *http.Request, _ map[string]string) (any, error) {
	var positions []settlement.Position
	err := a.Engine.Query(r.Context(), func(v *core.View) { positions = v.OpenPositions() })
	return positions, err
}

type balancesResponse struct {
	AsOfSequence int64                     `json:"as_of_sequence"`
	Holder       string                    `json:"holder"`
	Balances     map[string]fpmath.Decimal `json:"balances"`
}

func (a *api) getBalances(r *http.Request, params map[string]string) (any, error) {
	holder, err := parseAddress(params["address"])
	if err != nil {
		return nil, err
	}
	resp := balancesResponse{Holder: holder.Hex(), Balances: map[string]fpmath.Decimal{}}
	err = a.Engine.Query(r.Context(), func(v *core.View) {
		resp.AsOfSequence = v.Sequence()
		for _, asset := range []ledger.AssetID{ledger.AssetQuote, ledger.AssetBase, ledger.AssetShare} {
			resp.Balances[asset.String()] = v.Balance(holder, asset)
		}
	})
	return resp, err
}

// --- history ---

func (a *api) getJournalHistory(r *http.Request, params map[string]string) (any, error) {
	if a.Query == nil {
		return nil, errNoReadModel
	}
	holder, err := parseAddress(params["address"])
	if err != nil {
		return nil, err
	}
	q := r.URL.Query()
	limit, before, err := pageParams(q.Get("limit"), q.Get("before"))
	if err != nil {
		return nil, err
	}
	return a.Query.GetJournalHistory(r.Context(), holder, limit, before)
}

func (a *api) getLiquidityHistory(r *http.Request, _ map[string]string) (any, error) {
	if a.Query == nil {
		return nil, errNoReadModel
	}
	q := r.URL.Query()
	limit, before, err := pageParams(q.Get("limit"), q.Get("before"))
	if err != nil {
		return nil, err
	}
	return a.Query.GetLiquidityHistory(r.Context(), limit, before)
}

func (a *api) getDepositHistory(r *http.Request, _ map[string]string) (any, error) {
	if a.Query == nil {
		return nil, errNoReadModel
	}
	f, err := parseTicketFilter(r)
	if err != nil {
		return nil, err
	}
	return a.Query.GetDepositTickets(r.Context(), f.beneficiary, f.pending, f.limit, uint64(f.before))
}

func (a *api) getWithdrawalHistory(r *http.Request, _ map[string]string) (any, error) {
	if a.Query == nil {
		return nil, errNoReadModel
	}
	f, err := parseTicketFilter(r)
	if err != nil {
		return nil, err
	}
	return a.Query.GetWithdrawalTickets(r.Context(), f.beneficiary, f.pending, f.limit, uint64(f.before))
}

// --- commands ---

type commandResponse struct {
	Duplicate bool     `json:"duplicate"`
	Sequence  int64    `json:"sequence,omitempty"`
	StateHash string   `json:"state_hash,omitempty"`
	Emitted   []string `json:"emitted,omitempty"`
}

func (a *api) submitCommand(r *http.Request, params map[string]string) (any, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	env, err := a.Admin.Inject(r.Context(), params["name"], body)
	if err != nil {
		return nil, err
	}
	return envelopeResponse(env), nil
}

// envelopeResponse summarizes an applied command. A nil envelope is a
// duplicate the engine skipped.
func envelopeResponse(env *event.EventEnvelope) commandResponse {
	if env == nil {
		return commandResponse{Duplicate: true}
	}
	resp := commandResponse{
		Sequence:  env.Sequence,
		StateHash: fmt.Sprintf("%x", env.StateHash),
	}
	for _, e := range env.Emitted {
		resp.Emitted = append(resp.Emitted, e.Name())
	}
	return resp
}

type fundRequest struct {
	Caller common.Address `json:"caller"`
	Holder common.Address `json:"holder"`
	Asset  string         `json:"asset"`
	Amount fpmath.Decimal `json:"amount"`
}

func (a *api) fund(r *http.Request, _ map[string]string) (any, error) {
	var req fundRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	env, err := a.Admin.InjectFunding(r.Context(), req.Caller, req.Holder, req.Asset, req.Amount)
	if err != nil {
		return nil, err
	}
	return envelopeResponse(env), nil
}

type processQueuesRequest struct {
	Caller common.Address `json:"caller"`
	Limit  int            `json:"limit"`
}

func (a *api) processQueues(r *http.Request, _ map[string]string) (any, error) {
	var req processQueuesRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	if err := a.Admin.InjectProcessQueues(r.Context(), req.Caller, req.Limit); err != nil {
		return nil, err
	}
	return a.getQueues(r, nil)
}

// --- admin ---

func (a *api) snapshot(r *http.Request, _ map[string]string) (any, error) {
	if a.TakeSnapshot == nil {
		return nil, errNoReadModel
	}
	seq, err := a.TakeSnapshot(r.Context())
	if err != nil {
		return nil, err
	}
	return map[string]int64{"sequence": seq}, nil
}

func (a *api) rebuildProjections(r *http.Request, _ map[string]string) (any, error) {
	if a.RebuildProjections == nil {
		return nil, errNoReadModel
	}
	if err := a.RebuildProjections(r.Context()); err != nil {
		return nil, err
	}
	return map[string]bool{"rebuilt": true}, nil
}

func (a *api) integrity(r *http.Request, _ map[string]string) (any, error) {
	if a.Query == nil {
		return nil, errNoReadModel
	}
	return a.Query.VerifyIntegrity(r.Context())
}

type eventLogResponse struct {
	EngineSequence    int64  `json:"engine_sequence"`
	PersistedSequence int64  `json:"persisted_sequence"`
	StateHash         string `json:"state_hash"`
}

func (a *api) eventLog(r *http.Request, _ map[string]string) (any, error) {
	var resp eventLogResponse
	if err := a.Engine.Query(r.Context(), func(v *core.View) {
		resp.EngineSequence = v.Sequence()
		resp.StateHash = fmt.Sprintf("%x", v.StateHash())
	}); err != nil {
		return nil, err
	}
	resp.PersistedSequence = -1
	if a.EventLog != nil {
		seq, err := a.EventLog.GetLatestSequence(r.Context())
		if err != nil {
			return nil, err
		}
		resp.PersistedSequence = seq
	}
	return resp, nil
}

// --- helpers ---

type ticketFilter struct {
	beneficiary common.Address
	pending     bool
	limit       int
	before      int64
}

func parseTicketFilter(r *http.Request) (ticketFilter, error) {
	q := r.URL.Query()
	var f ticketFilter
	var err error
	if s := q.Get("beneficiary"); s != "" {
		if f.beneficiary, err = parseAddress(s); err != nil {
			return f, err
		}
	}
	if s := q.Get("pending"); s != "" {
		if f.pending, err = strconv.ParseBool(s); err != nil {
			return f, fmt.Errorf("%w: pending: %v", errBadRequest, err)
		}
	}
	f.limit, f.before, err = pageParams(q.Get("limit"), q.Get("before"))
	return f, err
}

func pageParams(limitStr, beforeStr string) (int, int64, error) {
	var limit int
	var before int64
	var err error
	if limitStr != "" {
		if limit, err = strconv.Atoi(limitStr); err != nil {
			return 0, 0, fmt.Errorf("%w: limit: %v", errBadRequest, err)
		}
	}
	if beforeStr != "" {
		if before, err = strconv.ParseInt(beforeStr, 10, 64); err != nil {
			return 0, 0, fmt.Errorf("%w: before: %v", errBadRequest, err)
		}
	}
	return limit, before, nil
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: invalid address %q", errBadRequest, s)
	}
	return common.HexToAddress(s), nil
}

func parseUint(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid id %q", errBadRequest, s)
	}
	return v, nil
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}
