package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"paylock/core/types"
	"paylock/crypto"
	"paylock/native/common"
	"paylock/native/escrow"
)

type createParams struct {
	// From is the creating caller, who becomes the buyer.
	From   string `json:"from"`
	Seller string `json:"seller"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type createResult struct {
	ID uint64 `json:"id"`
}

type depositParams struct {
	ID    uint64 `json:"id"`
	From  string `json:"from"`
	Value string `json:"value,omitempty"`
}

type callerParams struct {
	ID   uint64 `json:"id"`
	From string `json:"from"`
}

type resolveParams struct {
	ID        uint64 `json:"id"`
	From      string `json:"from"`
	BuyerWins bool   `json:"buyerWins"`
}

type idParams struct {
	ID uint64 `json:"id"`
}

type balanceParams struct {
	Address string `json:"address"`
	Token   string `json:"token,omitempty"`
}

// AgreementResult is the wire form of one stored agreement.
type AgreementResult struct {
	ID     uint64 `json:"id"`
	Buyer  string `json:"buyer"`
	Seller string `json:"seller"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
	State  string `json:"state"`
}

func agreementResult(a *escrow.Agreement) AgreementResult {
	asset := "native"
	if !a.Asset.Native() {
		asset = a.Asset.Token
	}
	return AgreementResult{
		ID:     a.ID,
		Buyer:  crypto.NewAddress(crypto.PaylockPrefix, a.Buyer[:]).String(),
		Seller: crypto.NewAddress(crypto.PaylockPrefix, a.Seller[:]).String(),
		Asset:  asset,
		Amount: a.Amount.String(),
		State:  a.State.String(),
	}
}

func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("expected one parameter object")
	}
	return json.Unmarshal(req.Params[0], out)
}

func parseAddress(raw string) ([20]byte, error) {
	var out [20]byte
	addr, err := crypto.DecodeAddress(strings.TrimSpace(raw))
	if err != nil {
		return out, err
	}
	copy(out[:], addr.Bytes())
	return out, nil
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid decimal amount %q", raw)
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("amount must be non-negative")
	}
	return value, nil
}

func parseAsset(raw string) escrow.Asset {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || strings.EqualFold(trimmed, "native") {
		return escrow.NativeAsset()
	}
	return escrow.TokenAsset(trimmed)
}

// mutate serializes one engine operation, commits on success and records
// metrics either way.
func (s *Server) mutate(operation string, op func() error) error {
	started := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	err := op()
	if err == nil {
		err = s.state.Commit()
	}
	s.metrics.Observe(operation, err, started)
	return err
}

// view runs one read-only query under the read lock. Reads still touch the
// state manager's overlay, so they must not overlap a mutation.
func (s *Server) view(op func()) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	op()
}

func engineErrorCode(err error) int {
	switch {
	case errors.Is(err, escrow.ErrNotBuyer),
		errors.Is(err, escrow.ErrNotSeller),
		errors.Is(err, escrow.ErrNotArbitrator):
		return codeUnauthorized
	case errors.Is(err, escrow.ErrNotFound),
		errors.Is(err, escrow.ErrInvalidState),
		errors.Is(err, escrow.ErrInvalidNativeAmount),
		errors.Is(err, escrow.ErrNativeNotAccepted):
		return codeInvalidParams
	case errors.Is(err, common.ErrReentrantCall):
		return codeServerError
	default:
		return codeServerError
	}
}

func writeEngineError(w http.ResponseWriter, id interface{}, err error) {
	writeError(w, http.StatusOK, id, engineErrorCode(err), err.Error())
}

func (s *Server) handleCreate(w http.ResponseWriter, req *RPCRequest) {
	var params createParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error())
		return
	}
	buyer, err := parseAddress(params.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, fmt.Sprintf("from: %v", err))
		return
	}
	seller, err := parseAddress(params.Seller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, fmt.Sprintf("seller: %v", err))
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error())
		return
	}
	var id uint64
	err = s.mutate("create", func() error {
		created, err := s.engine.CreateAgreement(buyer, seller, parseAsset(params.Asset), amount)
		id = created
		return err
	})
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, createResult{ID: id})
}

func (s *Server) handleDeposit(w http.ResponseWriter, req *RPCRequest) {
	var params depositParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error())
		return
	}
	caller, err := parseAddress(params.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, fmt.Sprintf("from: %v", err))
		return
	}
	value, err := parseAmount(params.Value)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error())
		return
	}
	if err := s.mutate("deposit", func() error {
		return s.engine.DepositPayment(params.ID, caller, value)
	}); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleConfirm(w http.ResponseWriter, req *RPCRequest) {
	var params callerParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error())
		return
	}
	caller, err := parseAddress(params.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, fmt.Sprintf("from: %v", err))
		return
	}
	if err := s.mutate("confirm", func() error {
		return s.engine.ConfirmDelivery(params.ID, caller)
	}); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleDispute(w http.ResponseWriter, req *RPCRequest) {
	var params callerParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error())
		return
	}
	caller, err := parseAddress(params.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, fmt.Sprintf("from: %v", err))
		return
	}
	if err := s.mutate("dispute", func() error {
		return s.engine.RaiseDispute(params.ID, caller)
	}); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleResolve(w http.ResponseWriter, req *RPCRequest) {
	var params resolveParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error())
		return
	}
	caller, err := parseAddress(params.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, fmt.Sprintf("from: %v", err))
		return
	}
	if err := s.mutate("resolve", func() error {
		return s.engine.ResolveDispute(params.ID, caller, params.BuyerWins)
	}); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleGet(w http.ResponseWriter, req *RPCRequest) {
	var params idParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error())
		return
	}
	var (
		agreement *escrow.Agreement
		err       error
	)
	s.view(func() { agreement, err = s.engine.Agreement(params.ID) })
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, agreementResult(agreement))
}

func (s *Server) handleCount(w http.ResponseWriter, req *RPCRequest) {
	var (
		count uint64
		err   error
	)
	s.view(func() { count, err = s.engine.AgreementCount() })
	if err != nil {
		writeError(w, http.StatusOK, req.ID, codeServerError, err.Error())
		return
	}
	writeResult(w, req.ID, count)
}

func (s *Server) handleArbitrator(w http.ResponseWriter, req *RPCRequest) {
	var arbitrator [20]byte
	s.view(func() { arbitrator = s.engine.Arbitrator() })
	writeResult(w, req.ID, crypto.NewAddress(crypto.PaylockPrefix, arbitrator[:]).String())
}

func (s *Server) handleListEvents(w http.ResponseWriter, req *RPCRequest) {
	var params idParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error())
		return
	}
	var (
		events []types.Event
		err    error
	)
	s.view(func() { events, err = s.state.EventsList(params.ID) })
	if err != nil {
		writeError(w, http.StatusOK, req.ID, codeServerError, err.Error())
		return
	}
	if events == nil {
		events = []types.Event{}
	}
	writeResult(w, req.ID, events)
}

func (s *Server) handleGetBalance(w http.ResponseWriter, req *RPCRequest) {
	var params balanceParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error())
		return
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, fmt.Sprintf("address: %v", err))
		return
	}
	symbol := strings.TrimSpace(params.Token)
	if symbol == "" || strings.EqualFold(symbol, "native") {
		var (
			account *types.Account
			err     error
		)
		s.view(func() { account, err = s.state.GetAccount(addr[:]) })
		if err != nil {
			writeError(w, http.StatusOK, req.ID, codeServerError, err.Error())
			return
		}
		writeResult(w, req.ID, account.EnsureBalance().Balance.String())
		return
	}
	ledger, ok := s.tokens.Ledger(symbol)
	if !ok {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, fmt.Sprintf("unknown token %q", symbol))
		return
	}
	var balance string
	s.view(func() { balance = ledger.BalanceOf(addr).String() })
	writeResult(w, req.ID, balance)
}
