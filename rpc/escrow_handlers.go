package rpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"escrowd/core/types"
	"escrowd/native/escrow"
)

const (
	codeEscrowInvalidParams  = -32021
	codeEscrowNotFound       = -32022
	codeEscrowForbidden      = -32023
	codeEscrowConflict       = -32024
	codeEscrowTransferFailed = -32025
	codeEscrowInternal       = -32026
)

type milestoneParam struct {
	Amount      string `json:"amount"`
	Description string `json:"description"`
}

type escrowCreateParams struct {
	Payer      string           `json:"payer"`
	Payee      string           `json:"payee"`
	Asset      string           `json:"asset"`
	Amount     string           `json:"amount"`
	Deadline   int64            `json:"deadline"`
	Arbitrator string           `json:"arbitrator,omitempty"`
	Milestones []milestoneParam `json:"milestones"`
	Attached   string           `json:"attached,omitempty"`
}

type escrowIDParams struct {
	ID string `json:"id"`
}

type escrowActorParams struct {
	ID     string `json:"id"`
	Caller string `json:"caller"`
}

type escrowReleaseParams struct {
	ID     string `json:"id"`
	Caller string `json:"caller"`
	Index  int    `json:"milestoneIndex"`
}

type escrowResolveParams struct {
	ID          string `json:"id"`
	Caller      string `json:"caller"`
	PayerAmount string `json:"payerAmount"`
	PayeeAmount string `json:"payeeAmount"`
}

type escrowListParams struct {
	Address string `json:"address"`
}

type escrowCreateResult struct {
	ID string `json:"id"`
}

type milestoneJSON struct {
	Amount      string `json:"amount"`
	Released    bool   `json:"released"`
	Description string `json:"description"`
}

type escrowJSON struct {
	ID             string  `json:"id"`
	Payer          string  `json:"payer"`
	Payee          string  `json:"payee"`
	Arbitrator     *string `json:"arbitrator,omitempty"`
	Asset          string  `json:"asset"`
	TotalAmount    string  `json:"totalAmount"`
	ReleasedAmount string  `json:"releasedAmount"`
	Deadline       int64   `json:"deadline"`
	CreatedAt      int64   `json:"createdAt"`
	Status         string  `json:"status"`
}

func (s *Server) handleEscrowCreate(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params escrowCreateParams
	if !decodeParams(w, req, &params) {
		return
	}
	payer, err := parseAddress(params.Payer)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	payee, err := parseAddress(params.Payee)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	asset, err := parseAsset(params.Asset)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	amount, err := parseBigInt(params.Amount)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	var attached *big.Int
	if strings.TrimSpace(params.Attached) != "" {
		if attached, err = parseBigInt(params.Attached); err != nil {
			writeInvalidParams(w, req.ID, err)
			return
		}
	}
	var arbitrator [20]byte
	if strings.TrimSpace(params.Arbitrator) != "" {
		if arbitrator, err = parseAddress(params.Arbitrator); err != nil {
			writeInvalidParams(w, req.ID, err)
			return
		}
	}
	amounts := make([]*big.Int, len(params.Milestones))
	descriptions := make([]string, len(params.Milestones))
	for i, ms := range params.Milestones {
		if amounts[i], err = parseBigInt(ms.Amount); err != nil {
			writeInvalidParams(w, req.ID, fmt.Errorf("milestone %d: %w", i, err))
			return
		}
		descriptions[i] = ms.Description
	}
	esc, err := s.engine.Create(escrow.CreateParams{
		Payer:                 payer,
		Payee:                 payee,
		Asset:                 asset,
		TotalAmount:           amount,
		Deadline:              params.Deadline,
		Arbitrator:            arbitrator,
		MilestoneAmounts:      amounts,
		MilestoneDescriptions: descriptions,
		AttachedValue:         attached,
	})
	s.observe("create", err)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, escrowCreateResult{ID: formatID(esc.ID)})
}

func (s *Server) handleEscrowReleaseMilestone(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params escrowReleaseParams
	if !decodeParams(w, req, &params) {
		return
	}
	id, caller, ok := parseActor(w, req, params.ID, params.Caller)
	if !ok {
		return
	}
	err := s.engine.ReleaseMilestone(id, caller, params.Index)
	s.observe("release_milestone", err)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	s.writeEscrowState(w, req, id)
}

func (s *Server) handleEscrowDispute(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params escrowActorParams
	if !decodeParams(w, req, &params) {
		return
	}
	id, caller, ok := parseActor(w, req, params.ID, params.Caller)
	if !ok {
		return
	}
	err := s.engine.RaiseDispute(id, caller)
	s.observe("dispute", err)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	s.writeEscrowState(w, req, id)
}

func (s *Server) handleEscrowResolve(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params escrowResolveParams
	if !decodeParams(w, req, &params) {
		return
	}
	id, caller, ok := parseActor(w, req, params.ID, params.Caller)
	if !ok {
		return
	}
	payerAmount, err := parseBigInt(params.PayerAmount)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	payeeAmount, err := parseBigInt(params.PayeeAmount)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	err = s.engine.ResolveDispute(id, caller, payerAmount, payeeAmount)
	s.observe("resolve", err)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	s.writeEscrowState(w, req, id)
}

func (s *Server) handleEscrowCancel(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params escrowActorParams
	if !decodeParams(w, req, &params) {
		return
	}
	id, caller, ok := parseActor(w, req, params.ID, params.Caller)
	if !ok {
		return
	}
	err := s.engine.Cancel(id, caller)
	s.observe("cancel", err)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	s.writeEscrowState(w, req, id)
}

func (s *Server) handleEscrowGet(w http.ResponseWriter, req *RPCRequest) {
	var params escrowIDParams
	if !decodeParams(w, req, &params) {
		return
	}
	id, err := parseID(params.ID)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	esc, err := s.engine.GetEscrow(id)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatEscrow(esc))
}

func (s *Server) handleEscrowGetMilestones(w http.ResponseWriter, req *RPCRequest) {
	var params escrowIDParams
	if !decodeParams(w, req, &params) {
		return
	}
	id, err := parseID(params.ID)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	milestones, err := s.engine.GetMilestones(id)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	result := make([]milestoneJSON, len(milestones))
	for i, ms := range milestones {
		result[i] = milestoneJSON{
			Amount:      ms.Amount.String(),
			Released:    ms.Released,
			Description: ms.Description,
		}
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleEscrowList(w http.ResponseWriter, req *RPCRequest, list func([20]byte) ([][32]byte, error)) {
	var params escrowListParams
	if !decodeParams(w, req, &params) {
		return
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	ids, err := list(addr)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	result := make([]string, len(ids))
	for i, id := range ids {
		result[i] = formatID(id)
	}
	writeResult(w, req.ID, result)
}

type escrowEventsParams struct {
	Type string `json:"type,omitempty"`
}

type eventJSON struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

func (s *Server) handleEscrowEvents(w http.ResponseWriter, req *RPCRequest) {
	var params escrowEventsParams
	if len(req.Params) > 0 && !decodeParams(w, req, &params) {
		return
	}
	result := []eventJSON{}
	if s.feed != nil {
		recorded := s.feed.Events()
		if params.Type != "" {
			recorded = s.feed.ByType(params.Type)
		}
		for _, evt := range recorded {
			entry := eventJSON{Type: evt.EventType()}
			if typed, ok := evt.(interface{ Event() *types.Event }); ok {
				entry.Attributes = typed.Event().Attributes
			}
			result = append(result, entry)
		}
	}
	writeResult(w, req.ID, result)
}

func (s *Server) writeEscrowState(w http.ResponseWriter, req *RPCRequest, id [32]byte) {
	esc, err := s.engine.GetEscrow(id)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatEscrow(esc))
}

func (s *Server) observe(operation string, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, escrow.ErrTransferFailed), errors.Is(err, escrow.ErrFundingFailed):
		outcome = "transfer_failed"
		s.metrics.ObserveTransferFailure(operation)
	default:
		outcome = "rejected"
	}
	s.metrics.ObserveOperation(operation, outcome)
}

func decodeParams(w http.ResponseWriter, req *RPCRequest, out interface{}) bool {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", "exactly one parameter object expected")
		return false
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return false
	}
	return true
}

func parseActor(w http.ResponseWriter, req *RPCRequest, rawID, rawCaller string) ([32]byte, [20]byte, bool) {
	id, err := parseID(rawID)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return id, [20]byte{}, false
	}
	caller, err := parseAddress(rawCaller)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return id, caller, false
	}
	return id, caller, true
}

func writeInvalidParams(w http.ResponseWriter, id interface{}, err error) {
	writeError(w, http.StatusBadRequest, id, codeEscrowInvalidParams, "invalid_params", err.Error())
}

func writeEscrowError(w http.ResponseWriter, id interface{}, err error) {
	switch {
	case errors.Is(err, escrow.ErrNotFound):
		writeError(w, http.StatusNotFound, id, codeEscrowNotFound, "not_found", err.Error())
	case errors.Is(err, escrow.ErrUnauthorized):
		writeError(w, http.StatusForbidden, id, codeEscrowForbidden, "forbidden", err.Error())
	case errors.Is(err, escrow.ErrInvalidParameters),
		errors.Is(err, escrow.ErrInvalidSplit),
		errors.Is(err, escrow.ErrFundingMismatch):
		writeError(w, http.StatusBadRequest, id, codeEscrowInvalidParams, "invalid_params", err.Error())
	case errors.Is(err, escrow.ErrNotActive),
		errors.Is(err, escrow.ErrNotDisputed),
		errors.Is(err, escrow.ErrAlreadyReleased),
		errors.Is(err, escrow.ErrInvalidMilestone),
		errors.Is(err, escrow.ErrAlreadyStarted),
		errors.Is(err, escrow.ErrExpired):
		writeError(w, http.StatusConflict, id, codeEscrowConflict, "conflict", err.Error())
	case errors.Is(err, escrow.ErrTransferFailed), errors.Is(err, escrow.ErrFundingFailed):
		writeError(w, http.StatusBadGateway, id, codeEscrowTransferFailed, "transfer_failed", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, id, codeEscrowInternal, "internal_error", err.Error())
	}
}

func formatEscrow(esc *escrow.Escrow) escrowJSON {
	out := escrowJSON{
		ID:             formatID(esc.ID),
		Payer:          formatAddress(esc.Payer),
		Payee:          formatAddress(esc.Payee),
		Asset:          esc.Asset.String(),
		TotalAmount:    esc.TotalAmount.String(),
		ReleasedAmount: esc.ReleasedAmount.String(),
		Deadline:       esc.Deadline,
		CreatedAt:      esc.CreatedAt,
		Status:         esc.Status.String(),
	}
	if esc.HasArbitrator() {
		arbitrator := formatAddress(esc.Arbitrator)
		out.Arbitrator = &arbitrator
	}
	return out
}

func formatID(id [32]byte) string { return "0x" + hex.EncodeToString(id[:]) }

func formatAddress(addr [20]byte) string { return "0x" + hex.EncodeToString(addr[:]) }

func parseID(value string) ([32]byte, error) {
	var id [32]byte
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(value), "0x"))
	if err != nil || len(raw) != len(id) {
		return id, fmt.Errorf("malformed escrow id %q", value)
	}
	copy(id[:], raw)
	return id, nil
}

func parseAddress(value string) ([20]byte, error) {
	var addr [20]byte
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(value), "0x"))
	if err != nil || len(raw) != len(addr) {
		return addr, fmt.Errorf("malformed address %q", value)
	}
	copy(addr[:], raw)
	return addr, nil
}

func parseAsset(value string) (escrow.Asset, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(value))
	if trimmed == "" || trimmed == "NATIVE" {
		return escrow.NativeAsset(), nil
	}
	return escrow.TokenAsset(trimmed)
}

func parseBigInt(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("malformed amount %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must be non-negative")
	}
	return amount, nil
}
