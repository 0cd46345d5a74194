package rpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"escrowd/crypto"
	"escrowd/native/escrow"
)

const (
	codeEscrowInvalidParams = -32021
	codeEscrowNotFound      = -32022
	codeEscrowForbidden     = -32023
	codeEscrowConflict      = -32024
	codeEscrowInternal      = -32025
)

type escrowCreateParams struct {
	Depositor string `json:"depositor"`
	Payee     string `json:"payee"`
	Deadline  int64  `json:"deadline"`
	Salt      string `json:"salt,omitempty"`
}

type escrowAddressParams struct {
	Address string `json:"address"`
}

type escrowCallerParams struct {
	Address string `json:"address"`
	Caller  string `json:"caller"`
}

type escrowFundParams struct {
	Address string `json:"address"`
	Caller  string `json:"caller"`
	Amount  string `json:"amount"`
}

type escrowReleaseParams struct {
	Address   string `json:"address"`
	Amount    string `json:"amount"`
	Signature string `json:"signature"`
}

type escrowListParams struct {
	Depositor string `json:"depositor"`
}

type escrowEventsParams struct {
	Limit int `json:"limit,omitempty"`
}

type agreementJSON struct {
	Address   string `json:"address"`
	Registry  string `json:"registry"`
	Depositor string `json:"depositor"`
	Payee     string `json:"payee"`
	Deadline  int64  `json:"deadline"`
	FeePct    uint8  `json:"feePercent"`
	Status    string `json:"status"`
	Deposit   string `json:"depositAmount"`
	Balance   string `json:"balance,omitempty"`
	CreatedAt int64  `json:"createdAt"`
}

type predictResult struct {
	Address string `json:"address"`
}

type balanceResult struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
	Nonce   uint64 `json:"nonce"`
}

type eventJSON struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

func formatAgreement(a *escrow.Agreement, balance *big.Int) agreementJSON {
	out := agreementJSON{
		Address:   crypto.AddressFromRaw(a.Address).String(),
		Registry:  crypto.AddressFromRaw(a.Registry).String(),
		Depositor: crypto.AddressFromRaw(a.Depositor).String(),
		Payee:     crypto.AddressFromRaw(a.Payee).String(),
		Deadline:  a.Deadline,
		FeePct:    a.FeePercent,
		Status:    a.Status(),
		Deposit:   a.DepositAmount.String(),
		CreatedAt: a.CreatedAt,
	}
	if balance != nil {
		out.Balance = balance.String()
	}
	return out
}

func (s *Server) handleEscrowCreate(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params escrowCreateParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	depositor, err := parseBech32Address(params.Depositor)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	payee, err := parseBech32Address(params.Payee)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	salt, err := parseSaltHex(params.Salt)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	agreement, err := s.node.EscrowCreate(depositor, payee, params.Deadline, salt)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatAgreement(agreement, nil))
}

func (s *Server) handleEscrowPredictAddress(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params escrowCreateParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	depositor, err := parseBech32Address(params.Depositor)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	payee, err := parseBech32Address(params.Payee)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	salt, err := parseSaltHex(params.Salt)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	addr, err := s.node.EscrowPredictAddress(depositor, payee, params.Deadline, salt)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, predictResult{Address: crypto.AddressFromRaw(addr).String()})
}

func (s *Server) handleEscrowGet(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params escrowAddressParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	addr, err := parseBech32Address(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	agreement, balance, err := s.node.EscrowGet(addr)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatAgreement(agreement, balance))
}

func (s *Server) handleEscrowList(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params escrowListParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	depositor, err := parseBech32Address(params.Depositor)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	list, err := s.node.EscrowList(depositor)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	addresses := make([]string, len(list))
	for i := range list {
		addresses[i] = crypto.AddressFromRaw(list[i]).String()
	}
	writeResult(w, req.ID, addresses)
}

func (s *Server) handleEscrowFund(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params escrowFundParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	addr, err := parseBech32Address(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.EscrowFund(addr, caller, amount); err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleEscrowRelease(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params escrowReleaseParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	addr, err := parseBech32Address(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	signature, err := parseSignatureHex(params.Signature)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.EscrowRelease(addr, amount, signature); err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleEscrowReclaim(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params escrowCallerParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	addr, err := parseBech32Address(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.EscrowReclaim(addr, caller); err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleEscrowRemove(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params escrowAddressParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	addr, err := parseBech32Address(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.EscrowRemove(addr); err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleEscrowEvents(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	limit := 0
	if len(req.Params) > 0 {
		var params escrowEventsParams
		if err := json.Unmarshal(req.Params[0], &params); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
			return
		}
		limit = params.Limit
	}
	batch := s.node.Events(limit)
	out := make([]eventJSON, len(batch))
	for i := range batch {
		out[i] = eventJSON{Type: batch[i].Type, Attributes: batch[i].Attributes}
	}
	writeResult(w, req.ID, out)
}

func (s *Server) handleBankBalance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params escrowAddressParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	addr, err := parseBech32Address(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	account, err := s.node.GetAccount(addr)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	account = account.Normalize()
	writeResult(w, req.ID, balanceResult{
		Address: crypto.AddressFromRaw(addr).String(),
		Balance: account.Balance.String(),
		Nonce:   account.Nonce,
	})
}

func decodeSingleParam(w http.ResponseWriter, req *RPCRequest, out interface{}) bool {
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

func parseBech32Address(addr string) ([20]byte, error) {
	trimmed := strings.TrimSpace(addr)
	if trimmed == "" {
		return [20]byte{}, fmt.Errorf("address required")
	}
	decoded, err := crypto.DecodeAddress(trimmed)
	if err != nil {
		return [20]byte{}, err
	}
	return decoded.Raw(), nil
}

func parsePositiveBigInt(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount")
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return amount, nil
}

// parseSaltHex accepts an optional 0x-prefixed salt of up to 32 bytes,
// left-aligned into the deployment salt. An empty value is the zero salt.
func parseSaltHex(value string) ([32]byte, error) {
	var out [32]byte
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return out, nil
	}
	if !strings.HasPrefix(strings.ToLower(trimmed), "0x") {
		return out, fmt.Errorf("salt must be 0x-prefixed")
	}
	cleaned := strings.TrimPrefix(strings.TrimPrefix(trimmed, "0x"), "0X")
	if len(cleaned)%2 != 0 {
		return out, fmt.Errorf("salt hex length must be even")
	}
	decoded, err := hex.DecodeString(cleaned)
	if err != nil {
		return out, err
	}
	if len(decoded) > len(out) {
		return out, fmt.Errorf("salt must be <= 32 bytes")
	}
	copy(out[:], decoded)
	return out, nil
}

func parseSignatureHex(value string) ([]byte, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("signature required")
	}
	cleaned := strings.TrimPrefix(strings.TrimPrefix(trimmed, "0x"), "0X")
	decoded, err := hex.DecodeString(cleaned)
	if err != nil {
		return nil, err
	}
	return decoded, nil
}

func writeEscrowError(w http.ResponseWriter, id interface{}, err error) {
	if err == nil {
		return
	}
	status := http.StatusInternalServerError
	code := codeEscrowInternal
	message := "internal_error"
	data := err.Error()
	switch {
	case strings.Contains(err.Error(), "not found") || strings.Contains(err.Error(), "registry not initialised"):
		status = http.StatusNotFound
		code = codeEscrowNotFound
		message = "not_found"
	case errors.Is(err, escrow.ErrOnlyDepositorFund) ||
		errors.Is(err, escrow.ErrOnlyDepositorReclaim) ||
		strings.Contains(err.Error(), "not the registry owner") ||
		strings.Contains(err.Error(), "not the pending owner"):
		status = http.StatusForbidden
		code = codeEscrowForbidden
		message = "forbidden"
	case errors.Is(err, escrow.ErrInvalidDepositor) ||
		errors.Is(err, escrow.ErrInvalidPayee) ||
		errors.Is(err, escrow.ErrInvalidDeadline) ||
		errors.Is(err, escrow.ErrInvalidSignature) ||
		errors.Is(err, escrow.ErrInvalidSignatureLength):
		status = http.StatusBadRequest
		code = codeEscrowInvalidParams
		message = "invalid_params"
	case errors.Is(err, escrow.ErrAlreadyFunded) ||
		errors.Is(err, escrow.ErrNotFunded) ||
		errors.Is(err, escrow.ErrAlreadyReleased) ||
		errors.Is(err, escrow.ErrDeadlineExpired) ||
		errors.Is(err, escrow.ErrDeadlineNotReached) ||
		errors.Is(err, escrow.ErrAmountExceedsDeposit) ||
		errors.Is(err, escrow.ErrZeroValue) ||
		errors.Is(err, escrow.ErrNotEmpty) ||
		errors.Is(err, escrow.ErrDeploymentFailed) ||
		errors.Is(err, escrow.ErrNoFees) ||
		errors.Is(err, escrow.ErrPaused):
		status = http.StatusConflict
		code = codeEscrowConflict
		message = "conflict"
	}
	writeError(w, status, id, code, message, data)
}
