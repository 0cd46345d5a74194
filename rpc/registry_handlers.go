package rpc

import (
	"net/http"

	"escrowd/crypto"
	"escrowd/native/escrow"
)

type registryCallerParams struct {
	Caller string `json:"caller"`
}

type registryTransferParams struct {
	Caller   string `json:"caller"`
	NewOwner string `json:"newOwner"`
}

type registryInfoResult struct {
	Address      string `json:"address"`
	FeeRecipient string `json:"feeRecipient"`
	Owner        string `json:"owner"`
	PendingOwner string `json:"pendingOwner,omitempty"`
	Paused       bool   `json:"paused"`
	FeePercent   uint8  `json:"feePercent"`
	FeeBalance   string `json:"feeBalance"`
}

type withdrawResult struct {
	Amount string `json:"amount"`
}

func formatRegistry(record *escrow.RegistryRecord, balance string) registryInfoResult {
	out := registryInfoResult{
		Address:      crypto.AddressFromRaw(record.Address).String(),
		FeeRecipient: crypto.AddressFromRaw(record.FeeRecipient).String(),
		Owner:        crypto.AddressFromRaw(record.Owner).String(),
		Paused:       record.Paused,
		FeePercent:   escrow.RegistryFeePercent,
		FeeBalance:   balance,
	}
	if record.PendingOwner != ([20]byte{}) {
		out.PendingOwner = crypto.AddressFromRaw(record.PendingOwner).String()
	}
	return out
}

func (s *Server) handleRegistryInfo(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	record, balance, err := s.node.RegistryInfo()
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatRegistry(record, balance.String()))
}

func (s *Server) handleRegistryPause(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params registryCallerParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.RegistryPause(caller); err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleRegistryUnpause(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params registryCallerParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.RegistryUnpause(caller); err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleRegistryWithdrawFees(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params registryCallerParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := s.node.RegistryWithdrawFees(caller)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, withdrawResult{Amount: amount.String()})
}

func (s *Server) handleRegistryTransferOwnership(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params registryTransferParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	newOwner, err := parseBech32Address(params.NewOwner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.RegistryTransferOwnership(caller, newOwner); err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleRegistryAcceptOwnership(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params registryCallerParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.RegistryAcceptOwnership(caller); err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}
