package rpc

import (
	"encoding/hex"
	"net/http"
	"strconv"

	"vaultswap/core/types"
	"vaultswap/native/escrow"
)

type initiateParams struct {
	ID            string `json:"id"`
	Buyer         string `json:"buyer"`
	Seller        string `json:"seller"`
	DepositAsset  string `json:"depositAsset"`
	DepositAmount string `json:"depositAmount"`
	ReceiveAsset  string `json:"receiveAsset"`
	ReceiveAmount string `json:"receiveAmount"`
	Expiry        int64  `json:"expiry"`
}

type actorParams struct {
	Key    string `json:"key"`
	Caller string `json:"caller"`
}

type keyParams struct {
	Key string `json:"key"`
}

type eventsParams struct {
	Prefix string `json:"prefix"`
	Limit  int    `json:"limit"`
}

type balanceGetParams struct {
	Address string `json:"address"`
	Asset   string `json:"asset"`
}

type balanceCreditParams struct {
	Address string `json:"address"`
	Asset   string `json:"asset"`
	Amount  string `json:"amount"`
}

type escrowResult struct {
	ID            string `json:"id"`
	Key           string `json:"key"`
	Buyer         string `json:"buyer"`
	Seller        string `json:"seller"`
	VaultAddress  string `json:"vaultAddress"`
	DepositAsset  string `json:"depositAsset"`
	DepositAmount string `json:"depositAmount"`
	ReceiveAsset  string `json:"receiveAsset"`
	ReceiveAmount string `json:"receiveAmount"`
	State         string `json:"state"`
	CreatedAt     int64  `json:"createdAt"`
	Expiry        int64  `json:"expiry"`
	BuyerRefund   bool   `json:"buyerRefund"`
	SellerRefund  bool   `json:"sellerRefund"`
}

type eventResult struct {
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

type balanceResult struct {
	Address string `json:"address"`
	Asset   string `json:"asset"`
	Amount  string `json:"amount"`
}

type statusResult struct {
	Key   string `json:"key"`
	State string `json:"state"`
}

func formatEscrow(esc *escrow.Escrow) escrowResult {
	return escrowResult{
		ID:            esc.ID,
		Key:           "0x" + hex.EncodeToString(esc.Key[:]),
		Buyer:         "0x" + hex.EncodeToString(esc.Buyer[:]),
		Seller:        "0x" + hex.EncodeToString(esc.Seller[:]),
		VaultAddress:  "0x" + hex.EncodeToString(esc.VaultAddr[:]),
		DepositAsset:  esc.DepositAsset.String(),
		DepositAmount: strconv.FormatUint(esc.DepositAmount, 10),
		ReceiveAsset:  esc.ReceiveAsset.String(),
		ReceiveAmount: strconv.FormatUint(esc.ReceiveAmount, 10),
		State:         esc.State.String(),
		CreatedAt:     esc.CreatedAt,
		Expiry:        esc.Expiry,
		BuyerRefund:   esc.BuyerRefund,
		SellerRefund:  esc.SellerRefund,
	}
}

func (s *Server) handleInitiate(w http.ResponseWriter, req *RPCRequest) {
	var params initiateParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	buyer, err := parseAddress(params.Buyer)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	seller, err := parseAddress(params.Seller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	depositAsset, err := escrow.ParseAsset(params.DepositAsset)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	receiveAsset, err := escrow.ParseAsset(params.ReceiveAsset)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	depositAmount, err := parseAmount(params.DepositAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	receiveAmount, err := parseAmount(params.ReceiveAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	esc, err := s.engine.Initiate(params.ID, buyer, seller, depositAsset, depositAmount, receiveAsset, receiveAmount, params.Expiry)
	if err != nil {
		s.metrics.OperationFailed("initiate")
		writeEngineError(w, req.ID, err)
		return
	}
	s.metrics.OperationProcessed("initiate")
	writeResult(w, req.ID, formatEscrow(esc))
}

// actorHandler wraps one key+caller engine transition into an RPC handler.
func (s *Server) actorHandler(op string, fn func(key [32]byte, caller [20]byte) error) func(http.ResponseWriter, *RPCRequest) {
	return func(w http.ResponseWriter, req *RPCRequest) {
		var params actorParams
		if err := decodeParams(req, &params); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
			return
		}
		key, err := parseKey(params.Key)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
			return
		}
		caller, err := parseAddress(params.Caller)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
			return
		}
		if err := fn(key, caller); err != nil {
			s.metrics.OperationFailed(op)
			writeEngineError(w, req.ID, err)
			return
		}
		s.metrics.OperationProcessed(op)
		state := "unknown"
		if esc, getErr := s.engine.Get(key); getErr == nil {
			state = esc.State.String()
		} else if op == "close" {
			state = "closed"
		}
		writeResult(w, req.ID, statusResult{Key: params.Key, State: state})
	}
}

func (s *Server) handleAutoRelease(w http.ResponseWriter, req *RPCRequest) {
	var params keyParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	key, err := parseKey(params.Key)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.engine.AutoRelease(key); err != nil {
		s.metrics.OperationFailed("auto_release")
		writeEngineError(w, req.ID, err)
		return
	}
	s.metrics.OperationProcessed("auto_release")
	result := statusResult{Key: params.Key, State: "released"}
	if esc, getErr := s.engine.Get(key); getErr == nil {
		result.State = esc.State.String()
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleGet(w http.ResponseWriter, req *RPCRequest) {
	var params keyParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	key, err := parseKey(params.Key)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	esc, err := s.engine.Get(key)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatEscrow(esc))
}

func (s *Server) handleEvents(w http.ResponseWriter, req *RPCRequest) {
	params := eventsParams{Limit: 100}
	if len(req.Params) > 0 {
		if err := decodeParams(req, &params); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
			return
		}
	}
	if s.log == nil {
		writeResult(w, req.ID, []eventResult{})
		return
	}
	entries := s.log.Entries(params.Prefix, params.Limit)
	results := make([]eventResult, 0, len(entries))
	for _, entry := range entries {
		res := eventResult{Sequence: entry.Sequence, Type: entry.Event.EventType()}
		if carrier, ok := entry.Event.(interface{ Event() *types.Event }); ok {
			if evt := carrier.Event(); evt != nil {
				res.Attributes = evt.Attributes
			}
		}
		results = append(results, res)
	}
	writeResult(w, req.ID, results)
}

func (s *Server) handleBalanceGet(w http.ResponseWriter, req *RPCRequest) {
	var params balanceGetParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	asset, err := escrow.ParseAsset(params.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	account, err := s.ledger.Account(addr)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	amount := account.Balance
	if !asset.IsNative() {
		amount = account.TokenBalance(asset.Token)
	}
	writeResult(w, req.ID, balanceResult{
		Address: params.Address,
		Asset:   asset.String(),
		Amount:  strconv.FormatUint(amount, 10),
	})
}

func (s *Server) handleBalanceCredit(w http.ResponseWriter, req *RPCRequest) {
	var params balanceCreditParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	asset, err := escrow.ParseAsset(params.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.ledger.Credit(addr, asset, amount); err != nil {
		s.metrics.OperationFailed("balance_credit")
		writeEngineError(w, req.ID, err)
		return
	}
	s.metrics.OperationProcessed("balance_credit")
	writeResult(w, req.ID, balanceResult{
		Address: params.Address,
		Asset:   asset.String(),
		Amount:  strconv.FormatUint(amount, 10),
	})
}
