// services/chain_client.go
package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	secpecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	"github.com/ThirDecade2020/GitPaid/utils"
)

// Submitter moves value between two on-chain accounts and returns the
// transaction id. Implementations must either complete the transfer or fail
// definitively; the bounty state machine writes status only after a receipt.
type Submitter interface {
	SubmitTransfer(ctx context.Context, from, to string, amountBase *big.Int, privKey []byte) (string, error)
}

// ChainClient is a JSON-RPC Submitter for the escrow chain node.
type ChainClient struct {
	url    string
	client *http.Client
}

func NewChainClient(rpcURL string) *ChainClient {
	return &ChainClient{
		url:    rpcURL,
		client: utils.HTTPClient,
	}
}

type jsonRPCRequest struct {
	Jsonrpc string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

type jsonRPCResponse struct {
	Jsonrpc string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *jsonRPCError   `json:"error,omitempty"`
	ID      int             `json:"id"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type transferParams struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Value     string `json:"value"` // base units, decimal string
	Signature string `json:"signature"`
}

// SubmitTransfer signs the transfer envelope and submits it via the node's
// transfer endpoint. Insufficient balance reported by the node maps to
// insufficient_funds; everything else (including timeouts) is
// transfer_failed. The private key is not retained.
func (c *ChainClient) SubmitTransfer(ctx context.Context, from, to string, amountBase *big.Int, privKey []byte) (string, error) {
	envelope := fmt.Sprintf("%s:%s:%s", from, to, amountBase.String())
	digest := sha256.Sum256([]byte(envelope))

	key := secp256k1.PrivKeyFromBytes(privKey)
	sig := secpecdsa.Sign(key, digest[:])

	params := transferParams{
		From:      from,
		To:        to,
		Value:     amountBase.String(),
		Signature: hex.EncodeToString(sig.Serialize()),
	}

	var result struct {
		TxID string `json:"tx_id"`
	}
	if err := c.call(ctx, "escrow_submitTransfer", []interface{}{params}, &result); err != nil {
		return "", err
	}
	if result.TxID == "" {
		return "", Errf(ErrKindTransferFailed, "node accepted transfer but returned no transaction id")
	}
	return result.TxID, nil
}

func (c *ChainClient) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	reqBody := jsonRPCRequest{
		Jsonrpc: "2.0",
		Method:  method,
		Params:  params,
		ID:      1,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return WrapErr(ErrKindTransferFailed, err, "failed to marshal rpc request")
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.url, bytes.NewBuffer(jsonData))
	if err != nil {
		return WrapErr(ErrKindTransferFailed, err, "failed to create rpc request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return WrapErr(ErrKindTransferFailed, err, "chain rpc unreachable")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return WrapErr(ErrKindTransferFailed, err, "failed to read rpc response")
	}
	if resp.StatusCode != http.StatusOK {
		return Errf(ErrKindTransferFailed, "chain rpc returned status %d: %s", resp.StatusCode, string(body))
	}

	var rpcResp jsonRPCResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return WrapErr(ErrKindTransferFailed, err, "failed to decode rpc response")
	}
	if rpcResp.Error != nil {
		if strings.Contains(strings.ToLower(rpcResp.Error.Message), "insufficient") {
			return Errf(ErrKindInsufficientFunds, "chain node: %s", rpcResp.Error.Message)
		}
		return Errf(ErrKindTransferFailed, "chain node error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return WrapErr(ErrKindTransferFailed, err, "failed to decode rpc result")
		}
	}
	return nil
}
