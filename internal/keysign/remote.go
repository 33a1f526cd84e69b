package keysign

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/sirupsen/logrus"

	"github.com/rs-ent/starglow-sub015/internal/types"
)

// APIResponse is the envelope returned by the custody signing service.
type APIResponse[T any] struct {
	Data  T             `json:"data,omitempty"`
	Error ErrorResponse `json:"error"`
}

type ErrorResponse struct {
	Message          string `json:"message"`
	DetailedResponse string `json:"details,omitempty"`
}

type signTxRequest struct {
	ChainID     *hexutil.Big  `json:"chainId"`
	Transaction hexutil.Bytes `json:"transaction"`
}

type walletResponse struct {
	Address string `json:"address"`
}

// CustodyApi is a client for the custody service that holds escrow keys.
type CustodyApi struct {
	url    string
	token  string
	client *http.Client
	logger logrus.FieldLogger
}

func NewCustodyApi(url, token string, timeout time.Duration, logger logrus.FieldLogger) *CustodyApi {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CustodyApi{
		url:    url,
		token:  token,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

var _ Wallets = (*CustodyApi)(nil)

func (c *CustodyApi) Wallet(ctx context.Context, address string) (Signer, error) {
	var res walletResponse
	status, err := c.call(ctx, http.MethodGet, "/wallets/"+address, nil, &res)
	if status == http.StatusNotFound {
		return nil, types.NewError(types.ErrEscrowWalletNotFound, fmt.Sprintf("escrow wallet %s not found", address))
	}
	if err != nil {
		return nil, fmt.Errorf("c.call(wallet): %w", err)
	}
	if !common.IsHexAddress(res.Address) {
		return nil, fmt.Errorf("custody returned invalid address %q", res.Address)
	}
	return &RemoteSigner{api: c, address: common.HexToAddress(res.Address)}, nil
}

func (c *CustodyApi) call(ctx context.Context, method, endpoint string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("json.Marshal: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url+endpoint, reader)
	if err != nil {
		return 0, fmt.Errorf("http.NewRequestWithContext: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"method":   method,
			"endpoint": endpoint,
		}).WithError(err).Error("custody request failed")
		return 0, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.WithError(err).Error("Failed to close response body")
		}
	}()

	var envelope APIResponse[json.RawMessage]
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to decode custody response, status code: %d: %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || envelope.Error.Message != "" {
		return resp.StatusCode, fmt.Errorf("custody error, status code: %d, error: %s, details: %s",
			resp.StatusCode, envelope.Error.Message, envelope.Error.DetailedResponse)
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode custody payload: %w", err)
		}
	}
	return resp.StatusCode, nil
}

var _ Signer = (*RemoteSigner)(nil)

// RemoteSigner signs through the custody service; keys never leave it.
type RemoteSigner struct {
	api     *CustodyApi
	address common.Address
}

func (s *RemoteSigner) Address() common.Address {
	return s.address
}

func (s *RemoteSigner) SignTypedData(ctx context.Context, data apitypes.TypedData) ([]byte, error) {
	var sig hexutil.Bytes
	endpoint := "/wallets/" + s.address.Hex() + "/sign-typed-data"
	if _, err := s.api.call(ctx, http.MethodPost, endpoint, data, &sig); err != nil {
		return nil, fmt.Errorf("s.api.call(sign-typed-data): %w", err)
	}
	if len(sig) != 65 {
		return nil, fmt.Errorf("unexpected signature length %d", len(sig))
	}
	return sig, nil
}

func (s *RemoteSigner) SignTx(ctx context.Context, tx *gtypes.Transaction, chainID *big.Int) (*gtypes.Transaction, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("tx.MarshalBinary: %w", err)
	}

	var signedRaw hexutil.Bytes
	endpoint := "/wallets/" + s.address.Hex() + "/sign-transaction"
	req := signTxRequest{ChainID: (*hexutil.Big)(chainID), Transaction: raw}
	if _, err := s.api.call(ctx, http.MethodPost, endpoint, req, &signedRaw); err != nil {
		return nil, fmt.Errorf("s.api.call(sign-transaction): %w", err)
	}

	signed := new(gtypes.Transaction)
	if err := signed.UnmarshalBinary(signedRaw); err != nil {
		return nil, fmt.Errorf("signed.UnmarshalBinary: %w", err)
	}
	if signed.Hash() == tx.Hash() {
		return nil, fmt.Errorf("custody returned an unsigned transaction")
	}
	return signed, nil
}
