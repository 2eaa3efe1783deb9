package payment

import (
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"assetgate/internal/identity"
	"assetgate/internal/ledger"
	"assetgate/internal/models"
)

// RequestClaims is the payment request token claim set. The embedded
// request must round-trip unchanged through signing and verification.
type RequestClaims struct {
	PaymentRequest models.PaymentRequest `json:"paymentRequest"`
	jwt.RegisteredClaims
}

// RequestSigner builds signed, time-boxed payment requests. Stateless;
// every call mints a fresh request id.
type RequestSigner struct {
	Issuer            *identity.Identity
	Recipient         string
	Mint              string
	Currency          string
	ChainRef          string
	ReceiptServiceURL string
	TTL               time.Duration
	Prices            PriceTable
}

// SignedRequest couples a payment request with its signed token.
type SignedRequest struct {
	Request models.PaymentRequest
	Token   string
}

// Create builds and signs a payment request for one resource access
// attempt. durationSeconds only matters for music pricing.
func (s *RequestSigner) Create(kind models.ResourceKind, durationSeconds int) (*SignedRequest, error) {
	if s.Issuer == nil {
		return nil, identity.ErrIdentityUnavailable
	}

	amount, err := s.Prices.Amount(kind, durationSeconds)
	if err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, fmt.Errorf("%w: non-positive amount", ErrNoPrice)
	}

	optionID := fmt.Sprintf("%s-solana-%s", lowerCurrency(s.Currency), kind)
	if kind == models.KindMusic {
		optionID = fmt.Sprintf("%s-%d", optionID, durationSeconds)
	}

	now := time.Now().UTC()
	request := models.PaymentRequest{
		ID:        uuid.NewString(),
		ExpiresAt: now.Add(s.TTL),
		PaymentOptions: []models.PaymentOption{{
			ID:             optionID,
			Network:        ledger.Network(s.ChainRef),
			Currency:       s.Currency,
			Decimals:       6,
			Amount:         strconv.FormatInt(amount, 10),
			Recipient:      s.Recipient,
			Mint:           s.Mint,
			ReceiptService: s.ReceiptServiceURL,
		}},
	}

	// Expiry is enforced against the transaction's block time during
	// verification, not via a JWT exp claim: a payment made inside the
	// window must remain verifiable after the window closes.
	token, err := s.Issuer.SignClaims(RequestClaims{
		PaymentRequest: request,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   s.Issuer.DID,
			ID:       request.ID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sign payment request: %w", err)
	}

	return &SignedRequest{Request: request, Token: token}, nil
}

// DecodeRequestToken verifies a payment request token against the issuer
// identity and returns the embedded request.
func DecodeRequestToken(issuer *identity.Identity, token string) (*models.PaymentRequest, error) {
	var claims RequestClaims
	if err := issuer.VerifyClaims(token, &claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.PaymentRequest.ID == "" || len(claims.PaymentRequest.PaymentOptions) == 0 {
		return nil, fmt.Errorf("%w: empty payment request", ErrInvalidToken)
	}
	return &claims.PaymentRequest, nil
}

func lowerCurrency(currency string) string {
	out := make([]byte, 0, len(currency))
	for i := 0; i < len(currency); i++ {
		c := currency[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out = append(out, c)
	}
	return string(out)
}
