package connect

import (
	"fmt"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/google/uuid"

	"github.com/tapfeedhq/tapfeed-backend/internal/modules/pos"
)

// stateTTL bounds how long an issued OAuth state stays valid.
const stateTTL = 10 * time.Minute

// stateClaims binds an OAuth round trip to the initiating business and
// redirect URI. Signing the whole tuple means no server-side state is needed
// across the authorize/callback hop, which keeps horizontally scaled
// deployments stateless.
type stateClaims struct {
	jwt.StandardClaims
	BusinessID  string `json:"bid"`
	Provider    string `json:"prv"`
	RedirectURI string `json:"uri"`
	ShopDomain  string `json:"shp,omitempty"`
}

// StateIssuer mints and verifies the CSRF state tokens for the OAuth flow.
type StateIssuer struct {
	secret  []byte
	nowFunc func() time.Time
}

func NewStateIssuer(secret []byte) *StateIssuer {
	return &StateIssuer{secret: secret, nowFunc: time.Now}
}

// Issue returns a signed, time-boxed state for one authorize round trip.
func (s *StateIssuer) Issue(businessID string, provider pos.Provider, redirectURI, shopDomain string) (string, error) {
	now := s.nowFunc()
	claims := stateClaims{
		StandardClaims: jwt.StandardClaims{
			Id:        uuid.New().String(),
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(stateTTL).Unix(),
		},
		BusinessID:  businessID,
		Provider:    string(provider),
		RedirectURI: redirectURI,
		ShopDomain:  shopDomain,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify validates signature and expiry and returns the bound claims. Every
// failure maps to the InvalidState taxonomy entry; callers log it as a
// security event.
func (s *StateIssuer) Verify(state string) (*stateClaims, error) {
	claims := &stateClaims{}
	token, err := jwt.ParseWithClaims(state, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		if ve, ok := err.(*jwt.ValidationError); ok && ve.Errors&jwt.ValidationErrorExpired != 0 {
			return nil, pos.ErrInvalidState("expired")
		}
		return nil, pos.ErrInvalidState("signature verification failed")
	}
	if !token.Valid || claims.BusinessID == "" || claims.Provider == "" {
		return nil, pos.ErrInvalidState("incomplete claims")
	}
	return claims, nil
}
