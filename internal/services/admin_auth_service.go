package services

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/bbux/presale-api/internal/config"
)

// Admin auth errors
var (
	ErrAdminNotConfigured = errors.New("no admin wallets configured")
	ErrLoginExpired       = errors.New("login message expired")
	ErrMalformedLogin     = errors.New("malformed login message")
	ErrNotAuthorized      = errors.New("wallet not authorized")
)

// Claims represents the JWT claims of an admin session
type Claims struct {
	Wallet string `json:"wallet"`
	jwt.RegisteredClaims
}

// AdminAuthService authenticates operators by wallet signature. There are no
// accounts; an allow-listed address signing a fresh login message gets a
// short-lived session token.
type AdminAuthService struct {
	wallets    *WalletService
	cfg        config.AdminConfig
	allowed    map[string]bool
	loginScope time.Duration
	sessionTTL time.Duration
}

// NewAdminAuthService creates a new AdminAuthService
func NewAdminAuthService(wallets *WalletService, cfg config.AdminConfig) *AdminAuthService {
	allowed := make(map[string]bool, len(cfg.Wallets))
	for _, w := range cfg.Wallets {
		allowed[strings.ToLower(w)] = true
	}

	loginWindow := cfg.LoginWindowMinutes
	if loginWindow <= 0 {
		loginWindow = 5
	}
	sessionMinutes := cfg.SessionMinutes
	if sessionMinutes <= 0 {
		sessionMinutes = 30
	}

	return &AdminAuthService{
		wallets:    wallets,
		cfg:        cfg,
		allowed:    allowed,
		loginScope: time.Duration(loginWindow) * time.Minute,
		sessionTTL: time.Duration(sessionMinutes) * time.Minute,
	}
}

// LoginMessage returns the canonical login message for a timestamp. The
// client signs exactly this text.
func LoginMessage(at time.Time) string {
	return fmt.Sprintf("BBUX Admin Login %d", at.UnixMilli())
}

// Login verifies a signed login message and returns a session token with its
// expiry. The message must end in a unix-millisecond timestamp within the
// login window, and the recovered signer must be allow-listed and match the
// asserted address.
func (s *AdminAuthService) Login(address, message, signature string) (string, time.Time, error) {
	if len(s.allowed) == 0 {
		return "", time.Time{}, ErrAdminNotConfigured
	}

	ts, err := parseLoginTimestamp(message)
	if err != nil {
		return "", time.Time{}, err
	}

	if drift := time.Since(ts); drift > s.loginScope || drift < -s.loginScope {
		return "", time.Time{}, ErrLoginExpired
	}

	if !s.wallets.IsAddressValid(address) {
		return "", time.Time{}, ErrNotAuthorized
	}

	recovered, err := s.wallets.RecoverAddress(message, signature)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %v", ErrNotAuthorized, err)
	}

	wallet := recovered.Hex()
	if !strings.EqualFold(wallet, address) {
		return "", time.Time{}, ErrNotAuthorized
	}
	if !s.allowed[strings.ToLower(wallet)] {
		return "", time.Time{}, ErrNotAuthorized
	}

	return s.generateToken(wallet)
}

// ValidateSession validates a session token and returns the admin wallet.
func (s *AdminAuthService) ValidateSession(tokenString string) (string, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		// Check the signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}

		return []byte(s.cfg.JWTSecret), nil
	})

	if err != nil {
		return "", err
	}

	if !token.Valid {
		return "", fmt.Errorf("invalid token")
	}

	// The allow-list can shrink while sessions are live.
	if !s.allowed[strings.ToLower(claims.Wallet)] {
		return "", ErrNotAuthorized
	}

	return claims.Wallet, nil
}

// SessionTTL returns the configured session lifetime.
func (s *AdminAuthService) SessionTTL() time.Duration {
	return s.sessionTTL
}

// parseLoginTimestamp extracts the trailing unix-millisecond timestamp.
func parseLoginTimestamp(message string) (time.Time, error) {
	fields := strings.Fields(message)
	if len(fields) == 0 {
		return time.Time{}, ErrMalformedLogin
	}

	millis, err := strconv.ParseInt(fields[len(fields)-1], 10, 64)
	if err != nil {
		return time.Time{}, ErrMalformedLogin
	}

	return time.UnixMilli(millis), nil
}

// generateToken generates a JWT token for an admin wallet
func (s *AdminAuthService) generateToken(wallet string) (string, time.Time, error) {
	// Set expiration time
	expiresAt := time.Now().Add(s.sessionTTL)

	// Create claims
	claims := &Claims{
		Wallet: wallet,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Issuer:    "presale-api",
			Subject:   wallet,
		},
	}

	// Create token
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	// Sign token with secret key
	tokenString, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", time.Time{}, err
	}

	return tokenString, expiresAt, nil
}
