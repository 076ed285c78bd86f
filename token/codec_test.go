package token

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/aloks98/restauth/signer"
)

const testSecret = "this-is-a-32-byte-secret-for-tests!!"

func hmacSigner(t *testing.T, alg string) *signer.Signer {
	t.Helper()
	s, err := signer.NewHMAC(alg, []byte(testSecret))
	if err != nil {
		t.Fatalf("NewHMAC() error = %v", err)
	}
	return s
}

func testClaims(now time.Time, ttl time.Duration) *Claims {
	return &Claims{
		Type: TypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        "01J0000000000000000000TEST",
			Subject:   "user-1",
			Issuer:    "restauth",
			Audience:  jwt.ClaimStrings{"api"},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
}

func TestCodec_RoundTrip(t *testing.T) {
	now := time.Now().Truncate(time.Second)

	for _, alg := range []string{"HS256", "HS512", "ES256", "EdDSA"} {
		t.Run(alg, func(t *testing.T) {
			s, err := signer.Generate(alg)
			if err != nil {
				t.Fatalf("Generate() error = %v", err)
			}
			c := NewCodec(s, CodecConfig{Issuer: "restauth", Audience: "api", Now: func() time.Time { return now }})

			raw, err := c.Encode(testClaims(now, time.Minute))
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			if strings.Count(raw, ".") != 2 {
				t.Fatalf("expected three segments, got %q", raw)
			}

			got, err := c.Decode(raw)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if got.Subject != "user-1" || got.Type != TypeAccess || got.ID == "" {
				t.Errorf("Decode() = %+v", got)
			}
		})
	}
}

func TestCodec_KeyIDHeader(t *testing.T) {
	s, err := signer.Generate("ES256")
	if err != nil {
		t.Fatal(err)
	}
	c := NewCodec(s, CodecConfig{})
	raw, err := c.Encode(testClaims(time.Now(), time.Minute))
	if err != nil {
		t.Fatal(err)
	}

	header, err := base64.RawURLEncoding.DecodeString(strings.Split(raw, ".")[0])
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(header), `"kid":"`+s.KeyID()+`"`) {
		t.Errorf("header %s missing kid %s", header, s.KeyID())
	}
}

func TestCodec_Tampering(t *testing.T) {
	now := time.Now()
	c := NewCodec(hmacSigner(t, "HS256"), CodecConfig{})
	raw, err := c.Encode(testClaims(now, time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	parts := strings.Split(raw, ".")

	forged := testClaims(now, time.Minute)
	forged.Subject = "admin"
	other := NewCodec(hmacSigner(t, "HS256"), CodecConfig{})
	forgedRaw, _ := other.Encode(forged)
	forgedPayload := strings.Split(forgedRaw, ".")[1]

	flip := []byte(parts[2])
	if flip[0] == 'A' {
		flip[0] = 'B'
	} else {
		flip[0] = 'A'
	}

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"swapped payload", parts[0] + "." + forgedPayload + "." + parts[2], ErrTokenInvalidSignature},
		{"flipped signature", parts[0] + "." + parts[1] + "." + string(flip), ErrTokenInvalidSignature},
		{"empty signature", parts[0] + "." + parts[1] + ".", ErrTokenInvalidSignature},
		{"two segments", parts[0] + "." + parts[1], ErrTokenMalformed},
		{"four segments", raw + ".x", ErrTokenMalformed},
		{"garbage", "not.a.token", ErrTokenMalformed},
		{"empty", "", ErrTokenMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := c.Decode(tt.token); !errors.Is(err, tt.want) {
				t.Errorf("Decode() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCodec_AlgorithmMismatch(t *testing.T) {
	now := time.Now()
	hs512 := NewCodec(hmacSigner(t, "HS512"), CodecConfig{})
	raw, err := hs512.Encode(testClaims(now, time.Minute))
	if err != nil {
		t.Fatal(err)
	}

	hs256 := NewCodec(hmacSigner(t, "HS256"), CodecConfig{})
	if _, err := hs256.Decode(raw); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("Decode() error = %v, want ErrTokenInvalid", err)
	}

	none := jwt.NewWithClaims(jwt.SigningMethodNone, testClaims(now, time.Minute))
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := hs256.Decode(unsigned); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("Decode(alg=none) error = %v, want ErrTokenInvalid", err)
	}
}

func TestCodec_TimeClaims(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	s := hmacSigner(t, "HS256")
	issuer := NewCodec(s, CodecConfig{Now: func() time.Time { return now }})
	raw, err := issuer.Encode(testClaims(now, time.Minute))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		at   time.Time
		skew time.Duration
		want error
	}{
		{"valid", now.Add(30 * time.Second), 0, nil},
		{"at expiry", now.Add(time.Minute), 0, ErrTokenExpired},
		{"after expiry", now.Add(2 * time.Minute), 0, ErrTokenExpired},
		{"expired within skew", now.Add(time.Minute + 10*time.Second), 30 * time.Second, nil},
		{"before nbf", now.Add(-time.Minute), 0, ErrTokenNotYetValid},
		{"before nbf within skew", now.Add(-10 * time.Second), 30 * time.Second, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			at := tt.at
			c := NewCodec(s, CodecConfig{ClockSkew: tt.skew, Now: func() time.Time { return at }})
			_, err := c.Decode(raw)
			if !errors.Is(err, tt.want) {
				t.Errorf("Decode() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCodec_IssuerAudience(t *testing.T) {
	now := time.Now()
	s := hmacSigner(t, "HS256")
	raw, err := NewCodec(s, CodecConfig{}).Encode(testClaims(now, time.Minute))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		cfg  CodecConfig
		want error
	}{
		{"matching", CodecConfig{Issuer: "restauth", Audience: "api"}, nil},
		{"wrong issuer", CodecConfig{Issuer: "someone-else"}, ErrTokenInvalid},
		{"wrong audience", CodecConfig{Audience: "billing"}, ErrTokenInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewCodec(s, tt.cfg).Decode(raw); !errors.Is(err, tt.want) {
				t.Errorf("Decode() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCodec_RejectsUnknownType(t *testing.T) {
	now := time.Now()
	c := NewCodec(hmacSigner(t, "HS256"), CodecConfig{})
	claims := testClaims(now, time.Minute)
	claims.Type = "id"
	raw, err := c.Encode(claims)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Decode(raw); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("Decode() error = %v, want ErrTokenInvalid", err)
	}
}

func TestCodec_VerifyOnly(t *testing.T) {
	s, err := signer.Generate("ES256")
	if err != nil {
		t.Fatal(err)
	}
	pemBytes, err := s.PublicKeyPEM()
	if err != nil {
		t.Fatal(err)
	}
	pub, err := signer.PublicFromPEM("ES256", pemBytes)
	if err != nil {
		t.Fatal(err)
	}

	raw, err := NewCodec(s, CodecConfig{}).Encode(testClaims(time.Now(), time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	verifier := NewCodec(pub, CodecConfig{})
	if _, err := verifier.Decode(raw); err != nil {
		t.Errorf("Decode() with public key error = %v", err)
	}
	if _, err := verifier.Encode(testClaims(time.Now(), time.Minute)); !errors.Is(err, signer.ErrVerifyOnly) {
		t.Errorf("Encode() with public key error = %v, want ErrVerifyOnly", err)
	}
}
