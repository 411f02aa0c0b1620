package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtrntr/carauction/internal/apperr"
	"github.com/xtrntr/carauction/internal/models"
	"github.com/xtrntr/carauction/internal/store/memstore"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "test-secret"

func newService() *AuthService {
	return NewAuthService(memstore.New(), testSecret, time.Hour)
}

func strPtr(s string) *string { return &s }

func signed(t *testing.T, method jwt.SigningMethod, claims jwt.MapClaims, key []byte) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func TestAuthService_Register(t *testing.T) {
	tests := []struct {
		name     string
		username string
		password string
		country  *string
		wantKind apperr.Kind
	}{
		{name: "BidderWithCountry", username: "giulia", password: "password123", country: strPtr("IT")},
		{name: "BidderWithoutCountry", username: "henrik", password: "password123"},
		{name: "EmptyUsername", username: "", password: "password123", wantKind: apperr.KindValidation},
		{name: "EmptyPassword", username: "henrik", password: "", wantKind: apperr.KindValidation},
		{name: "LongUsername", username: strings.Repeat("a", 51), password: "password123", wantKind: apperr.KindValidation},
		{name: "PasswordBeyondBcryptLimit", username: "henrik", password: strings.Repeat("p", 73), wantKind: apperr.KindValidation},
		{name: "CountryNotIsoCode", username: "henrik", password: "password123", country: strPtr("Germany"), wantKind: apperr.KindValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			s := newService()

			user, err := s.Register(ctx, tt.username, tt.password, tt.country)
			if tt.wantKind != apperr.KindInternal {
				require.Error(t, err)
				assert.Equal(t, tt.wantKind, apperr.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.username, user.Username)
			assert.False(t, user.IsAdmin, "self-registered users are never admins")
			assert.WithinDuration(t, time.Now(), user.CreatedAt, time.Minute)

			stored, err := s.Users.GetUserByUsername(ctx, tt.username)
			require.NoError(t, err)
			assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte(tt.password)))
			assert.Equal(t, tt.country, stored.Country)
		})
	}
}

func TestAuthService_RegisterTakenUsername(t *testing.T) {
	s := newService()
	ctx := context.Background()
	_, err := s.Register(ctx, "giulia", "password123", strPtr("IT"))
	require.NoError(t, err)

	_, err = s.Register(ctx, "giulia", "another-password", nil)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindConflict))
	assert.Contains(t, err.Error(), `"giulia"`)
}

func TestAuthService_Login(t *testing.T) {
	s := newService()
	user, err := s.Register(context.Background(), "giulia", "password123", nil)
	require.NoError(t, err)

	tests := []struct {
		name     string
		username string
		password string
		wantErr  bool
	}{
		{name: "ValidCredentials", username: "giulia", password: "password123"},
		{name: "WrongPassword", username: "giulia", password: "password124", wantErr: true},
		{name: "UnknownUser", username: "henrik", password: "password123", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := s.Login(context.Background(), tt.username, tt.password)
			if tt.wantErr {
				// Unknown users and wrong passwords are indistinguishable
				assert.ErrorIs(t, err, ErrInvalidCredentials)
				assert.Empty(t, token)
				return
			}
			require.NoError(t, err)

			claims, err := s.ParseToken(token)
			require.NoError(t, err)
			assert.Equal(t, user.ID, claims.UserID)
			assert.Equal(t, "giulia", claims.Username)
		})
	}
}

func TestAuthService_IssueTokenCarriesAdminClaim(t *testing.T) {
	s := newService()
	admin := &models.User{ID: uuid.New(), Username: "ops", IsAdmin: true}

	token, err := s.IssueToken(admin)
	require.NoError(t, err)
	claims, err := s.ParseToken(token)
	require.NoError(t, err)
	assert.True(t, claims.IsAdmin)
	assert.Equal(t, admin.ID, claims.UserID)
}

func TestAuthService_ParseToken(t *testing.T) {
	s := newService()
	userID := uuid.New()
	valid := jwt.MapClaims{
		"user_id":  userID.String(),
		"username": "giulia",
		"exp":      time.Now().Add(time.Hour).Unix(),
	}
	with := func(key string, value any) jwt.MapClaims {
		c := jwt.MapClaims{}
		for k, v := range valid {
			c[k] = v
		}
		if value == nil {
			delete(c, key)
		} else {
			c[key] = value
		}
		return c
	}

	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{name: "Valid", token: signed(t, jwt.SigningMethodHS256, valid, []byte(testSecret))},
		{name: "Expired", token: signed(t, jwt.SigningMethodHS256, with("exp", time.Now().Add(-time.Hour).Unix()), []byte(testSecret)), wantErr: true},
		{name: "WrongKey", token: signed(t, jwt.SigningMethodHS256, valid, []byte("wrong-key")), wantErr: true},
		{name: "OtherHMACAlgorithm", token: signed(t, jwt.SigningMethodHS512, valid, []byte(testSecret)), wantErr: true},
		{name: "MissingUserID", token: signed(t, jwt.SigningMethodHS256, with("user_id", nil), []byte(testSecret)), wantErr: true},
		{name: "MalformedUserID", token: signed(t, jwt.SigningMethodHS256, with("user_id", "bidder-7"), []byte(testSecret)), wantErr: true},
		{name: "Empty", token: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := s.ParseToken(tt.token)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, userID, claims.UserID)
			assert.False(t, claims.IsAdmin)
		})
	}
}
