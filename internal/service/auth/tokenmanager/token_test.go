package tokenmanager

import (
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wkinMe/geo-accounting-project-sub001/internal/apperrors"
	"github.com/wkinMe/geo-accounting-project-sub001/internal/models"
	"github.com/wkinMe/geo-accounting-project-sub001/internal/repository"
	"github.com/wkinMe/geo-accounting-project-sub001/internal/repository/memory"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func Test_TokenManager(t *testing.T) {
	t.Parallel()

	// Token manager on top of fresh in-memory storage with frozen clock
	// User is created, so refresh may reload its claims
	setup := func(t *testing.T, cfg Config) (*TokenManager, repository.Storage, models.User) {
		t.Helper()

		if cfg.SecretKey == "" {
			cfg.SecretKey = "test-secret-key"
		}
		storage := memory.NewStorage()
		user, err := storage.User().CreateUser(t.Context(), "testuser", "hashed_password", true)
		require.NoError(t, err)

		m, err := New(cfg, storage)
		require.NoError(t, err, "token manager should be created without errors")
		m.now = func() time.Time { return testNow }

		return m, storage, user
	}

	t.Run("New", func(t *testing.T) {
		t.Run("defaults", func(t *testing.T) {
			m, err := New(Config{SecretKey: "secret"}, nil)
			require.NoError(t, err)

			require.Equal(t, []byte("secret"), m.key)
			require.Equal(t, defaultAccessTokenTTL, m.AccessTTL())
			require.Equal(t, defaultRefreshTokenTTL, m.RefreshTTL())
			require.Equal(t, defaultSigningMethod, m.alg.Alg())
		})

		t.Run("empty secret fail", func(t *testing.T) {
			_, err := New(Config{}, nil)

			require.Error(t, err)
		})

		t.Run("not hmac alg fail", func(t *testing.T) {
			for _, alg := range []string{"none", "RS256", "unknown"} {
				_, err := New(Config{SecretKey: "secret", Alg: alg}, nil)

				require.Error(t, err, "alg %s must not be accepted", alg)
			}
		})
	})

	t.Run("IssuePair", func(t *testing.T) {
		t.Run("return token pair", func(t *testing.T) {
			m, _, user := setup(t, Config{AccessTTL: 15 * time.Minute, RefreshTTL: 24 * time.Hour})

			pair, err := m.IssuePair(t.Context(), user.ID, user.Claims())

			require.NoError(t, err)
			assert.NotEmpty(t, pair.Access.Value)
			assert.Equal(t, testNow.Add(15*time.Minute), pair.Access.ExpiresAt)
			assert.NotEmpty(t, pair.Refresh.Value)
			assert.Equal(t, testNow.Add(24*time.Hour), pair.Refresh.ExpiresAt)
		})

		t.Run("access claims", func(t *testing.T) {
			m, _, user := setup(t, Config{Issuer: "geo-accounting"})

			pair, err := m.IssuePair(t.Context(), user.ID, models.Claims{IsAdmin: true})
			require.NoError(t, err)

			claims := &AccessTokenClaims{}
			_, err = jwt.ParseWithClaims(pair.Access.Value, claims, func(token *jwt.Token) (any, error) {
				return []byte("test-secret-key"), nil
			}, jwt.WithTimeFunc(func() time.Time { return testNow }))
			require.NoError(t, err)

			assert.Equal(t, user.ID, claims.UserID)
			assert.True(t, claims.IsAdmin)
			assert.Equal(t, "geo-accounting", claims.Issuer)
			assert.NotEmpty(t, claims.ID, "token has to has jti")
			assert.Equal(t, testNow, claims.IssuedAt.Time.UTC())
			assert.Equal(t, pair.Access.ExpiresAt, claims.ExpiresAt.Time.UTC())
		})

		t.Run("refresh stored as hash", func(t *testing.T) {
			m, storage, user := setup(t, Config{})

			pair, err := m.IssuePair(t.Context(), user.ID, user.Claims())
			require.NoError(t, err)

			stored, err := storage.Refresh().GetForUpdate(t.Context(), hashToken(pair.Refresh.Value))
			require.NoError(t, err)
			require.Equal(t, user.ID, stored.UserID)
			require.True(t, stored.IsActive(testNow))
			require.Len(t, pair.Refresh.Value, 2*refreshTokenBytes)

			_, err = storage.Refresh().GetForUpdate(t.Context(), pair.Refresh.Value)
			require.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound, "raw value must never be stored")
		})

		t.Run("generate different tokens", func(t *testing.T) {
			m, _, user := setup(t, Config{})

			pair1, err := m.IssuePair(t.Context(), user.ID, user.Claims())
			require.NoError(t, err)
			pair2, err := m.IssuePair(t.Context(), user.ID, user.Claims())
			require.NoError(t, err)

			assert.NotEqual(t, pair1.Refresh.Value, pair2.Refresh.Value)
			assert.NotEqual(t, pair1.Access.Value, pair2.Access.Value, "jti makes access tokens different")
		})
	})

	t.Run("VerifyAccess", func(t *testing.T) {
		t.Run("round trip", func(t *testing.T) {
			m, _, user := setup(t, Config{})
			pair, err := m.IssuePair(t.Context(), user.ID, models.Claims{IsAdmin: true})
			require.NoError(t, err)

			identity, err := m.VerifyAccess(t.Context(), pair.Access.Value)

			require.NoError(t, err)
			require.Equal(t, user.ID, identity.UserID)
			require.True(t, identity.IsAdmin)
			require.NotEmpty(t, identity.TokenID)
			require.Equal(t, pair.Access.ExpiresAt, identity.ExpiresAt.UTC())
		})

		t.Run("expired", func(t *testing.T) {
			m, _, user := setup(t, Config{AccessTTL: time.Minute})
			pair, err := m.IssuePair(t.Context(), user.ID, user.Claims())
			require.NoError(t, err)

			m.now = func() time.Time { return testNow.Add(2 * time.Minute) }
			_, err = m.VerifyAccess(t.Context(), pair.Access.Value)

			require.ErrorIs(t, err, apperrors.ErrTokenExpired)
			require.NotErrorIs(t, err, apperrors.ErrTokenInvalid)
		})

		invalid := []struct {
			name  string
			token func(t *testing.T, userID uuid.UUID) string
		}{
			{
				name:  "not a token",
				token: func(*testing.T, uuid.UUID) string { return "invalid token" },
			},
			{
				name: "wrong secret",
				token: func(t *testing.T, userID uuid.UUID) string {
					return signed(t, jwt.SigningMethodHS256, []byte("other-secret"), userID)
				},
			},
			{
				name: "other hmac alg",
				token: func(t *testing.T, userID uuid.UUID) string {
					return signed(t, jwt.SigningMethodHS512, []byte("test-secret-key"), userID)
				},
			},
			{
				name: "not signed token",
				token: func(t *testing.T, userID uuid.UUID) string {
					return signed(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, userID)
				},
			},
			{
				name: "no subject",
				token: func(t *testing.T, _ uuid.UUID) string {
					return signed(t, jwt.SigningMethodHS256, []byte("test-secret-key"), uuid.Nil)
				},
			},
			{
				name: "no expiration",
				token: func(t *testing.T, userID uuid.UUID) string {
					token := jwt.NewWithClaims(jwt.SigningMethodHS256, AccessTokenClaims{UserID: userID})
					access, err := token.SignedString([]byte("test-secret-key"))
					require.NoError(t, err)
					return access
				},
			},
		}

		for _, tt := range invalid {
			t.Run(tt.name, func(t *testing.T) {
				m, _, user := setup(t, Config{})

				_, err := m.VerifyAccess(t.Context(), tt.token(t, user.ID))

				require.ErrorIs(t, err, apperrors.ErrTokenInvalid)
			})
		}

		t.Run("other issuer", func(t *testing.T) {
			m, _, user := setup(t, Config{Issuer: "geo-accounting"})
			other, _, _ := setup(t, Config{Issuer: "somebody-else"})
			pair, err := other.IssuePair(t.Context(), user.ID, user.Claims())
			require.NoError(t, err)

			_, err = m.VerifyAccess(t.Context(), pair.Access.Value)

			require.ErrorIs(t, err, apperrors.ErrTokenInvalid)
		})
	})

	t.Run("Refresh", func(t *testing.T) {
		t.Run("rotate once ok", func(t *testing.T) {
			m, storage, user := setup(t, Config{})
			initial, err := m.IssuePair(t.Context(), user.ID, user.Claims())
			require.NoError(t, err)

			pair, err := m.Refresh(t.Context(), initial.Refresh.Value)

			require.NoError(t, err)
			require.NotEqual(t, initial.Refresh.Value, pair.Refresh.Value)
			require.NotEqual(t, initial.Access.Value, pair.Access.Value)

			old, err := storage.Refresh().GetForUpdate(t.Context(), hashToken(initial.Refresh.Value))
			require.NoError(t, err)
			require.True(t, old.IsRevoked, "rotated token must be revoked")

			identity, err := m.VerifyAccess(t.Context(), pair.Access.Value)
			require.NoError(t, err)
			require.Equal(t, user.ID, identity.UserID)
			require.True(t, identity.IsAdmin, "claims are reloaded from user")
		})

		t.Run("reuse revokes token family", func(t *testing.T) {
			m, _, user := setup(t, Config{})
			rt1, err := m.IssuePair(t.Context(), user.ID, user.Claims())
			require.NoError(t, err)
			otherSession, err := m.IssuePair(t.Context(), user.ID, user.Claims())
			require.NoError(t, err)

			rt2, err := m.Refresh(t.Context(), rt1.Refresh.Value)
			require.NoError(t, err)

			_, err = m.Refresh(t.Context(), rt1.Refresh.Value)
			require.ErrorIs(t, err, apperrors.ErrRefreshTokenIsRevoked)

			_, err = m.Refresh(t.Context(), rt2.Refresh.Value)
			require.ErrorIs(t, err, apperrors.ErrRefreshTokenIsRevoked, "descendant must be revoked too")
			_, err = m.Refresh(t.Context(), otherSession.Refresh.Value)
			require.ErrorIs(t, err, apperrors.ErrRefreshTokenIsRevoked, "every token of the user must be revoked")
		})

		t.Run("not found", func(t *testing.T) {
			m, _, _ := setup(t, Config{})

			_, err := m.Refresh(t.Context(), "never-issued")

			require.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound)
		})

		t.Run("expired", func(t *testing.T) {
			m, storage, user := setup(t, Config{RefreshTTL: time.Hour})
			pair, err := m.IssuePair(t.Context(), user.ID, user.Claims())
			require.NoError(t, err)

			m.now = func() time.Time { return testNow.Add(time.Hour) }
			_, err = m.Refresh(t.Context(), pair.Refresh.Value)

			require.ErrorIs(t, err, apperrors.ErrTokenExpired)
			stored, err := storage.Refresh().GetForUpdate(t.Context(), hashToken(pair.Refresh.Value))
			require.NoError(t, err)
			require.False(t, stored.IsRevoked, "failed refresh must not change the token")
		})

		t.Run("concurrent refresh succeeds once", func(t *testing.T) {
			m, _, user := setup(t, Config{})
			pair, err := m.IssuePair(t.Context(), user.ID, user.Claims())
			require.NoError(t, err)

			const n = 20
			var (
				wg        sync.WaitGroup
				start     = make(chan struct{})
				errs      = make(chan error, n)
				successes = make(chan models.TokenPair, n)
			)
			for range n {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					p, err := m.Refresh(t.Context(), pair.Refresh.Value)
					if err != nil {
						errs <- err
						return
					}
					successes <- p
				}()
			}
			close(start)
			wg.Wait()
			close(errs)
			close(successes)

			require.Len(t, successes, 1, "exactly one refresh has to succeed")
			require.Len(t, errs, n-1)
			for err := range errs {
				require.ErrorIs(t, err, apperrors.ErrRefreshTokenIsRevoked)
			}

			// Losers presented revoked token, so the winner's pair is revoked with the family
			winner := <-successes
			_, err = m.Refresh(t.Context(), winner.Refresh.Value)
			require.ErrorIs(t, err, apperrors.ErrRefreshTokenIsRevoked)
		})

		t.Run("failed refreshes keep concurrent writes", func(t *testing.T) {
			m, storage, alice := setup(t, Config{})
			bob, err := storage.User().CreateUser(t.Context(), "bob", "hashed_password", false)
			require.NoError(t, err)
			bobPair, err := m.IssuePair(t.Context(), bob.ID, bob.Claims())
			require.NoError(t, err)

			stop := make(chan struct{})
			var wg sync.WaitGroup
			for range 4 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for {
						select {
						case <-stop:
							return
						default:
							_, _ = m.Refresh(t.Context(), "never-issued")
						}
					}
				}()
			}

			require.NoError(t, m.Revoke(t.Context(), bobPair.Refresh.Value))
			alicePairs := make([]models.TokenPair, 0, 20)
			for range 20 {
				pair, err := m.IssuePair(t.Context(), alice.ID, alice.Claims())
				require.NoError(t, err)
				alicePairs = append(alicePairs, pair)
			}
			close(stop)
			wg.Wait()

			stored, err := storage.Refresh().GetForUpdate(t.Context(), hashToken(bobPair.Refresh.Value))
			require.NoError(t, err)
			require.True(t, stored.IsRevoked, "logout must not be undone")
			for _, pair := range alicePairs {
				_, err := storage.Refresh().GetForUpdate(t.Context(), hashToken(pair.Refresh.Value))
				require.NoError(t, err, "issued token must not vanish")
			}
		})
	})

	t.Run("Revoke", func(t *testing.T) {
		t.Run("idempotent", func(t *testing.T) {
			m, _, user := setup(t, Config{})
			pair, err := m.IssuePair(t.Context(), user.ID, user.Claims())
			require.NoError(t, err)

			require.NoError(t, m.Revoke(t.Context(), pair.Refresh.Value))
			require.NoError(t, m.Revoke(t.Context(), pair.Refresh.Value))
			require.NoError(t, m.Revoke(t.Context(), "never-issued"))

			_, err = m.Refresh(t.Context(), pair.Refresh.Value)
			require.ErrorIs(t, err, apperrors.ErrRefreshTokenIsRevoked)
		})

		t.Run("revoke all", func(t *testing.T) {
			m, _, user := setup(t, Config{})
			for range 3 {
				_, err := m.IssuePair(t.Context(), user.ID, user.Claims())
				require.NoError(t, err)
			}

			count, err := m.RevokeAll(t.Context(), user.ID)

			require.NoError(t, err)
			require.EqualValues(t, 3, count)
		})
	})

	t.Run("DeleteExpired", func(t *testing.T) {
		m, storage, user := setup(t, Config{RefreshTTL: time.Hour})
		pair, err := m.IssuePair(t.Context(), user.ID, user.Claims())
		require.NoError(t, err)

		m.now = func() time.Time { return testNow.Add(90 * time.Minute) }
		count, err := m.DeleteExpired(t.Context(), time.Hour)
		require.NoError(t, err)
		require.EqualValues(t, 0, count, "token expired less than retention ago must stay")

		m.now = func() time.Time { return testNow.Add(3 * time.Hour) }
		count, err = m.DeleteExpired(t.Context(), time.Hour)
		require.NoError(t, err)
		require.EqualValues(t, 1, count)

		_, err = storage.Refresh().GetForUpdate(t.Context(), hashToken(pair.Refresh.Value))
		require.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound)
	})
}

func signed(t *testing.T, method jwt.SigningMethod, key any, userID uuid.UUID) string {
	t.Helper()

	token := jwt.NewWithClaims(method, AccessTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(testNow),
			ExpiresAt: jwt.NewNumericDate(testNow.Add(15 * time.Minute)),
		},
		UserID: userID,
	})
	access, err := token.SignedString(key)
	require.NoError(t, err)
	return access
}
