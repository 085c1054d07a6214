package security

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-service/internal/config"
	"github.com/chirino/chat-service/internal/model"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/gin-gonic/gin"
)

const (
	// ContextKeyUser is the gin context key for the authenticated *model.User.
	ContextKeyUser = "user"
	// ContextKeyExternalID is the gin context key for the identity-provider user id.
	ContextKeyExternalID = "externalID"
)

// Identity holds the caller identity resolved from a bearer token.
type Identity struct {
	ExternalID  string
	Email       string
	DisplayName string
	ImageURL    *string
}

// Profile converts the identity into the store's user profile.
func (i *Identity) Profile() registrystore.UserProfile {
	return registrystore.UserProfile{
		ExternalID:  i.ExternalID,
		Email:       i.Email,
		DisplayName: i.DisplayName,
		ImageURL:    i.ImageURL,
	}
}

// TokenResolver resolves bearer tokens to caller identities. It is initialized once at
// startup and shared by the HTTP middleware and the realtime endpoint.
type TokenResolver struct {
	verifier    *oidc.IDTokenVerifier
	testingMode bool
}

// NewTokenResolver creates a TokenResolver from the application config. It performs
// one-time OIDC provider discovery if OIDCIssuer is configured.
func NewTokenResolver(cfg *config.Config) *TokenResolver {
	var verifier *oidc.IDTokenVerifier
	oidcIssuer := cfg.OIDCIssuer

	if oidcIssuer != "" {
		ctx := context.Background()
		expectedIssuer := oidcIssuer
		discoveryURL := cfg.OIDCDiscoveryURL
		if discoveryURL != "" && discoveryURL != oidcIssuer {
			// NewProvider fetches from its issuer argument; accept the mismatched
			// issuer in the discovery document.
			ctx = oidc.InsecureIssuerURLContext(ctx, oidcIssuer)
			oidcIssuer = discoveryURL
		}
		provider, err := oidc.NewProvider(ctx, oidcIssuer)
		if err != nil {
			log.Error("Failed to initialize OIDC provider", "issuer", oidcIssuer, "err", err)
		} else {
			// Tokens carry the external issuer, so verify against it with the discovered key set.
			if expectedIssuer != oidcIssuer {
				var providerClaims struct {
					JWKSURI string `json:"jwks_uri"`
				}
				if err := provider.Claims(&providerClaims); err == nil && providerClaims.JWKSURI != "" {
					keySet := oidc.NewRemoteKeySet(ctx, providerClaims.JWKSURI)
					verifier = oidc.NewVerifier(expectedIssuer, keySet, &oidc.Config{SkipClientIDCheck: true})
				}
			}
			if verifier == nil {
				verifier = provider.Verifier(&oidc.Config{SkipClientIDCheck: true})
			}
			log.Info("OIDC auth enabled", "issuer", expectedIssuer)
		}
	}

	return &TokenResolver{
		verifier:    verifier,
		testingMode: cfg.Mode == config.ModeTesting,
	}
}

var (
	errInvalidJWT      = errors.New("invalid JWT")
	errMissingIdentity = errors.New("JWT missing identity claims")
	errUnsupported     = errors.New("unsupported bearer token")
)

// Resolve resolves a raw bearer token (without the "Bearer " prefix) into an Identity.
// In testing mode a token that is not a JWT is taken as the external user id.
func (r *TokenResolver) Resolve(ctx context.Context, bearerToken string) (*Identity, error) {
	bearerToken = strings.TrimSpace(bearerToken)
	if bearerToken == "" {
		return nil, errUnsupported
	}
	if r.verifier != nil && strings.Count(bearerToken, ".") >= 2 {
		idToken, err := r.verifier.Verify(ctx, bearerToken)
		if err != nil {
			return nil, errors.Join(errInvalidJWT, err)
		}
		var claims struct {
			Sub               string `json:"sub"`
			Email             string `json:"email"`
			Name              string `json:"name"`
			PreferredUsername string `json:"preferred_username"`
			Picture           string `json:"picture"`
		}
		if err := idToken.Claims(&claims); err != nil {
			return nil, errors.Join(errInvalidJWT, err)
		}
		if claims.Sub == "" {
			return nil, errMissingIdentity
		}
		id := &Identity{ExternalID: claims.Sub, Email: claims.Email, DisplayName: claims.Name}
		if id.DisplayName == "" {
			id.DisplayName = claims.PreferredUsername
		}
		if claims.Picture != "" {
			id.ImageURL = &claims.Picture
		}
		return id, nil
	}
	if r.testingMode {
		return &Identity{ExternalID: bearerToken, DisplayName: bearerToken}, nil
	}
	return nil, errUnsupported
}

// UserResolver maps an identity onto a local user record.
type UserResolver interface {
	ResolveUser(ctx context.Context, profile registrystore.UserProfile) (*model.User, error)
}

// GetUser returns the authenticated user from the gin context.
func GetUser(c *gin.Context) *model.User {
	v, _ := c.Get(ContextKeyUser)
	u, _ := v.(*model.User)
	return u
}

// BearerToken extracts the bearer token from the Authorization header. Browsers cannot set
// headers on websocket upgrades, so the access_token query parameter is accepted too.
func BearerToken(c *gin.Context) (string, bool) {
	auth := c.GetHeader("Authorization")
	if auth == "" {
		if token := c.Query("access_token"); token != "" && c.IsWebsocket() {
			return token, true
		}
		return "", false
	}
	token := strings.TrimPrefix(auth, "Bearer ")
	return token, token != auth
}

// AuthMiddleware returns a gin middleware that authenticates the caller and loads the
// matching local user.
func AuthMiddleware(resolver *TokenResolver, users UserResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := BearerToken(c)
		if !ok {
			log.Info("Auth rejected: missing or malformed Authorization header", "method", c.Request.Method, "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "unauthorized", "error": "expected Bearer token"})
			return
		}

		id, err := resolver.Resolve(c.Request.Context(), token)
		if err != nil {
			log.Info("Auth rejected", "method", c.Request.Method, "path", c.Request.URL.Path, "err", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "unauthorized", "error": err.Error()})
			return
		}

		user, err := users.ResolveUser(c.Request.Context(), id.Profile())
		if errors.Is(err, registrystore.ErrUserDeleted) {
			log.Info("Auth rejected: user deleted", "externalId", id.ExternalID)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"code": "user_deleted", "error": "user has been deleted"})
			return
		}
		if err != nil {
			log.Error("Auth: resolve user failed", "externalId", id.ExternalID, "err", err)
			status := http.StatusInternalServerError
			if registrystore.IsTransient(err) {
				status = http.StatusServiceUnavailable
			}
			c.AbortWithStatusJSON(status, gin.H{"code": "user_unavailable", "error": "unable to load user"})
			return
		}

		c.Set(ContextKeyExternalID, id.ExternalID)
		c.Set(ContextKeyUser, user)
		c.Next()
	}
}
