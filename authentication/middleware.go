package authentication

import (
	"net/http"
	"strings"

	"github.com/ecid-covid-it-support/tracking-api/apierrors"
	"github.com/ecid-covid-it-support/tracking-api/claims"
	"github.com/ecid-covid-it-support/tracking-api/roles"
	"github.com/ecid-covid-it-support/tracking-api/shared"

	"github.com/dgrijalva/jwt-go"
	"github.com/pkg/errors"
)

// Authenticator verifies the bearer token issued by the external identity
// collaborator and attaches the actor claims to the request context. It
// never authorizes anything; a missing or unverifiable credential
// short-circuits with 401 before any other component runs.
type Authenticator struct {
	Config *shared.AppConfig `inject:""`
	Logger *shared.Logger    `inject:""`
}

func (a *Authenticator) Middleware(next http.Handler, excludePath []string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		for _, path := range excludePath {
			if req.RequestURI == path {
				next.ServeHTTP(w, req)
				return
			}
		}

		ctx := req.Context()

		actorId, role, institutionId, err := a.verify(req.Header.Get("Authorization"))
		if err != nil {
			a.Logger.Warn(ctx, "request rejected", "err", err.Error())
			apierrors.EncodeError(ctx, apierrors.ErrUnauthorized, w)
			return
		}

		ctx = claims.NewContext(ctx, actorId, role, institutionId)
		next.ServeHTTP(w, req.WithContext(ctx))
	})
}

func (a *Authenticator) verify(authorizationHeader string) (actorId, role, institutionId string, err error) {
	if authorizationHeader == "" {
		return "", "", "", errors.New("authorization header not provided")
	}

	bearerToken := strings.Split(authorizationHeader, " ")
	if len(bearerToken) != 2 || !strings.EqualFold(bearerToken[0], "Bearer") || bearerToken[1] == "" {
		return "", "", "", errors.New("invalid authorization header")
	}

	token, err := jwt.Parse(bearerToken[1], func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(a.Config.ApiSecret), nil
	})
	if err != nil {
		return "", "", "", errors.Wrap(err, "failed to verify token")
	}

	tokenClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", "", "", errors.New("invalid token claims")
	}

	actorId, _ = tokenClaims["sub"].(string)
	role, _ = tokenClaims["role"].(string)
	institutionId, _ = tokenClaims["institution_id"].(string)

	if actorId == "" || !roles.IsValid(role) {
		return "", "", "", errors.New("token carries no usable identity")
	}
	return actorId, role, institutionId, nil
}
