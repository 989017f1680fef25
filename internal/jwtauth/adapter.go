package jwtauth

import (
	"caseguard/internal/platform/middleware"
	id "caseguard/pkg/domain"
)

// JWTServiceAdapter bridges the token service to the middleware contract,
// parsing the string user ID into the typed form exactly once at the edge.
type JWTServiceAdapter struct {
	service *JWTService
}

func NewJWTServiceAdapter(service *JWTService) *JWTServiceAdapter {
	return &JWTServiceAdapter{service: service}
}

func (a *JWTServiceAdapter) ValidateToken(tokenString string) (*middleware.JWTClaims, error) {
	claims, err := a.service.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	userID, err := id.ParseUserID(claims.UserID)
	if err != nil {
		return nil, err
	}
	return &middleware.JWTClaims{
		UserID: userID,
		Admin:  claims.Admin,
	}, nil
}
