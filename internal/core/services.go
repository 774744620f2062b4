package core

import (
	"github.com/blakemizelle/nationgate/internal/config"
)

type Services struct {
	Installation *InstallationService
	Auth         *AuthService
}

func NewServices(db DB, tokens TokenExchanger, cfg *config.Config, tokenKey []byte) *Services {
	installations := NewInstallationService(db, tokenKey)
	return &Services{
		Installation: installations,
		Auth:         NewAuthService(installations, tokens, cfg),
	}
}
