package config

import "time"

type Session struct {
	s *Settings
}

var _ SessionConfig = Session{}

func (c Session) GetTokenSecret() []byte {
	return []byte(c.s.Session.TokenSecret)
}

func (c Session) GetTokenTTL() time.Duration {
	return c.s.Session.TokenTTL
}

func (c Session) GetTokenIssuer() string {
	return c.s.Session.TokenIssuer
}

// GetInactivityThreshold is the idle age after which a session is reaped.
func (c Session) GetInactivityThreshold() time.Duration {
	return c.s.Session.InactivityThreshold
}

func (c Session) GetReaperSchedule() string {
	return c.s.Session.ReaperSchedule
}

func (c Session) GetBcryptCost() int {
	return c.s.Session.BcryptCost
}

func (c Session) GetAdminIdentities() []string {
	return c.s.Session.AdminIdentities
}
