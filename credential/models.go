package credential

import (
	"fmt"
	"time"

	"escrowflow/apperr"
)

// Skill is the closed set of credential categories issued by the registry.
type Skill string

const (
	SkillSolanaDeveloper     Skill = "solana_developer"
	SkillUIUXDesigner        Skill = "uiux_designer"
	SkillContentWriter       Skill = "content_writer"
	SkillDataAnalyst         Skill = "data_analyst"
	SkillMarketingSpecialist Skill = "marketing_specialist"
	SkillFrontendDeveloper   Skill = "frontend_developer"
)

var skillLabels = map[Skill]string{
	SkillSolanaDeveloper:     "Solana Developer",
	SkillUIUXDesigner:        "UI/UX Designer",
	SkillContentWriter:       "Content Writer",
	SkillDataAnalyst:         "Data Analyst",
	SkillMarketingSpecialist: "Marketing Specialist",
	SkillFrontendDeveloper:   "Frontend Developer",
}

// Label returns the display name, or "" for an unknown skill.
func (s Skill) Label() string {
	return skillLabels[s]
}

// ParseSkill validates a stored or caller-supplied skill name.
func ParseSkill(v string) (Skill, error) {
	s := Skill(v)
	if _, ok := skillLabels[s]; !ok {
		return "", fmt.Errorf("credential: %w: unknown skill %q", apperr.ErrValidation, v)
	}
	return s, nil
}

// Credential is a skill badge held by an identity.
type Credential struct {
	ID        string     `json:"id"`
	Holder    string     `json:"holder"`
	Skill     Skill      `json:"skill"`
	Label     string     `json:"label"`
	Score     int        `json:"score"`
	IsValid   bool       `json:"is_valid"`
	Revoked   bool       `json:"revoked"`
	IssuedAt  time.Time  `json:"issued_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Verification is the outcome of checking a credential at a point in time.
type Verification struct {
	Credential Credential `json:"credential"`
	Valid      bool       `json:"valid"`
	Expired    bool       `json:"expired"`
}

// Verify reports whether c is usable at now: flagged valid, not revoked and
// not past its expiry.
func Verify(c Credential, now time.Time) Verification {
	expired := c.ExpiresAt != nil && now.After(*c.ExpiresAt)
	return Verification{
		Credential: c,
		Valid:      c.IsValid && !c.Revoked && !expired,
		Expired:    expired,
	}
}
