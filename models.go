package auth

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// BirthDateLayout is the wire format for birth dates
const BirthDateLayout = "2006-01-02"

// PatientProfile is the patient record linked to an identity
type PatientProfile struct {
	bun.BaseModel `bun:"table:patients,alias:pat"`
	ID            uuid.UUID  `bun:"id,pk,type:uuid" json:"id"`
	AuthUserID    string     `bun:"auth_user_id,notnull,unique" json:"auth_user_id"`
	Name          string     `bun:"name,notnull" json:"name"`
	Email         string     `bun:"email,notnull" json:"email"`
	Phone         *string    `bun:"phone" json:"phone,omitempty"`
	BirthDate     *time.Time `bun:"birth_date,type:date" json:"birth_date,omitempty"`
	CreatedAt     time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
}

// FullName returns the patient name with whitespace collapsed
func (p *PatientProfile) FullName() string {
	if p == nil {
		return ""
	}
	return strings.Join(strings.Fields(p.Name), " ")
}

// SignUpPatientInput is what the patient fills in on the sign up form.
// Phone and BirthDate are optional.
type SignUpPatientInput struct {
	Name      string
	Email     string
	Password  string
	Phone     string
	BirthDate *time.Time
}

func (in SignUpPatientInput) profile(identityID string) *PatientProfile {
	p := &PatientProfile{
		ID:         uuid.New(),
		AuthUserID: identityID,
		Name:       strings.TrimSpace(in.Name),
		Email:      strings.TrimSpace(in.Email),
		BirthDate:  in.BirthDate,
	}
	if phone := strings.TrimSpace(in.Phone); phone != "" {
		p.Phone = &phone
	}
	return p
}

func (in SignUpPatientInput) metadata() map[string]any {
	return map[string]any{
		MetadataRoleKey: string(RolePatient),
		MetadataNameKey: strings.TrimSpace(in.Name),
	}
}
