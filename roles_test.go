package auth_test

import (
	"testing"

	auth "github.com/goliatone/go-patient-auth"
	"github.com/stretchr/testify/assert"
)

func TestRoleFromMetadata(t *testing.T) {
	assert.Equal(t, auth.RolePatient, auth.RoleFromMetadata(nil))
	assert.Equal(t, auth.RolePatient, auth.RoleFromMetadata(map[string]any{}))
	assert.Equal(t, auth.RolePatient, auth.RoleFromMetadata(map[string]any{"role": ""}))
	assert.Equal(t, auth.RolePatient, auth.RoleFromMetadata(map[string]any{"role": 42}))
	assert.Equal(t, auth.RoleAdmin, auth.RoleFromMetadata(map[string]any{"role": "admin"}))

	unknown := auth.RoleFromMetadata(map[string]any{"role": "auditor"})
	assert.Equal(t, auth.Role("auditor"), unknown)
	assert.False(t, unknown.IsValid())
	assert.False(t, unknown.IsPatient())
}

func TestRoleIsValid(t *testing.T) {
	for _, r := range []auth.Role{auth.RolePatient, auth.RoleAdmin, auth.RoleClinician, auth.RoleStaff} {
		assert.True(t, r.IsValid(), r)
	}
}

func TestPatientProfileFullName(t *testing.T) {
	var nilProfile *auth.PatientProfile
	assert.Equal(t, "", nilProfile.FullName())
	assert.Equal(t, "Ana Silva", (&auth.PatientProfile{Name: "  Ana   Silva "}).FullName())
}

func TestStateDisplayNameGreetsFullName(t *testing.T) {
	assert.Equal(t, "Paciente", auth.State{}.DisplayName())
	assert.Equal(t, "Paciente", auth.State{Profile: &auth.PatientProfile{Name: "  "}}.DisplayName())
	assert.Equal(t, "Ana Maria Silva", auth.State{Profile: &auth.PatientProfile{Name: "Ana Maria Silva"}}.DisplayName())
}

func TestNormalizePhone(t *testing.T) {
	out, err := auth.NormalizePhone("", "BR")
	assert.NoError(t, err)
	assert.Equal(t, "", out)

	out, err = auth.NormalizePhone(" (11) 99999-9999 ", "")
	assert.NoError(t, err)
	assert.Equal(t, "(11) 99999-9999", out, "kept verbatim without a region")

	out, err = auth.NormalizePhone("(11) 98765-4321", "BR")
	assert.NoError(t, err)
	assert.Equal(t, "+5511987654321", out)

	_, err = auth.NormalizePhone("123", "BR")
	assert.Error(t, err)
}
