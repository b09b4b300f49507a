package template

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSubstitute(t *testing.T) {
	fields := Fields{
		Name:         "Acme Corp",
		Phone:        "+15550100",
		Email:        "hello@acme.com",
		Website:      "acme.com",
		Status:       "New",
		Stage:        "Stage 1",
		BusinessType: "Retail",
		Quality:      "A",
	}

	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "basic replacement",
			in:   "Hi {name}, visit {website}",
			want: "Hi Acme Corp, visit acme.com",
		},
		{
			name: "first name is the first token",
			in:   "Hey {first_name}!",
			want: "Hey Acme!",
		},
		{
			name: "case insensitive",
			in:   "Hi {Name}, is {EMAIL} still current?",
			want: "Hi Acme Corp, is hello@acme.com still current?",
		},
		{
			name: "unknown tokens untouched",
			in:   "Hi {name}, here is {foo} and {signature}",
			want: "Hi Acme Corp, here is {foo} and {signature}",
		},
		{
			name: "all fields",
			in:   "{phone} {status} {stage} {business_type} {quality}",
			want: "+15550100 New Stage 1 Retail A",
		},
		{
			name: "empty text",
			in:   "",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Substitute(tt.in, fields))
		})
	}
}

func TestSubstitute_AbsentFieldsAreEmpty(t *testing.T) {
	got := Substitute("Hi {name}, call {phone}", Fields{})
	require.Equal(t, "Hi , call ", got)
}

func TestSubstitute_Idempotent(t *testing.T) {
	fields := Fields{Name: "Jo Harper", Website: "harper.io"}

	once := Substitute("Hello {name} of {website} {unknown}", fields)
	twice := Substitute(once, fields)
	require.Equal(t, once, twice)
}

func TestFirstName(t *testing.T) {
	require.Equal(t, "Jo", Fields{Name: "Jo Harper"}.FirstName())
	require.Equal(t, "Solo", Fields{Name: "Solo"}.FirstName())
	require.Equal(t, "", Fields{}.FirstName())
	require.Equal(t, "Padded", Fields{Name: "  Padded  Name "}.FirstName())
}
