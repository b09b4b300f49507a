// Package template substitutes lead fields into message text.
//
// The placeholder set is closed: {name}, {first_name}, {phone},
// {email}, {website}, {status}, {stage}, {business_type}, {quality}.
// Matching is case-insensitive; tokens outside the set are left
// untouched, which keeps substitution idempotent.
package template

import (
	"regexp"
	"strings"
)

// Fields are the lead values available for substitution. Absent
// fields substitute to the empty string.
type Fields struct {
	Name         string
	Phone        string
	Email        string
	Website      string
	Status       string
	Stage        string
	BusinessType string
	Quality      string
}

var placeholder = regexp.MustCompile(`(?i)\{(name|first_name|phone|email|website|status|stage|business_type|quality)\}`)

// Substitute replaces every recognized placeholder in text with the
// corresponding field value. {first_name} is the first
// whitespace-delimited token of Name.
func Substitute(text string, f Fields) string {
	if text == "" {
		return text
	}
	return placeholder.ReplaceAllStringFunc(text, func(token string) string {
		key := strings.ToLower(token[1 : len(token)-1])
		switch key {
		case "name":
			return f.Name
		case "first_name":
			return f.FirstName()
		case "phone":
			return f.Phone
		case "email":
			return f.Email
		case "website":
			return f.Website
		case "status":
			return f.Status
		case "stage":
			return f.Stage
		case "business_type":
			return f.BusinessType
		case "quality":
			return f.Quality
		}
		return token
	})
}

// FirstName returns the first whitespace-delimited token of Name.
func (f Fields) FirstName() string {
	parts := strings.Fields(f.Name)
	if len(parts) == 0 {
		return ""
	}
	return parts[0]
}
